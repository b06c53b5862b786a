package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Client talks JSON-RPC 2.0 to a ledger node. Method names follow the node's
// namespace; everything else about the ledger stays opaque.
type Client struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Uint64
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger rpc: unexpected status %d", resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}
	if parsed.Error != nil {
		return parsed.Error
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(parsed.Result, result)
}

func (c *Client) Submit(ctx context.Context, tx *Transaction) (string, error) {
	encoded, err := tx.Encode()
	if err != nil {
		return "", err
	}
	var reference string
	err = c.call(ctx, "ledger_submitTransaction",
		[]string{base64.StdEncoding.EncodeToString(encoded)}, &reference)
	if err != nil {
		// A deadline here is an unknown outcome, not a definite failure;
		// the wrapped context error lets callers tell the two apart.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("%w: %w", ErrSubmitFailed, err)
		}
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	return reference, nil
}

func (c *Client) TransactionsTo(ctx context.Context, recipient string, since time.Time) ([]ConfirmedTransaction, error) {
	params := struct {
		Recipient string `json:"recipient"`
		Since     int64  `json:"since"`
	}{Recipient: recipient, Since: since.Unix()}
	var txs []ConfirmedTransaction
	if err := c.call(ctx, "ledger_transactionsTo", params, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) Balance(ctx context.Context, account string) (uint64, error) {
	var balance uint64
	if err := c.call(ctx, "ledger_getBalance", []string{account}, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (c *Client) Height(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "ledger_getHeight", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}
