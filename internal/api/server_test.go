package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"key-chat/relay-gateway/internal/config"
	"key-chat/relay-gateway/internal/crypto"
	"key-chat/relay-gateway/internal/gateway"
	"key-chat/relay-gateway/internal/identity"
	"key-chat/relay-gateway/internal/ledger"
	"key-chat/relay-gateway/internal/metrics"
	"key-chat/relay-gateway/internal/platform/ratelimiter"
	"key-chat/relay-gateway/internal/store"
)

type apiFixture struct {
	ts       *httptest.Server
	ledger   *ledger.MemoryLedger
	store    *store.MemoryStore
	feePayer *identity.Identity
}

func newAPIFixture(t *testing.T, mutate func(*config.Config)) *apiFixture {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimitPoints = 100
	if mutate != nil {
		mutate(&cfg)
	}

	log := slog.New(slog.DiscardHandler)
	feePayer, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate fee payer: %v", err)
	}
	s := store.NewMemoryStore()
	l := ledger.NewMemoryLedger()
	l.Fund(feePayer.Address(), 10_000_000)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	verifier := gateway.NewVerifier(cfg.AuthFreshnessWindow)

	srv := NewServer(cfg, Deps{
		Verifier:        verifier,
		Quota:           ratelimiter.NewWindow(cfg.RateLimitPoints, cfg.RateLimitDuration),
		Spending:        gateway.NewSpendingGuard(s, cfg.DailyCapLamports, cfg.EstimatePerTx, cfg.SpendingFailOpen, log),
		Relay:           gateway.NewRelay(s, l, feePayer, m, log),
		Inbox:           gateway.NewInboxReader(l, s, m, log),
		Blocklist:       gateway.NewBlocklist(s),
		Usernames:       gateway.NewUsernames(s, verifier),
		Avatars:         gateway.NewAvatars(s),
		Groups:          gateway.NewGroups(s, verifier),
		Ledger:          l,
		Store:           s,
		FeePayerAddress: feePayer.Address(),
		Metrics:         m,
		Registry:        registry,
		Log:             log,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &apiFixture{ts: ts, ledger: l, store: s, feePayer: feePayer}
}

func (f *apiFixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	return resp
}

func signedRelayBody(sender *identity.Identity, recipient, ciphertext string) map[string]any {
	ts := time.Now().UnixMilli()
	canonical := "relay:" + recipient + ":" + fmt.Sprintf("%d", ts)
	return map[string]any{
		"ciphertext":      ciphertext,
		"recipientPubkey": recipient,
		"senderPubkey":    sender.Address(),
		"signature":       crypto.SignatureToBase64(sender.Sign([]byte(canonical))),
		"timestamp":       ts,
	}
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRelayEndpointHappyPath(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()

	resp := f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out map[string]string
	decodeJSON(t, resp, &out)
	if out["signature"] == "" {
		t.Fatal("missing transaction signature in response")
	}

	// the message is visible in the recipient's inbox
	resp = f.get(t, "/api/inbox/"+bob.Address())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inbox status %d", resp.StatusCode)
	}
	var inbox struct {
		Messages []gateway.EncryptedRecord `json:"messages"`
	}
	decodeJSON(t, resp, &inbox)
	if len(inbox.Messages) != 1 || inbox.Messages[0].Payload != "aGVsbG8=" {
		t.Fatalf("unexpected inbox: %+v", inbox.Messages)
	}
}

func TestInboxSinceEchoesRecordTimestamp(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()

	base := time.Unix(1_700_000_000, 0)
	current := base
	f.ledger.Clock = func() time.Time { return current }

	resp := f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "Zmlyc3Q="))
	resp.Body.Close()
	current = base.Add(time.Minute)
	resp = f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "c2Vjb25k"))
	resp.Body.Close()

	resp = f.get(t, "/api/inbox/"+bob.Address())
	var inbox struct {
		Messages []gateway.EncryptedRecord `json:"messages"`
	}
	decodeJSON(t, resp, &inbox)
	if len(inbox.Messages) != 2 {
		t.Fatalf("expected 2 records, got %d", len(inbox.Messages))
	}

	// a client polls by echoing the last timestamp it saw, in unix seconds;
	// that record must not come back
	since := strconv.FormatInt(inbox.Messages[0].Timestamp, 10)
	resp = f.get(t, "/api/inbox/"+bob.Address()+"?since="+since)
	decodeJSON(t, resp, &inbox)
	if len(inbox.Messages) != 1 || inbox.Messages[0].Payload != "c2Vjb25k" {
		t.Fatalf("since round trip should leave only the newer record, got %+v", inbox.Messages)
	}
}

func TestRelayEndpointRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()

	body := signedRelayBody(alice, bob.Address(), "aGVsbG8=")
	body["signature"] = crypto.SignatureToBase64(alice.Sign([]byte("something else")))
	resp := f.postJSON(t, "/api/relay", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRelayEndpointQuotaExhaustion(t *testing.T) {
	f := newAPIFixture(t, func(cfg *config.Config) {
		cfg.RateLimitPoints = 2
		cfg.RateLimitDuration = time.Hour
	})
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()

	for i := 0; i < 2; i++ {
		resp := f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("relay %d should pass, got %d", i+1, resp.StatusCode)
		}
	}

	resp := f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
	var out struct {
		Error struct {
			Kind         string `json:"kind"`
			RetryAfterMs int64  `json:"retryAfterMs"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &out)
	if out.Error.Kind != string(gateway.KindRateLimit) || out.Error.RetryAfterMs <= 0 {
		t.Fatalf("unexpected error body: %+v", out.Error)
	}

	// another identity still has its own allowance
	carol, _ := identity.Generate()
	resp = f.postJSON(t, "/api/relay", signedRelayBody(carol, bob.Address(), "aGVsbG8="))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("other identity should pass, got %d", resp.StatusCode)
	}
}

func TestRelayEndpointSpendingCap(t *testing.T) {
	f := newAPIFixture(t, func(cfg *config.Config) {
		cfg.DailyCapLamports = 10_000
		cfg.EstimatePerTx = 5000
	})
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()

	for i := 0; i < 2; i++ {
		resp := f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("relay %d should pass, got %d", i+1, resp.StatusCode)
		}
	}

	resp := f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	var out struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &out)
	if out.Error.Kind != string(gateway.KindSpendingCap) {
		t.Fatalf("expected spending cap kind, got %s", out.Error.Kind)
	}
}

func TestBlockEndpointsAndRelayRejection(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()

	resp := f.postJSON(t, "/api/block", map[string]string{
		"blockerPubkey": bob.Address(),
		"blockedPubkey": alice.Address(),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("block status %d", resp.StatusCode)
	}

	resp = f.get(t, "/api/block/check?blocker="+bob.Address()+"&blocked="+alice.Address())
	var check map[string]bool
	decodeJSON(t, resp, &check)
	if !check["isBlocked"] {
		t.Fatal("check should report blocked")
	}

	resp = f.get(t, "/api/block/list/"+bob.Address())
	var list struct {
		BlockedUsers []string `json:"blockedUsers"`
	}
	decodeJSON(t, resp, &list)
	if len(list.BlockedUsers) != 1 || list.BlockedUsers[0] != alice.Address() {
		t.Fatalf("blocked list: %v", list.BlockedUsers)
	}

	// relay from the blocked sender is rejected with 403
	resp = f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked sender, got %d", resp.StatusCode)
	}

	// DELETE /api/block removes the edge
	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/block", strings.NewReader(
		`{"blockerPubkey":"`+bob.Address()+`","blockedPubkey":"`+alice.Address()+`"}`))
	req.Header.Set("Content-Type", "application/json")
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("unblock status %d", delResp.StatusCode)
	}
	resp = f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relay after unblock should pass, got %d", resp.StatusCode)
	}
}

func TestUsernameEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := identity.Generate()
	ts := time.Now().UnixMilli()
	encKey := crypto.PublicKeyToBase58(alice.EncryptionPublic[:])

	resp := f.get(t, "/api/username/alice_01/check")
	var avail map[string]bool
	decodeJSON(t, resp, &avail)
	if !avail["available"] {
		t.Fatal("fresh handle should be available")
	}

	resp = f.postJSON(t, "/api/username/register", map[string]any{
		"username":      "alice_01",
		"ownerPubkey":   alice.Address(),
		"encryptionKey": encKey,
		"signature":     crypto.SignatureToBase64(alice.Sign([]byte(gateway.CanonicalRegisterMessage("alice_01", ts)))),
		"timestamp":     ts,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status %d", resp.StatusCode)
	}

	resp = f.get(t, "/api/username/alice_01")
	var rec gateway.NameRecord
	decodeJSON(t, resp, &rec)
	if rec.OwnerPubkey != alice.Address() || rec.EncryptionKey != encKey {
		t.Fatalf("lookup mismatch: %+v", rec)
	}

	resp = f.get(t, "/api/username/nobody_here")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown handle, got %d", resp.StatusCode)
	}
}

func TestGroupEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)
	owner, _ := identity.Generate()
	member, _ := identity.Generate()
	ts := time.Now().UnixMilli()

	resp := f.postJSON(t, "/api/groups/create", map[string]any{
		"name":        "climbers",
		"ownerPubkey": owner.Address(),
		"signature":   crypto.SignatureToBase64(owner.Sign([]byte(gateway.CanonicalGroupCreateMessage("climbers", ts)))),
		"timestamp":   ts,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var group gateway.Group
	decodeJSON(t, resp, &group)
	if group.GroupID == "" {
		t.Fatal("missing group id")
	}

	resp = f.postJSON(t, "/api/groups/invite", map[string]any{
		"groupId":      group.GroupID,
		"memberPubkey": member.Address(),
		"ownerPubkey":  owner.Address(),
		"signature":    crypto.SignatureToBase64(owner.Sign([]byte(gateway.CanonicalGroupInviteMessage(group.GroupID, member.Address(), ts)))),
		"timestamp":    ts,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invite status %d", resp.StatusCode)
	}

	resp = f.get(t, "/api/groups/"+group.GroupID)
	var detail struct {
		Group   gateway.Group `json:"group"`
		Members []string      `json:"members"`
	}
	decodeJSON(t, resp, &detail)
	if len(detail.Members) != 2 {
		t.Fatalf("expected 2 members, got %v", detail.Members)
	}

	resp = f.get(t, "/api/groups/user/"+member.Address())
	var userGroups struct {
		Groups []gateway.Group `json:"groups"`
	}
	decodeJSON(t, resp, &userGroups)
	if len(userGroups.Groups) != 1 || userGroups.Groups[0].GroupID != group.GroupID {
		t.Fatalf("user groups: %+v", userGroups.Groups)
	}
}

func TestHealthAndConfigEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp := f.get(t, "/health")
	var health map[string]any
	decodeJSON(t, resp, &health)
	if health["status"] != "ok" {
		t.Fatalf("health: %v", health)
	}
	if _, ok := health["feePayerBalance"]; !ok {
		t.Fatal("health should report the fee payer balance")
	}

	resp = f.get(t, "/api/config")
	var cfg map[string]any
	decodeJSON(t, resp, &cfg)
	if cfg["network"] != "devnet" {
		t.Fatalf("config network: %v", cfg["network"])
	}
	if cfg["rateLimit"] == "" {
		t.Fatal("config should describe the rate limit policy")
	}
	if cfg["feePayer"] != f.feePayer.Address() {
		t.Fatalf("config fee payer: %v", cfg["feePayer"])
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	f := newAPIFixture(t, nil)
	alice, _ := identity.Generate()
	bob, _ := identity.Generate()
	resp := f.postJSON(t, "/api/relay", signedRelayBody(alice, bob.Address(), "aGVsbG8="))
	resp.Body.Close()

	resp = f.get(t, "/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "relay_gateway_relay_requests_total") {
		t.Fatal("relay counter missing from metrics exposition")
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp, err := http.Post(f.ts.URL+"/api/relay", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
