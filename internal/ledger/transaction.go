package ledger

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/mr-tron/base58"

	"key-chat/relay-gateway/internal/crypto"
)

var (
	ErrNotSigned      = errors.New("transaction is not signed")
	ErrBadTransaction = errors.New("malformed transaction")
)

const transactionVersion = 1

// Transaction is a minimal-value transfer from the fee payer to the
// recipient carrying the relay payload in its memo field. The fee payer is
// the required signer; the message author authenticated the relay request,
// not the transaction itself.
type Transaction struct {
	FeePayer  string // base58 signing pubkey of the cosigning wallet
	Recipient string // base58 signing pubkey of the addressee
	Lamports  uint64
	Memo      []byte // "<senderBase58>|<payload>"
	Timestamp int64  // unix seconds, set by the builder
	Nonce     [8]byte

	signature []byte
}

// Message returns the canonical byte encoding covered by the signature.
// Fields are length-prefixed so no two field combinations share an encoding.
func (t *Transaction) Message() []byte {
	buf := make([]byte, 0, 64+len(t.Memo))
	buf = append(buf, transactionVersion)
	buf = appendBytes(buf, []byte(t.FeePayer))
	buf = appendBytes(buf, []byte(t.Recipient))
	buf = binary.BigEndian.AppendUint64(buf, t.Lamports)
	buf = appendBytes(buf, t.Memo)
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Timestamp))
	buf = append(buf, t.Nonce[:]...)
	return buf
}

// Sign attaches the fee payer's detached signature. Signing only reads the
// key, so a shared fee-payer identity is safe under concurrent relays.
func (t *Transaction) Sign(key ed25519.PrivateKey) {
	t.signature = crypto.Sign(t.Message(), key)
}

// SignWith attaches a signature from anything that can produce a detached
// signature, typically an identity.Identity.
func (t *Transaction) SignWith(signer interface{ Sign(msg []byte) []byte }) {
	t.signature = signer.Sign(t.Message())
}

// Verify checks the attached signature against the fee payer's pubkey.
func (t *Transaction) Verify() bool {
	if len(t.signature) != ed25519.SignatureSize {
		return false
	}
	pub, err := crypto.PublicKeyFromBase58(t.FeePayer)
	if err != nil {
		return false
	}
	return crypto.VerifyDetached(t.Message(), t.signature, pub)
}

// Reference is the transaction's ledger reference: the base58 signature.
func (t *Transaction) Reference() (string, error) {
	if len(t.signature) == 0 {
		return "", ErrNotSigned
	}
	return base58.Encode(t.signature), nil
}

// Encode serializes message plus signature for submission over the wire.
func (t *Transaction) Encode() ([]byte, error) {
	if len(t.signature) != ed25519.SignatureSize {
		return nil, ErrNotSigned
	}
	msg := t.Message()
	out := make([]byte, 0, len(msg)+ed25519.SignatureSize)
	out = append(out, t.signature...)
	out = append(out, msg...)
	return out, nil
}

// Decode parses the wire form produced by Encode.
func Decode(raw []byte) (*Transaction, error) {
	if len(raw) < ed25519.SignatureSize+1 {
		return nil, ErrBadTransaction
	}
	t := &Transaction{signature: append([]byte(nil), raw[:ed25519.SignatureSize]...)}
	msg := raw[ed25519.SignatureSize:]
	if msg[0] != transactionVersion {
		return nil, ErrBadTransaction
	}
	rest := msg[1:]
	var field []byte
	var ok bool
	if field, rest, ok = readBytes(rest); !ok {
		return nil, ErrBadTransaction
	}
	t.FeePayer = string(field)
	if field, rest, ok = readBytes(rest); !ok {
		return nil, ErrBadTransaction
	}
	t.Recipient = string(field)
	if len(rest) < 8 {
		return nil, ErrBadTransaction
	}
	t.Lamports = binary.BigEndian.Uint64(rest)
	rest = rest[8:]
	if field, rest, ok = readBytes(rest); !ok {
		return nil, ErrBadTransaction
	}
	t.Memo = append([]byte(nil), field...)
	if len(rest) != 8+len(t.Nonce) {
		return nil, ErrBadTransaction
	}
	t.Timestamp = int64(binary.BigEndian.Uint64(rest))
	copy(t.Nonce[:], rest[8:])
	return t, nil
}

func appendBytes(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

func readBytes(buf []byte) (field, rest []byte, ok bool) {
	if len(buf) < 4 {
		return nil, nil, false
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, false
	}
	return buf[:n], buf[n:], true
}
