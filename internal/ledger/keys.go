package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// PrivateKey wraps ed25519 private key bytes.
type PrivateKey []byte

// PublicKeyHex returns the hex-encoded public half.
func (k PrivateKey) PublicKeyHex() string {
	pub := ed25519.PrivateKey(k).Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

// PrivateKeyFromHex decodes an ed25519 private key (or 32-byte seed)
// from hex.
func PrivateKeyFromHex(s string) (PrivateKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
	case ed25519.PrivateKeySize:
		return PrivateKey(raw), nil
	default:
		return nil, errors.New("private key must be 32 or 64 bytes")
	}
}

// signingBody holds the transfer fields covered by the signature.
type signingBody struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Mint     string `json:"mint"`
	Amount   uint64 `json:"amount"`
	Memo     string `json:"memo,omitempty"`
	SignedAt int64  `json:"signed_at"`
}

// Sign computes and sets the transfer signature.
func (t *Transfer) Sign(priv PrivateKey) error {
	body := signingBody{From: t.From, To: t.To, Mint: t.Mint, Amount: t.Amount, Memo: t.Memo, SignedAt: t.SignedAt}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	t.Signature = hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
	return nil
}

// VerifySignature checks the transfer signature against a hex-encoded
// public key. Used by tests and by the node stub.
func (t *Transfer) VerifySignature(pubHex string) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(t.Signature)
	if err != nil {
		return false
	}
	body := signingBody{From: t.From, To: t.To, Mint: t.Mint, Amount: t.Amount, Memo: t.Memo, SignedAt: t.SignedAt}
	data, err := json.Marshal(body)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
