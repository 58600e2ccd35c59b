package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// #region seal
// Seal is an Ed25519 signature over a genesis record. It backs any real
// authority claim about a record; the derivation itself proves nothing about
// who holds it.
type Seal struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// SealRecord signs the canonical JSON of rec.
func SealRecord(rec GenesisRecord, key ed25519.PrivateKey) (Seal, error) {
	if len(key) != ed25519.PrivateKeySize {
		return Seal{}, fmt.Errorf("seal genesis: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	msg, err := json.Marshal(rec)
	if err != nil {
		return Seal{}, fmt.Errorf("seal genesis: marshal: %w", err)
	}
	pub := key.Public().(ed25519.PublicKey)
	return Seal{
		PublicKey: hex.EncodeToString(pub),
		Signature: hex.EncodeToString(ed25519.Sign(key, msg)),
	}, nil
}

// VerifySeal checks s against rec.
func VerifySeal(rec GenesisRecord, s Seal) error {
	pub, err := hex.DecodeString(s.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed public key", ErrBadSeal)
	}
	sig, err := hex.DecodeString(s.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrBadSeal)
	}
	msg, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("verify seal: marshal: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSeal
	}
	return nil
}

// #endregion seal
