package digits

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// #region keyed
// blockBytes stays well under the HKDF-SHA256 output limit of 255*32 bytes.
const blockBytes = 4096

// NewKeyed derives a digit sequence of the given length from secret with
// HKDF-SHA256. Bytes >= 250 are discarded so every digit is uniform. The
// version embeds a short fingerprint of the derived digits, never the secret.
func NewKeyed(secret, salt []byte, info string, length int) (*Static, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("keyed digit source: empty secret")
	}
	if length < MinLength {
		return nil, fmt.Errorf("keyed digit source: length %d below minimum %d", length, MinLength)
	}
	prk := hkdf.Extract(sha256.New, secret, salt)

	out := make([]byte, 0, length)
	buf := make([]byte, blockBytes)
	for block := uint32(0); len(out) < length; block++ {
		blockInfo := make([]byte, len(info)+4)
		copy(blockInfo, info)
		binary.BigEndian.PutUint32(blockInfo[len(info):], block)

		r := hkdf.Expand(sha256.New, prk, blockInfo)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("keyed digit source: expand block %d: %w", block, err)
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == length {
				break
			}
		}
	}

	fp := sha256.Sum256(out)
	return NewStatic(fmt.Sprintf("hkdf-%d-%x", length, fp[:4]), string(out))
}

// #endregion keyed
