// Package digits provides the read-only decimal digit sequences that subject
// identities are derived from.
package digits

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
)

// #region source
// WindowReserve is the tail of every source that offsets may not start in,
// so that the coefficient and rotation windows never need to wrap.
const WindowReserve = 100

// MinLength is the shortest digit sequence a Static source accepts.
const MinLength = 1000

// Source is a fixed, versioned, read-only digit sequence.
type Source interface {
	Version() string
	Len() int
	// Window returns n digits starting at offset, wrapping past the end.
	Window(offset, n int) string
	Checksum() string
}

// MaxOffset returns the exclusive upper bound for genesis offsets in src.
func MaxOffset(src Source) int {
	return src.Len() - WindowReserve
}

// #endregion source

// #region static
// Static is an immutable in-memory digit sequence.
type Static struct {
	version  string
	digits   string
	checksum string
}

// NewStatic validates digits and wraps them as a Source.
func NewStatic(version, digits string) (*Static, error) {
	if version == "" {
		return nil, fmt.Errorf("digit source: empty version")
	}
	if len(digits) < MinLength {
		return nil, fmt.Errorf("digit source %s: length %d below minimum %d", version, len(digits), MinLength)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return nil, fmt.Errorf("digit source %s: non-digit %q at %d", version, digits[i], i)
		}
	}
	sum := sha256.Sum256([]byte(digits))
	return &Static{
		version:  version,
		digits:   digits,
		checksum: hex.EncodeToString(sum[:]),
	}, nil
}

func (s *Static) Version() string  { return s.version }
func (s *Static) Len() int         { return len(s.digits) }
func (s *Static) Checksum() string { return s.checksum }

// Window returns n digits at offset. Negative offsets are taken modulo the
// sequence length.
func (s *Static) Window(offset, n int) string {
	l := len(s.digits)
	if n <= 0 {
		return ""
	}
	start := ((offset % l) + l) % l
	if start+n <= l {
		return s.digits[start : start+n]
	}
	buf := make([]byte, 0, n)
	for len(buf) < n {
		take := min(n-len(buf), l-start)
		buf = append(buf, s.digits[start:start+take]...)
		start = 0
	}
	return string(buf)
}

// #endregion static

// #region pi
// PiVersion identifies the embedded public digit asset.
const PiVersion = "pi-10000-v1"

//go:embed pi_10000.txt
var piDigits string

// Pi returns the public source: the first 10 000 fractional digits of pi.
func Pi() *Static {
	s, err := NewStatic(PiVersion, piDigits)
	if err != nil {
		panic(fmt.Sprintf("embedded pi digits: %v", err))
	}
	return s
}

// #endregion pi
