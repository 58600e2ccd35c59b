package identity

import (
	"errors"
	"fmt"
	"strings"
)

// #region errors
var (
	// ErrInvalidOffset is matched by every *InvalidOffsetError.
	ErrInvalidOffset = errors.New("invalid genesis offset")
	// ErrDegenerateQuadratic means the derived a coefficient is zero.
	ErrDegenerateQuadratic = errors.New("degenerate quadratic: a == 0")
	// ErrAlreadyLocked is returned by a second Lock.
	ErrAlreadyLocked = errors.New("genesis record already locked")
	// ErrTampered is matched by every *TamperError.
	ErrTampered = errors.New("genesis record tampered")
	// ErrOwnershipMismatch means an ownership proof did not re-derive.
	ErrOwnershipMismatch = errors.New("ownership proof mismatch")
	// ErrBadSeal means a genesis seal signature did not verify.
	ErrBadSeal = errors.New("genesis seal invalid")
)

// InvalidOffsetError reports an offset outside [0, Max).
type InvalidOffsetError struct {
	Offset int
	Max    int
}

func (e *InvalidOffsetError) Error() string {
	return fmt.Sprintf("invalid genesis offset %d: must be in [0, %d)", e.Offset, e.Max)
}

func (e *InvalidOffsetError) Is(target error) bool { return target == ErrInvalidOffset }

// TamperError lists every field that failed re-derivation.
type TamperError struct {
	Mismatches []Mismatch
	Reason     string
}

func (e *TamperError) Error() string {
	fields := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		fields[i] = m.Field
	}
	if len(fields) == 0 {
		return fmt.Sprintf("genesis record tampered: %s", e.Reason)
	}
	return fmt.Sprintf("genesis record tampered: %s", strings.Join(fields, ", "))
}

func (e *TamperError) Is(target error) bool { return target == ErrTampered }

// #endregion errors
