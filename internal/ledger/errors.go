package ledger

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind classifies a ledger failure. The registration protocol's
// rollback policy depends on this three-way split: Generic and
// Conflict mean the transaction definitely did not commit, Timeout
// means the outcome is unknown and local state must not be rolled
// back.
type Kind int

const (
	// KindGeneric is a definite ledger-side failure.
	KindGeneric Kind = iota

	// KindTimeout covers deadline expiry and ledger unavailability
	// alike: the transaction may still commit asynchronously.
	KindTimeout

	// KindConflict means the target key already exists on-chain.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConflict:
		return "conflict"
	default:
		return "generic"
	}
}

// Error is a classified ledger failure. Conflict errors carry the
// conflicting on-chain key.
type Error struct {
	Kind   Kind
	Msg    string
	PKHash string
	Status int // HTTP status from the gateway, 0 for transport errors
}

func (e *Error) Error() string {
	if e.Kind == KindConflict && e.PKHash != "" {
		return fmt.Sprintf("ledger %s: key %s: %s", e.Kind, e.PKHash, e.Msg)
	}
	return fmt.Sprintf("ledger %s: %s", e.Kind, e.Msg)
}

// IsTimeout reports whether err is a ledger timeout.
func IsTimeout(err error) bool {
	var lerr *Error
	return errors.As(err, &lerr) && lerr.Kind == KindTimeout
}

// IsConflict reports whether err is a ledger key conflict.
func IsConflict(err error) bool {
	var lerr *Error
	return errors.As(err, &lerr) && lerr.Kind == KindConflict
}

// AsError extracts the classified ledger error, if any.
func AsError(err error) (*Error, bool) {
	var lerr *Error
	ok := errors.As(err, &lerr)
	return lerr, ok
}

// pkhashPattern matches a content-hash key inside a chaincode error
// message, e.g. "... already exists with key <hash>".
var pkhashPattern = regexp.MustCompile(`[0-9a-f]{64}`)

// extractKey pulls the conflicting key out of a chaincode message.
func extractKey(msg string) string {
	return pkhashPattern.FindString(msg)
}
