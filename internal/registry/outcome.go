package registry

// Status is the terminal (or pending) state of a registration attempt.
type Status int

const (
	// StatusValidated: the ledger transaction committed and the local
	// record is confirmed.
	StatusValidated Status = iota

	// StatusPending: the ledger did not answer within its deadline.
	// The local record is retained unvalidated and the reconciler will
	// settle it later.
	StatusPending

	// StatusConflict: content with the same pkhash already exists,
	// locally or on-chain. The outcome carries the existing key.
	StatusConflict

	// StatusInvalid: the request failed validation before any state
	// was touched.
	StatusInvalid

	// StatusError: a definite failure. No local record survives.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusValidated:
		return "validated"
	case StatusPending:
		return "pending"
	case StatusConflict:
		return "conflict"
	case StatusInvalid:
		return "invalid"
	default:
		return "error"
	}
}

// Outcome is the tagged result of a registration. Exactly one of the
// five statuses applies; Err is set for Conflict, Invalid and Error.
type Outcome struct {
	Status Status

	// PKHash is the content key. On Conflict it is the key of the
	// already-existing asset.
	PKHash string

	// Data is the merged asset view: ledger-returned fields overlaid
	// with local record fields. Set on Validated and Pending.
	Data map[string]any

	Err error
}
