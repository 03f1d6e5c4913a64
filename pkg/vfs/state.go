package vfs

import "github.com/google/uuid"

// Verifier is the opaque value a client supplies with an exclusive create.
// The adapter embeds it in the created object's timestamps so that a
// retried create of the same name can be recognized and treated as
// idempotent rather than failed with "already exists".
type Verifier [8]byte

// IsZero reports whether the verifier is all zeroes.
func (v Verifier) IsZero() bool {
	return v == Verifier{}
}

// StateType classifies an open-state token. The adapter only distinguishes
// share-tracking types (whose close must release reservation counters)
// from the rest.
type StateType uint8

const (
	// StateNone marks a token that tracks nothing.
	StateNone StateType = iota

	// StateShare is a protocol share-reservation open.
	StateShare

	// StateNLMShare is a share reservation taken through the lock
	// manager side protocol.
	StateNLMShare

	// StateFID is a file-identifier open from handle-oriented protocols.
	StateFID

	// StateLock is a byte-range lock state (no share tracking here).
	StateLock

	// StateDelegation is a delegation state (no share tracking here).
	StateDelegation
)

// TracksShare reports whether closing a token of this type must release
// the share-reservation counters it took at open.
func (t StateType) TracksShare() bool {
	switch t {
	case StateShare, StateNLMShare, StateFID:
		return true
	default:
		return false
	}
}

// OpenState identifies a caller's session-scoped open. The adapter keys
// share-reservation updates to the token's presence (stateful open) versus
// absence (stateless one-shot open); the token itself is owned and
// persisted by the protocol server.
type OpenState struct {
	ID   uuid.UUID
	Type StateType
}

// IOInfo is the opaque descriptor of a per-I/O protocol extension
// (sparse-read content classes, write-same patterns). The adapter
// implements none of these; any read or write carrying a non-nil IOInfo
// fails with StatusNotSupported.
type IOInfo struct{}

// NewOpenState mints a share-tracking token. Outside tests the protocol
// server usually supplies its own.
func NewOpenState(t StateType) *OpenState {
	return &OpenState{ID: uuid.New(), Type: t}
}
