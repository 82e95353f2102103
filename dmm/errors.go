package dmm

import "errors"

// Misuse of a capability is reported by panicking with one of these values.
// They are sentinels so that hosts recovering from a panic (host.Worker does)
// can match them with errors.Is.
var (
	// ErrMutationInactive is raised when a *Mutation is used after the
	// callback that received it has returned.
	ErrMutationInactive = errors.New("dmm: mutation used outside its callback")

	// ErrReentrantEnter is raised when Enter is called while another
	// callback on the same arena is still running.
	ErrReentrantEnter = errors.New("dmm: arena entered reentrantly")

	// ErrCollectInMutation is raised when collection is requested while a
	// mutation callback is active. Handles held on the Go stack are not
	// traced, so collecting there could free live objects.
	ErrCollectInMutation = errors.New("dmm: collection requested inside a mutation callback")

	// ErrNoMutation is raised when a Gc is dereferenced while its arena has
	// no active mutation (for example from a Drop method).
	ErrNoMutation = errors.New("dmm: Gc dereferenced outside a mutation callback")

	// ErrDropped is raised when a Gc whose allocation was already reclaimed
	// is dereferenced.
	ErrDropped = errors.New("dmm: Gc dereferenced after its allocation was dropped")

	// ErrArenaClosed is raised by operations on an arena after Close.
	ErrArenaClosed = errors.New("dmm: arena is closed")

	// ErrForeignPointer is raised when tracing reaches an allocation owned
	// by a different arena.
	ErrForeignPointer = errors.New("dmm: pointer into a different arena")
)

// Errors returned by dynamic root fetches.
var (
	ErrTypeMismatch      = errors.New("dmm: dynamic root type mismatch")
	ErrRootReleased      = errors.New("dmm: dynamic root was released")
	ErrMismatchedRootSet = errors.New("dmm: dynamic root belongs to a different arena")
)
