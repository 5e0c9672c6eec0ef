package memberlist

import (
	"errors"
	"fmt"

	"github.com/42wim/membersync/bridge"
)

type ChangeKind int

const (
	// ChangeReload means the whole list must be redrawn.
	ChangeReload ChangeKind = iota
	// ChangeRemoved carries the positions of removed rows, highest first.
	ChangeRemoved
	// ChangeRow means only the row of UserID needs a redraw.
	ChangeRow
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReload:
		return "reload"
	case ChangeRemoved:
		return "removed"
	case ChangeRow:
		return "row"
	}

	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

type Change struct {
	Kind      ChangeKind
	Positions []int
	UserID    string
}

type PaginationState int

const (
	PaginationHasMore PaginationState = iota
	PaginationExhausted
	PaginationRetry
)

func (p PaginationState) String() string {
	switch p {
	case PaginationHasMore:
		return "has-more"
	case PaginationExhausted:
		return "exhausted"
	case PaginationRetry:
		return "retry"
	}

	return fmt.Sprintf("PaginationState(%d)", int(p))
}

type TerminateReason int

const (
	TerminateStopped TerminateReason = iota
	TerminateServerDisbanded
	TerminateChannelDisbanded
	TerminateRemovedFromServer
	TerminateRemovedFromChannel
	TerminateLeftServer
	TerminateLeftChannel
)

// Notice is the text shown to the user when the screen closes.
func (r TerminateReason) Notice() string {
	switch r {
	case TerminateServerDisbanded:
		return "the server was disbanded"
	case TerminateChannelDisbanded:
		return "the channel was disbanded"
	case TerminateRemovedFromServer:
		return "you were removed from the server"
	case TerminateRemovedFromChannel:
		return "you were removed from the channel"
	case TerminateLeftServer:
		return "you left the server"
	case TerminateLeftChannel:
		return "you left the channel"
	}

	return "session closed"
}

func (r TerminateReason) String() string {
	return r.Notice()
}

// Listener receives the Controller's notifications. All methods are
// called from the Controller's loop goroutine and must not block for long.
type Listener interface {
	ListChanged(change Change)
	PaginationChanged(state PaginationState)
	FetchFailed(err error)
	SessionTerminated(reason TerminateReason)
}

var ErrRoleUnresolved = errors.New("role not resolved")

// FetchError wraps a failed page or mute list fetch.
type FetchError struct {
	Op    string
	Scope bridge.Scope
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Scope, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
