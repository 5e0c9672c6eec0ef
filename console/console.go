package console

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/42wim/membersync/bridge"
	"github.com/42wim/membersync/memberlist"
	"github.com/sirupsen/logrus"
)

var logger = logrus.NewEntry(logrus.StandardLogger()).WithField("prefix", "console")

func SetLogger(l *logrus.Entry) {
	logger = l
}

// Session is the part of memberlist.Controller the console drives.
type Session interface {
	Scope() bridge.Scope
	Refresh() bool
	LoadMore() bool
	Members() []bridge.Member
	IsMuted(userID string) bool
	CanManage(userID string) bool
	Exhausted() bool
	OnKick(userID string)
	OnMute(userID string, seconds *int64)
	OnRoleChange(userID string, role bridge.Role)
}

// Backend performs the member menu actions against the chat SDK.
type Backend interface {
	CurrentUser() string
	Kick(scope bridge.Scope, userID, initiator string) error
	Leave(scope bridge.Scope, userID string) error
	Destroy(scope bridge.Scope, initiator string) error
	Mute(scope bridge.Scope, userID string, d time.Duration) error
	Unmute(scope bridge.Scope, userID string) error
	SetRole(serverID, userID string, role bridge.Role) error
	Publish(event *bridge.Event)
}

type StatusReader interface {
	Status(userID string) string
}

type NameReader interface {
	DisplayName(userID string) string
}

type Options struct {
	Backend  Backend
	Presence StatusReader
	Names    NameReader
	Out      io.Writer
	Width    int
}

// Console is a line oriented member list screen. It implements
// memberlist.Listener so it can be handed to the controller it drives.
type Console struct {
	session  Session
	backend  Backend
	presence StatusReader
	names    NameReader

	widthMutex sync.RWMutex
	width      int

	outMutex sync.Mutex
	out      io.Writer

	quit       bool
	terminated chan memberlist.TerminateReason
}

func New(opts Options) *Console {
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}

	return &Console{
		backend:    opts.Backend,
		presence:   opts.Presence,
		names:      opts.Names,
		width:      width,
		out:        opts.Out,
		terminated: make(chan memberlist.TerminateReason, 1),
	}
}

// SetWidth changes the screen width used for new rows.
func (c *Console) SetWidth(width int) {
	if width <= 0 {
		width = DefaultWidth
	}

	c.widthMutex.Lock()
	defer c.widthMutex.Unlock()

	c.width = width
}

func (c *Console) screenWidth() int {
	c.widthMutex.RLock()
	defer c.widthMutex.RUnlock()

	return c.width
}

// Attach sets the session the commands act on. It must be called before Run.
func (c *Console) Attach(session Session) {
	c.session = session
}

func (c *Console) printf(format string, args ...interface{}) {
	c.outMutex.Lock()
	defer c.outMutex.Unlock()

	fmt.Fprintf(c.out, format+"\n", args...)
}

// Run reads commands from in until quit, end of input or until the
// session is terminated. Callers stop the controller afterwards.
func (c *Console) Run(in io.Reader) memberlist.TerminateReason {
	lines := make(chan string)
	stop := make(chan struct{})

	defer close(stop)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Errorf("reading input: %s", err)
		}
	}()

	c.printf("%s (%s)", c.session.Scope().Title(), c.session.Scope())

	for {
		select {
		case reason := <-c.terminated:
			return reason
		case line, ok := <-lines:
			if !ok {
				return memberlist.TerminateStopped
			}

			c.handle(line)

			if c.quit {
				return memberlist.TerminateStopped
			}
		}
	}
}

func (c *Console) ListChanged(change memberlist.Change) {
	switch change.Kind {
	case memberlist.ChangeReload:
		c.printf("%d members loaded", len(c.session.Members()))
	case memberlist.ChangeRemoved:
		c.printf("removed rows %v", humanPositions(change.Positions))
	case memberlist.ChangeRow:
		members := c.session.Members()
		for _, pos := range change.Positions {
			if pos < len(members) {
				c.printf("%s", c.row(pos, members[pos]))
			}
		}
	}
}

func (c *Console) PaginationChanged(state memberlist.PaginationState) {
	switch state {
	case memberlist.PaginationHasMore:
		c.printf("more members available, type 'more' to load them")
	case memberlist.PaginationExhausted:
		c.printf("end of list")
	case memberlist.PaginationRetry:
		c.printf("loading failed, type 'more' to retry")
	}
}

func (c *Console) FetchFailed(err error) {
	c.printf("error: %s", err)
}

func (c *Console) SessionTerminated(reason memberlist.TerminateReason) {
	c.printf("%s", reason.Notice())

	select {
	case c.terminated <- reason:
	default:
	}
}

func humanPositions(positions []int) []int {
	res := make([]int, 0, len(positions))
	for _, p := range positions {
		res = append(res, p+1)
	}

	return res
}
