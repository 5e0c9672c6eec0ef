package memberlist

import (
	"context"
	"sync"
	"time"

	"github.com/42wim/membersync/bridge"
	"github.com/davecgh/go-spew/spew"
	"github.com/desertbit/timer"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Scope    bridge.Scope
	Circle   bridge.Circler
	Presence bridge.PresenceRefresher
	Profiles bridge.ProfileEnricher
	Listener Listener
	PageSize int
	Clock    func() time.Time
}

// Controller keeps the member list of one scope in sync with the chat
// SDK. Store and mute state are only mutated from the loop goroutine;
// SDK calls run in their own goroutines and hand their results back to
// the loop.
type Controller struct {
	scope    bridge.Scope
	self     string
	circle   bridge.Circler
	presence bridge.PresenceRefresher
	profiles bridge.ProfileEnricher
	listener Listener
	clock    func() time.Time
	log      *logrus.Entry

	mu           sync.RWMutex
	store        *Store
	mutes        *MuteRegistry
	role         bridge.Role
	roleResolved bool
	terminated   bool
	started      bool
	refreshing   bool
	loadingMore  bool

	events chan *bridge.Event
	work   chan func()
	quit   chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once

	expiryTimer     *timer.Timer
	lastExpiryCheck time.Time
}

func NewController(opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	listener := opts.Listener
	if listener == nil {
		listener = nopListener{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	expiryTimer := timer.NewTimer(time.Hour)
	expiryTimer.Stop()

	return &Controller{
		scope:       opts.Scope,
		self:        opts.Circle.CurrentUser(),
		circle:      opts.Circle,
		presence:    opts.Presence,
		profiles:    opts.Profiles,
		listener:    listener,
		clock:       clock,
		log:         logger.WithField("scope", opts.Scope.String()),
		store:       NewStore(opts.PageSize),
		mutes:       NewMuteRegistry(),
		events:      make(chan *bridge.Event, 100),
		work:        make(chan func(), 100),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		expiryTimer: expiryTimer,

		lastExpiryCheck: clock(),
	}
}

// Start subscribes to the event stream, resolves our role and loads the
// first page.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		if c.terminated {
			c.mu.Unlock()
			return
		}
		c.started = true
		c.mu.Unlock()

		c.log.Debugf("starting session as %s", c.self)

		c.circle.Subscribe(c.events)

		go c.loop()

		c.resolveRole()
		c.Refresh()
	})
}

// Stop ends the session. Results of calls still in flight are dropped.
// Stop waits for the loop goroutine and must not be called from a
// Listener callback.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.terminated = true
		started := c.started
		c.mu.Unlock()

		// the loop keeps draining events until the subscription is gone
		c.circle.Unsubscribe(c.events)
		c.cancel()
		close(c.quit)

		if started {
			<-c.done
		}

		c.log.Debug("session stopped")
	})
}

func (c *Controller) loop() {
	defer close(c.done)
	defer c.expiryTimer.Stop()

	for {
		select {
		case <-c.quit:
			return
		case event := <-c.events:
			c.handleEvent(event)
		case fn := <-c.work:
			fn()
		case <-c.expiryTimer.C:
			c.handleMuteExpiry()
		}
	}
}

// post hands fn to the loop. It gives up once the session is stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.work <- fn:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Controller) async(fn func(ctx context.Context)) {
	go fn(c.ctx)
}

// Refresh reloads the list from the first page. It returns false when a
// refresh is still in flight or the session is over.
func (c *Controller) Refresh() bool {
	return c.request(true)
}

// LoadMore fetches the page after the current cursor. It returns false
// when a load more is still in flight or the session is over.
func (c *Controller) LoadMore() bool {
	return c.request(false)
}

func (c *Controller) request(refresh bool) bool {
	if !c.setLoading(refresh, true) {
		return false
	}

	if !c.post(func() { c.fetch(refresh) }) {
		c.setLoading(refresh, false)
		return false
	}

	return true
}

// setLoading flips the in-flight flag of one direction. Setting a flag
// that is already set, or any flag after termination, fails.
func (c *Controller) setLoading(refresh, loading bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	flag := &c.loadingMore
	if refresh {
		flag = &c.refreshing
	}

	if loading && (*flag || c.terminated) {
		return false
	}

	*flag = loading

	return true
}

func (c *Controller) fetch(refresh bool) {
	if c.Terminated() {
		return
	}

	cursor := ""
	if !refresh {
		cursor = c.store.Cursor()
	}

	limit := c.store.PageSize()

	c.log.Debugf("fetching members (refresh: %t, cursor: %q, limit: %d)", refresh, cursor, limit)

	c.async(func(ctx context.Context) {
		page, err := c.circle.FetchMembers(ctx, c.scope, cursor, limit)
		c.post(func() { c.applyPage(refresh, page, err) })
	})
}

func (c *Controller) applyPage(refresh bool, page *bridge.MemberPage, err error) {
	c.setLoading(refresh, false)

	if c.Terminated() {
		c.log.Debug("dropping member page, session terminated")
		return
	}

	if err != nil {
		ferr := &FetchError{Op: "fetch members", Scope: c.scope, Err: err}
		c.log.Error(ferr)
		c.listener.FetchFailed(ferr)
		c.listener.PaginationChanged(PaginationRetry)

		return
	}

	c.mu.Lock()
	if refresh {
		c.store.Reset(page)
	} else {
		c.store.Append(page)
	}
	exhausted := c.store.Exhausted()
	total := c.store.Len()
	c.mu.Unlock()

	// a nil page counts as an empty last page, as in the store
	ids := page.UserIDs()

	c.log.Debugf("got %d members, %d listed, exhausted: %t", len(ids), total, exhausted)

	if exhausted {
		c.listener.PaginationChanged(PaginationExhausted)
	} else {
		c.listener.PaginationChanged(PaginationHasMore)
	}

	c.listener.ListChanged(Change{Kind: ChangeReload})

	if len(ids) == 0 {
		return
	}

	if c.presence != nil {
		c.async(func(ctx context.Context) {
			if err := c.presence.RefreshPresence(ctx, ids); err != nil {
				c.log.Warnf("presence refresh failed: %s", err)
			}
			c.post(c.redraw)
		})
	}

	if c.profiles != nil {
		c.async(func(ctx context.Context) {
			if err := c.profiles.EnrichProfiles(ctx, ids); err != nil {
				c.log.Warnf("profile lookup failed: %s", err)
			}
			c.post(c.redraw)
		})
	}
}

func (c *Controller) redraw() {
	if c.Terminated() {
		return
	}

	c.listener.ListChanged(Change{Kind: ChangeReload})
}

func (c *Controller) resolveRole() {
	c.async(func(ctx context.Context) {
		role, err := c.circle.ResolveRole(ctx, c.scope.ServerID)
		c.post(func() { c.applyRole(role, err) })
	})
}

func (c *Controller) applyRole(role bridge.Role, err error) {
	if c.Terminated() {
		return
	}

	if err != nil {
		c.log.Warnf("%s for server %s: %s", ErrRoleUnresolved, c.scope.ServerID, err)
		return
	}

	c.mu.Lock()
	c.role = role
	c.roleResolved = true
	c.mu.Unlock()

	c.log.Debugf("resolved role %s", role)

	c.loadMuteList()
}

// loadMuteList refetches the whole mute list. Only owners and moderators
// of a channel get to see it.
func (c *Controller) loadMuteList() {
	if !c.scope.IsChannel() {
		return
	}

	c.mu.RLock()
	privileged := c.roleResolved && c.role.Privileged()
	c.mu.RUnlock()

	if !privileged {
		c.log.Debug("not loading mute list, not privileged")
		return
	}

	c.async(func(ctx context.Context) {
		mutes, err := c.circle.FetchMuteList(ctx, c.scope)
		c.post(func() { c.applyMuteList(mutes, err) })
	})
}

func (c *Controller) applyMuteList(mutes map[string]int64, err error) {
	if c.Terminated() {
		c.log.Debug("dropping mute list, session terminated")
		return
	}

	if err != nil {
		ferr := &FetchError{Op: "fetch mute list", Scope: c.scope, Err: err}
		c.log.Error(ferr)
		c.listener.FetchFailed(ferr)

		return
	}

	// mutes that ran out before this list arrived still need their redraw
	c.redrawExpiredMutes()

	c.mu.Lock()
	c.mutes.ReplaceAll(mutes)
	c.mu.Unlock()

	c.scheduleMuteExpiry()
	c.listener.ListChanged(Change{Kind: ChangeReload})
}

// scheduleMuteExpiry arms the timer for the first mute running out after
// the last expiry check. A mute that already ran out fires right away.
func (c *Controller) scheduleMuteExpiry() {
	next, ok := c.mutes.NextExpiry(c.lastExpiryCheck)
	if !ok {
		c.expiryTimer.Stop()
		return
	}

	c.expiryTimer.Reset(next.Sub(c.clock()))
}

// redrawExpiredMutes redraws the rows whose mute ran out since the last
// check and advances the check.
func (c *Controller) redrawExpiredMutes() {
	now := c.clock()

	c.mu.RLock()
	expired := c.mutes.ExpiredBetween(c.lastExpiryCheck, now)
	c.mu.RUnlock()

	c.lastExpiryCheck = now

	for _, userID := range expired {
		if i := c.store.Index(userID); i >= 0 {
			c.listener.ListChanged(Change{Kind: ChangeRow, Positions: []int{i}, UserID: userID})
		}
	}
}

func (c *Controller) handleMuteExpiry() {
	if c.Terminated() {
		return
	}

	c.redrawExpiredMutes()
	c.scheduleMuteExpiry()
}

func (c *Controller) handleEvent(event *bridge.Event) {
	if c.Terminated() {
		return
	}

	c.log.Tracef("event %s", spew.Sdump(event))

	action := Route(c.scope, c.self, event)

	switch action.Kind {
	case ActionRemove:
		c.removeMembers(action.Members)
	case ActionTerminate:
		c.terminate(action.Reason)
	case ActionRefetchMutes:
		c.loadMuteList()
	case ActionIgnore:
	}
}

func (c *Controller) removeMembers(ids []string) {
	c.mu.Lock()
	positions := c.store.RemoveMembers(ids)
	c.mu.Unlock()

	if len(positions) == 0 {
		return
	}

	c.log.Debugf("removed %v at %v", ids, positions)
	c.listener.ListChanged(Change{Kind: ChangeRemoved, Positions: positions})
}

func (c *Controller) terminate(reason TerminateReason) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	c.mu.Unlock()

	c.expiryTimer.Stop()

	c.log.Infof("session terminated: %s", reason)
	c.listener.SessionTerminated(reason)
}

// OnKick applies a kick done from the member menu.
func (c *Controller) OnKick(userID string) {
	c.post(func() {
		if c.Terminated() {
			return
		}

		c.removeMembers([]string{userID})
	})
}

// OnRoleChange applies a role change done from the member menu.
func (c *Controller) OnRoleChange(userID string, role bridge.Role) {
	c.post(func() {
		if c.Terminated() {
			return
		}

		c.mu.Lock()
		i := c.store.UpdateRole(userID, role)
		c.mu.Unlock()

		if i >= 0 {
			c.listener.ListChanged(Change{Kind: ChangeRow, Positions: []int{i}, UserID: userID})
		}
	})
}

// OnMute applies a mute (seconds != nil) or unmute done from the member menu.
func (c *Controller) OnMute(userID string, seconds *int64) {
	c.post(func() {
		if c.Terminated() {
			return
		}

		if !c.scope.IsChannel() {
			c.log.Debugf("ignoring mute of %s outside a channel", userID)
			return
		}

		c.redrawExpiredMutes()

		c.mu.Lock()
		c.mutes.SetExpiry(userID, seconds, c.clock())
		i := c.store.Index(userID)
		c.mu.Unlock()

		c.scheduleMuteExpiry()

		if i >= 0 {
			c.listener.ListChanged(Change{Kind: ChangeRow, Positions: []int{i}, UserID: userID})
		}
	})
}

func (c *Controller) Scope() bridge.Scope {
	return c.scope
}

func (c *Controller) Members() []bridge.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.store.Members()
}

func (c *Controller) IsMuted(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.mutes.IsMuted(userID, c.clock())
}

func (c *Controller) Role() (bridge.Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.role, c.roleResolved
}

// CanManage reports whether the member menu may be opened for userID.
func (c *Controller) CanManage(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.roleResolved && c.role.Privileged() && userID != c.self
}

func (c *Controller) Exhausted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.store.Exhausted()
}

func (c *Controller) Cursor() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.store.Cursor()
}

func (c *Controller) Terminated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.terminated
}

type nopListener struct{}

func (nopListener) ListChanged(Change)                {}
func (nopListener) PaginationChanged(PaginationState) {}
func (nopListener) FetchFailed(error)                 {}
func (nopListener) SessionTerminated(TerminateReason) {}
