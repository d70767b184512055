package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"vsoportal/internal/models"
)

const (
	DefaultTimeout     = 30 * time.Minute
	DefaultWarningLead = 5 * time.Minute
	countdownInterval  = time.Second
	subscriberBuffer   = 16
)

var (
	ErrNotAuthenticated = errors.New("session not authenticated")
	ErrExpired          = errors.New("session expired")
)

// State is the position of a session in the idle-timeout state machine.
type State int

const (
	LoggedOut State = iota
	Active
	WarningShown
	ExpiredPendingLogout
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Active:
		return "active"
	case WarningShown:
		return "warning"
	case ExpiredPendingLogout:
		return "expired"
	default:
		return "unknown"
	}
}

type EventType string

const (
	EventWarning   EventType = "warning"
	EventCountdown EventType = "countdown"
	EventActive    EventType = "active"
	EventLogout    EventType = "logout"
)

// Reasons passed to OnEnd hooks and carried by logout events.
const (
	ReasonLogout  = "logout"
	ReasonExpired = "expired"
	// ReasonRemote marks a session another instance ended.
	ReasonRemote = "remote"
)

// Event is pushed to subscribers on every visible state change and on each
// countdown tick.
type Event struct {
	Type      EventType     `json:"type"`
	State     string        `json:"state"`
	Remaining time.Duration `json:"-"`
	Seconds   int64         `json:"remaining_seconds"`
	Countdown string        `json:"countdown,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Options configure a Manager. Zero values fall back to the defaults.
type Options struct {
	Timeout     time.Duration
	WarningLead time.Duration
	Clock       Clock
	Store       KV
}

// Manager owns the timers of a single browser session. Timer callbacks run on
// their own goroutines, so every field is guarded by mu and each callback
// carries the generation it was scheduled under.
type Manager struct {
	id      string
	timeout time.Duration
	lead    time.Duration
	clock   Clock
	store   KV

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	gen          uint64
	expiry       Timer
	warning      Timer
	tick         Timer
	subs         map[int]chan Event
	nextSub      int
	onEnd        func(id, reason string)
}

// NewManager builds a manager in the LoggedOut state.
func NewManager(id string, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WarningLead <= 0 || opts.WarningLead >= opts.Timeout {
		opts.WarningLead = DefaultWarningLead
		if opts.WarningLead >= opts.Timeout {
			opts.WarningLead = opts.Timeout / 6
		}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Store == nil {
		opts.Store = NewMemoryKV(opts.Clock)
	}
	return &Manager{
		id:      id,
		timeout: opts.Timeout,
		lead:    opts.WarningLead,
		clock:   opts.Clock,
		store:   opts.Store,
		subs:    make(map[int]chan Event),
	}
}

func (m *Manager) ID() string { return m.id }

// OnEnd registers fn to run after the session is torn down, outside the lock.
func (m *Manager) OnEnd(fn func(id, reason string)) {
	m.mu.Lock()
	m.onEnd = fn
	m.mu.Unlock()
}

// Start marks the session authenticated with activity at now.
func (m *Manager) Start(ctx context.Context) error {
	now := m.clock.Now()
	if err := saveRecord(ctx, m.store, m.id, now, m.timeout); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = now
	m.scheduleLocked(now)
	logSessionEvent("SESSION_START", m.id, fmt.Sprintf("timeout=%s", m.timeout))
	return nil
}

// Touch records user activity. Activity during the warning counts as well, so
// any two events closer than the timeout keep the session alive.
func (m *Manager) Touch(ctx context.Context) error {
	return m.activity(ctx, false)
}

// StayLoggedIn leaves the warning state and postpones expiry by a full timeout.
func (m *Manager) StayLoggedIn(ctx context.Context) error {
	return m.activity(ctx, true)
}

func (m *Manager) activity(ctx context.Context, explicit bool) error {
	m.mu.Lock()
	now := m.clock.Now()
	switch m.state {
	case LoggedOut, ExpiredPendingLogout:
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if now.Sub(m.lastActivity) >= m.timeout && !m.adoptStoredLocked(ctx, now) {
		m.state = ExpiredPendingLogout
		end := m.teardownLocked(ctx, ReasonExpired)
		m.mu.Unlock()
		end()
		return ErrExpired
	}
	m.lastActivity = now
	m.scheduleLocked(now)
	if err := saveRecord(ctx, m.store, m.id, now, m.timeout); err != nil {
		log.Printf("session %s: persist activity: %v", shortID(m.id), err)
	}
	m.mu.Unlock()

	if explicit {
		logSessionEvent("SESSION_EXTENDED", m.id, "")
	}
	return nil
}

// Stop is an explicit logout.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.end(ctx, ReasonLogout) {
		return clearRecord(ctx, m.store, m.id)
	}
	return nil
}

// end tears the session down for reason and reports whether it was live.
func (m *Manager) end(ctx context.Context, reason string) bool {
	m.mu.Lock()
	if m.state == LoggedOut {
		m.mu.Unlock()
		return false
	}
	end := m.teardownLocked(ctx, reason)
	m.mu.Unlock()
	end()
	return true
}

// Resume rebuilds the timers from the persisted keys, as a page reload does.
func (m *Manager) Resume(ctx context.Context) error {
	rec, err := loadRecord(ctx, m.store, m.id)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !rec.authenticated {
		return ErrNotAuthenticated
	}

	now := m.clock.Now()
	last := rec.lastActivity
	if !rec.hasTimestamp || last.After(now) {
		last = now
		if err := saveRecord(ctx, m.store, m.id, now, m.timeout); err != nil {
			log.Printf("session %s: persist activity: %v", shortID(m.id), err)
		}
	}

	m.mu.Lock()
	if now.Sub(last) >= m.timeout {
		m.state = ExpiredPendingLogout
		end := m.teardownLocked(ctx, ReasonExpired)
		m.mu.Unlock()
		end()
		return ErrExpired
	}
	m.lastActivity = last
	m.scheduleLocked(now)
	m.mu.Unlock()
	logSessionEvent("SESSION_RESUMED", m.id, fmt.Sprintf("idle=%s", now.Sub(last).Truncate(time.Second)))
	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining is the time left before expiry, zero when logged out.
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked(m.clock.Now())
}

// Status reports the session for the front end. A session whose last activity
// is older than the timeout is torn down here even if its timer has not fired.
func (m *Manager) Status(ctx context.Context) models.SessionStatus {
	m.mu.Lock()
	now := m.clock.Now()
	end := func() {}
	if (m.state == Active || m.state == WarningShown) && now.Sub(m.lastActivity) >= m.timeout {
		if m.adoptStoredLocked(ctx, now) {
			m.scheduleLocked(now)
		} else {
			m.state = ExpiredPendingLogout
			end = m.teardownLocked(ctx, ReasonExpired)
		}
	}
	remaining := m.remainingLocked(now)
	status := models.SessionStatus{
		State:            m.state.String(),
		Authenticated:    m.state == Active || m.state == WarningShown,
		Warning:          m.state == WarningShown,
		RemainingSeconds: int64(remaining / time.Second),
	}
	if status.Warning {
		status.Countdown = FormatCountdown(remaining)
	}
	m.mu.Unlock()
	end()
	return status
}

// Subscribe returns a channel of session events and a func to release it.
// Slow readers miss events rather than block the timers.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, subscriberBuffer)
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// FormatCountdown renders d as M:SS, rounding down to whole seconds.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func (m *Manager) remainingLocked(now time.Time) time.Duration {
	if m.state != Active && m.state != WarningShown {
		return 0
	}
	remaining := m.timeout - now.Sub(m.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// scheduleLocked replaces every pending timer. Bumping gen turns callbacks of
// earlier schedules into no-ops even if Stop lost the race with firing.
func (m *Manager) scheduleLocked(now time.Time) {
	m.stopTimersLocked()
	m.gen++
	gen := m.gen

	remaining := m.timeout - now.Sub(m.lastActivity)
	m.expiry = m.clock.AfterFunc(remaining, func() { m.fireExpiry(gen) })

	warnIn := remaining - m.lead
	if warnIn > 0 {
		prev := m.state
		m.state = Active
		m.warning = m.clock.AfterFunc(warnIn, func() { m.fireWarning(gen) })
		if prev != Active {
			m.publishLocked(m.eventLocked(EventActive, now, ""))
		}
		return
	}
	m.enterWarningLocked(gen, now)
}

// dropTimers detaches the manager without clearing persisted keys.
func (m *Manager) dropTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
	m.gen++
	m.state = LoggedOut
}

func (m *Manager) stopTimersLocked() {
	for _, t := range []Timer{m.expiry, m.warning, m.tick} {
		if t != nil {
			t.Stop()
		}
	}
	m.expiry, m.warning, m.tick = nil, nil, nil
}

func (m *Manager) fireWarning(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != Active {
		return
	}
	now := m.clock.Now()
	if m.adoptStoredLocked(context.Background(), now) {
		m.scheduleLocked(now)
		return
	}
	m.warning = nil
	m.enterWarningLocked(gen, now)
}

func (m *Manager) enterWarningLocked(gen uint64, now time.Time) {
	m.state = WarningShown
	m.publishLocked(m.eventLocked(EventWarning, now, ""))
	logSessionEvent("SESSION_WARNING", m.id, fmt.Sprintf("remaining=%s", FormatCountdown(m.remainingLocked(now))))
	m.tick = m.clock.AfterFunc(countdownInterval, func() { m.fireTick(gen) })
}

func (m *Manager) fireTick(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != WarningShown {
		return
	}
	now := m.clock.Now()
	m.publishLocked(m.eventLocked(EventCountdown, now, ""))
	if m.remainingLocked(now) > 0 {
		m.tick = m.clock.AfterFunc(countdownInterval, func() { m.fireTick(gen) })
	} else {
		m.tick = nil
	}
}

func (m *Manager) fireExpiry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	if m.adoptStoredLocked(context.Background(), now) {
		m.scheduleLocked(now)
		m.mu.Unlock()
		return
	}
	m.state = ExpiredPendingLogout
	end := m.teardownLocked(context.Background(), ReasonExpired)
	m.mu.Unlock()
	end()
}

// adoptStoredLocked picks up activity another instance persisted for this
// session. It reports true when that activity keeps the session alive at now.
func (m *Manager) adoptStoredLocked(ctx context.Context, now time.Time) bool {
	rec, err := loadRecord(ctx, m.store, m.id)
	if err != nil {
		log.Printf("session %s: load keys: %v", shortID(m.id), err)
		return false
	}
	if !rec.authenticated || !rec.hasTimestamp || !rec.lastActivity.After(m.lastActivity) {
		return false
	}
	last := rec.lastActivity
	if last.After(now) {
		last = now
	}
	if now.Sub(last) >= m.timeout {
		return false
	}
	m.lastActivity = last
	return true
}

// teardownLocked clears timers and persisted keys and returns the end hook,
// which the caller must run after releasing mu.
func (m *Manager) teardownLocked(ctx context.Context, reason string) func() {
	m.stopTimersLocked()
	m.gen++
	if err := clearRecord(ctx, m.store, m.id); err != nil {
		log.Printf("session %s: clear keys: %v", shortID(m.id), err)
	}
	m.state = LoggedOut
	ev := m.eventLocked(EventLogout, m.clock.Now(), reason)
	m.publishLocked(ev)
	logSessionEvent("SESSION_END", m.id, "reason="+reason)

	hook := m.onEnd
	id := m.id
	return func() {
		if hook != nil {
			hook(id, reason)
		}
	}
}

func (m *Manager) eventLocked(t EventType, now time.Time, reason string) Event {
	remaining := m.remainingLocked(now)
	ev := Event{
		Type:      t,
		State:     m.state.String(),
		Remaining: remaining,
		Seconds:   int64(remaining / time.Second),
		Reason:    reason,
	}
	if m.state == WarningShown {
		ev.Countdown = FormatCountdown(remaining)
	}
	return ev
}

func (m *Manager) publishLocked(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func logSessionEvent(eventType, sessionID, details string) {
	log.Printf("%s | session=%s %s", eventType, shortID(sessionID), details)
}
