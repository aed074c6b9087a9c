package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MaxDuration is the longest permit-join window the coordinator accepts, in seconds.
const MaxDuration = 254

// DefaultGrace is how long the controller waits for the coordinator to
// confirm closure after the countdown has run out.
const DefaultGrace = 5 * time.Second

// Reasons a session ended.
const (
	ReasonClosed  = "closed"
	ReasonTimeout = "timeout"
)

// Logger defines the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Joiner opens and closes the coordinator's join window.
// seconds == 0 closes it. An empty target means the whole network.
type Joiner interface {
	PermitJoin(ctx context.Context, seconds int, target string) error
}

// Broadcaster receives progress updates.
type Broadcaster interface {
	PairingProgress(Status)
}

// Status describes the join window.
type Status struct {
	Active    bool      `json:"active"`
	Target    string    `json:"target,omitempty"`
	Duration  int       `json:"duration"`
	Remaining int       `json:"remaining"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type session struct {
	status Status
	done   chan struct{}
	once   sync.Once
}

func (s *session) end() {
	s.once.Do(func() { close(s.done) })
}

// Controller runs permit-join sessions.
type Controller struct {
	joiner      Joiner
	broadcaster Broadcaster
	logger      Logger
	tick        time.Duration
	grace       time.Duration
	now         func() time.Time

	mu      sync.Mutex
	current *session
	wg      sync.WaitGroup
}

// New creates a controller.
func New(joiner Joiner, broadcaster Broadcaster) *Controller {
	return &Controller{
		joiner:      joiner,
		broadcaster: broadcaster,
		logger:      noopLogger{},
		tick:        time.Second,
		grace:       DefaultGrace,
		now:         time.Now,
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// SetGrace sets how long to wait for the coordinator's closing event.
func (c *Controller) SetGrace(d time.Duration) {
	c.grace = d
}

// Start opens the join window for seconds, replacing any running session.
//
// Parameters:
//   - ctx: Bounds the permit-join request
//   - seconds: Join window length, 1 to 254
//   - target: Router to join through; empty means the whole network
//
// Returns:
//   - Status: The new session's status
//   - error: ErrInvalidDuration or the coordinator's error
func (c *Controller) Start(ctx context.Context, seconds int, target string) (Status, error) {
	if seconds < 1 || seconds > MaxDuration {
		return Status{}, fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidDuration, seconds, MaxDuration)
	}

	if err := c.joiner.PermitJoin(ctx, seconds, target); err != nil {
		return Status{}, fmt.Errorf("opening join window: %w", err)
	}

	s := &session{
		status: Status{
			Active:    true,
			Target:    target,
			Duration:  seconds,
			Remaining: seconds,
			StartedAt: c.now(),
		},
		done: make(chan struct{}),
	}

	c.mu.Lock()
	old := c.current
	c.current = s
	c.wg.Add(1)
	c.mu.Unlock()

	if old != nil {
		old.end()
		c.logger.Debug("pairing session replaced", "target", old.status.Target)
	}

	c.logger.Info("join window opened", "seconds", seconds, "target", target)
	c.broadcast(s.status)
	go c.run(s)
	return s.status, nil
}

// Stop closes the join window early. The session ends when the
// coordinator confirms, or after the grace period.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	if s != nil {
		s.status.Remaining = 0
	}
	c.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}
	if err := c.joiner.PermitJoin(ctx, 0, ""); err != nil {
		return fmt.Errorf("closing join window: %w", err)
	}
	c.logger.Info("join window close requested")
	return nil
}

// PermitJoinChanged handles the coordinator's report of the window state.
// remaining is the time left in seconds when the coordinator reports it,
// otherwise zero.
func (c *Controller) PermitJoinChanged(open bool, remaining int) {
	c.mu.Lock()
	s := c.current
	switch {
	case !open && s != nil:
		c.current = nil
		s.status.Active = false
		s.status.Remaining = 0
		s.status.Reason = ReasonClosed
		final := s.status
		c.mu.Unlock()
		s.end()
		c.logger.Info("join window closed")
		c.broadcast(final)
		return
	case open && s != nil && remaining > 0:
		s.status.Remaining = remaining
	case open && s == nil:
		// Opened outside this controller; track it so progress is visible.
		if remaining <= 0 {
			remaining = MaxDuration
		}
		s = &session{
			status: Status{Active: true, Duration: remaining, Remaining: remaining, StartedAt: c.now()},
			done: make(chan struct{}),
		}
		c.current = s
		c.wg.Add(1)
		c.mu.Unlock()
		c.logger.Info("join window opened externally", "remaining", remaining)
		c.broadcast(s.status)
		go c.run(s)
		return
	}
	c.mu.Unlock()
}

// Status returns the current window state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Status{}
	}
	return c.current.status
}

// Close ends any session without touching the coordinator and waits for
// its goroutine.
func (c *Controller) Close() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s != nil {
		s.end()
	}
	c.wg.Wait()
}

// run counts a session down, then waits for the coordinator to confirm
// closure before forcing it.
func (c *Controller) run(s *session) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	var grace *time.Timer
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	var graceC <-chan time.Time
	for {
		select {
		case <-s.done:
			return
		case <-graceC:
			c.forceClose(s)
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.current != s {
				c.mu.Unlock()
				return
			}
			if s.status.Remaining > 0 {
				s.status.Remaining--
			}
			status := s.status
			c.mu.Unlock()

			if status.Remaining > 0 {
				c.broadcast(status)
				continue
			}
			if graceC == nil {
				c.broadcast(status)
				grace = time.NewTimer(c.grace)
				graceC = grace.C
			}
		}
	}
}

func (c *Controller) forceClose(s *session) {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	c.current = nil
	s.status.Active = false
	s.status.Reason = ReasonTimeout
	final := s.status
	c.mu.Unlock()

	s.end()
	c.logger.Warn("coordinator never confirmed join window closure, closing locally", "grace", c.grace)
	c.broadcast(final)
}

func (c *Controller) broadcast(s Status) {
	if c.broadcaster != nil {
		c.broadcaster.PairingProgress(s)
	}
}
