// Package feed keeps the latest sample of each external market data stream
// and supervises the connections that produce them.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// ConnState is the connection state of a supervised stream.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// BackoffPolicy describes reconnect delays as data.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64
	// MaxFatalRetries bounds consecutive fatal failures (e.g. unauthorized).
	// Transient failures retry forever.
	MaxFatalRetries int
}

// DefaultBackoff mirrors the defaults in config.
var DefaultBackoff = BackoffPolicy{
	Initial:         time.Second,
	Max:             30 * time.Second,
	Multiplier:      2,
	Jitter:          0.2,
	MaxFatalRetries: 5,
}

// Delay returns the wait before retry number attempt (1-based). r must
// return a value in [0, 1).
func (p BackoffPolicy) Delay(attempt int, r func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 && r != nil {
		d *= 1 + p.Jitter*(2*r()-1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// errResubscribe ends a session so it is re-established immediately with
// fresh subscriptions.
var errResubscribe = errors.New("feed: resubscribe requested")

// Session runs one connection until it fails. It must call connected once
// the stream is live.
type Session func(ctx context.Context, connected func()) error

// Supervisor drives the DISCONNECTED -> CONNECTING -> CONNECTED state
// machine for one stream and reconnects according to its policy.
type Supervisor struct {
	name   string
	policy BackoffPolicy
	logger *slog.Logger
	state  atomic.Int32

	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a Supervisor for the named stream.
func NewSupervisor(name string, policy BackoffPolicy, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		name:   name,
		policy: policy,
		logger: logger.With(slog.String("component", "feed_supervisor"), slog.String("stream", name)),
		rand:   rand.Float64,
		sleep:  sleepCtx,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	return ConnState(s.state.Load())
}

// Run keeps session alive until ctx is cancelled or the fatal retry budget
// is exhausted.
func (s *Supervisor) Run(ctx context.Context, session Session) error {
	var attempt, fatal int
	defer s.state.Store(int32(StateDisconnected))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.state.Store(int32(StateConnecting))
		err := session(ctx, func() {
			s.state.Store(int32(StateConnected))
			attempt, fatal = 0, 0
			s.logger.InfoContext(ctx, "stream connected")
		})
		s.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errResubscribe) {
			continue
		}

		if domain.IsFatal(err) {
			fatal++
			if fatal > s.policy.MaxFatalRetries {
				return fmt.Errorf("feed: %s: giving up after %d fatal errors: %w", s.name, fatal, err)
			}
		} else {
			fatal = 0
		}

		attempt++
		delay := s.policy.Delay(attempt, s.rand)
		s.logger.WarnContext(ctx, "stream disconnected, reconnecting",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Bool("fatal", domain.IsFatal(err)),
			slog.Duration("delay", delay),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
