// ABOUTME: Per-recipient session repair with bounded retry and artifact cleanup.
// ABOUTME: Recovery episodes are tracked per recipient and serialized with a single-flight lock.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitrasat/opsrelay/internal/dedupe"
	"github.com/mitrasat/opsrelay/internal/transport"
)

const (
	// DefaultMaxRetries bounds session-desync recovery attempts per episode.
	DefaultMaxRetries = 3

	defaultSettleDelay = 3 * time.Second
	defaultTimeoutWait = 5 * time.Second
)

// ErrMaxRecoveryAttempts is returned when a recovery episode exhausts its
// attempt bound without a successful send.
var ErrMaxRecoveryAttempts = errors.New("max recovery attempts reached")

// artifactTemplates are the per-recipient session files the transport
// keeps on disk, keyed by the bare numeric recipient identifier. The
// manager only ever deletes these; it never creates or modifies them.
var artifactTemplates = []string{
	"session-%s.0.json",
	"session-%s.1.json",
	"sender-key-%s.json",
	"sender-key-memory-%s.json",
	"app-state-sync-key-%s.json",
}

// Options tunes the manager's wait and retry behavior. Zero values fall
// back to the defaults (3s settle after cleanup, 5s-per-attempt timeout
// wait, 3 recovery attempts).
type Options struct {
	SettleDelay time.Duration
	TimeoutWait time.Duration

	// MaxRetries is the bound used when SendWithRecovery is called with
	// maxRetries <= 0.
	MaxRetries int
}

// Manager owns recovery state for all recipients. Episodes for different
// recipients proceed independently; concurrent sends to the same
// recipient are serialized by a per-recipient lock so two episodes never
// delete session artifacts out from under each other.
type Manager struct {
	dir         string
	settleDelay time.Duration
	timeoutWait time.Duration
	maxRetries  int
	logger      *slog.Logger

	mu       sync.Mutex
	episodes map[string]int

	flightMu sync.Mutex
	flight   map[string]*sync.Mutex
}

// NewManager creates a session recovery manager over the given session
// artifact directory.
func NewManager(dir string, opts Options, logger *slog.Logger) *Manager {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.TimeoutWait <= 0 {
		opts.TimeoutWait = defaultTimeoutWait
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:         dir,
		settleDelay: opts.SettleDelay,
		timeoutWait: opts.TimeoutWait,
		maxRetries:  opts.MaxRetries,
		logger:      logger.With("component", "session"),
		episodes:    make(map[string]int),
		flight:      make(map[string]*sync.Mutex),
	}
}

// SendWithRecovery sends through the transport, repairing the recipient's
// session on desync errors. Desync failures clean the session artifacts,
// wait for the transport to settle, and retry up to maxRetries times.
// Timeout failures wait longer (scaled by attempt) and retry within the
// remaining budget. Any other error ends the episode immediately.
//
// A maxRetries of zero or less falls back to the manager's configured
// bound.
func (m *Manager) SendWithRecovery(ctx context.Context, tr transport.Transport, recipient string, msg transport.Message, maxRetries int) (*transport.Receipt, error) {
	if maxRetries <= 0 {
		maxRetries = m.maxRetries
	}

	lock := m.recipientLock(recipient)
	lock.Lock()
	defer lock.Unlock()

	timeoutAttempts := 0

	for {
		receipt, err := tr.Send(ctx, recipient, msg)
		if err == nil {
			m.endEpisode(recipient)
			return receipt, nil
		}

		switch transport.Classify(err) {
		case transport.KindSessionDesync:
			attempts := m.bumpEpisode(recipient)
			if attempts >= maxRetries {
				m.endEpisode(recipient)
				return nil, fmt.Errorf("%w for %s: %v", ErrMaxRecoveryAttempts, recipient, err)
			}

			m.logger.Warn("session desync, cleaning and retrying",
				"recipient", recipient,
				"attempt", attempts,
				"error", err,
			)
			m.CleanSession(recipient)

			if werr := sleepCtx(ctx, m.settleDelay); werr != nil {
				m.endEpisode(recipient)
				return nil, werr
			}

		case transport.KindTimeout:
			timeoutAttempts++
			if timeoutAttempts >= maxRetries {
				m.endEpisode(recipient)
				return nil, fmt.Errorf("%w for %s: %v", ErrMaxRecoveryAttempts, recipient, err)
			}

			wait := m.timeoutWait * time.Duration(timeoutAttempts)
			m.logger.Warn("transport timeout, backing off",
				"recipient", recipient,
				"attempt", timeoutAttempts,
				"wait", wait,
			)
			if werr := sleepCtx(ctx, wait); werr != nil {
				m.endEpisode(recipient)
				return nil, werr
			}

		default:
			// Unclassified errors get no recovery
			m.endEpisode(recipient)
			return nil, err
		}
	}
}

// CleanSession removes the recipient's session artifact files if present
// and reports whether anything was actually removed. It never fails:
// deletion errors are logged and treated as nothing to clean.
func (m *Manager) CleanSession(recipient string) bool {
	id := dedupe.NormalizeRecipient(recipient)
	removed := false

	for _, tmpl := range artifactTemplates {
		path := filepath.Join(m.dir, fmt.Sprintf(tmpl, id))
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = true
		case os.IsNotExist(err):
			// nothing to clean
		default:
			m.logger.Warn("could not remove session artifact", "path", path, "error", err)
		}
	}

	if removed {
		m.logger.Info("session artifacts cleared", "recipient", id)
	}
	return removed
}

// Attempts returns the current episode's attempt count for a recipient,
// and whether an episode is active.
func (m *Manager) Attempts(recipient string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.episodes[recipient]
	return n, ok
}

// bumpEpisode increments (creating if needed) the recipient's episode
// attempt count and returns the new value.
func (m *Manager) bumpEpisode(recipient string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[recipient]++
	return m.episodes[recipient]
}

// endEpisode closes the recipient's recovery episode, if any.
func (m *Manager) endEpisode(recipient string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.episodes, recipient)
}

// recipientLock returns the single-flight lock for a recipient, creating
// it on first use. Locks are never removed; the set of active recipients
// is small and bounded by the subscriber base.
func (m *Manager) recipientLock(recipient string) *sync.Mutex {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()

	lock, ok := m.flight[recipient]
	if !ok {
		lock = &sync.Mutex{}
		m.flight[recipient] = lock
	}
	return lock
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
