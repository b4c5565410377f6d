// ABOUTME: Safe send pipeline: dedupe gate, connectivity gate, retry with session cleanup.
// ABOUTME: Known-recoverable failures come back as results, not errors, to keep handlers simple.

package delivery

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mitrasat/opsrelay/internal/dedupe"
	"github.com/mitrasat/opsrelay/internal/session"
	"github.com/mitrasat/opsrelay/internal/store"
	"github.com/mitrasat/opsrelay/internal/transport"
)

const (
	defaultMaxRetries   = 2
	defaultRetryBackoff = time.Second
)

// ResultStatus tells the caller what happened to its send.
type ResultStatus string

const (
	// StatusSent means the transport accepted the message.
	StatusSent ResultStatus = "sent"

	// StatusBlocked means the dedupe tracker suppressed the send; the
	// transport was never called.
	StatusBlocked ResultStatus = "blocked"

	// StatusError means a recoverable failure exhausted its retries. The
	// original error text is in Error.
	StatusError ResultStatus = "error"
)

// Result is the outcome of a Send. Receipt is set only for StatusSent.
type Result struct {
	Status   ResultStatus
	Receipt  *transport.Receipt
	Error    string
	Attempts int
}

// SendOptions adjusts a single send.
type SendOptions struct {
	// SkipDuplicateCheck bypasses the dedupe gate and does not start a
	// suppression window. Used for explicit user-triggered replies that
	// must never be swallowed.
	SkipDuplicateCheck bool
}

// Config tunes the retry behavior. Zero values fall back to the defaults
// (2 retries, 1s base backoff doubling per attempt).
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Sender is the single entry point for outbound delivery. All business
// handlers send through it; none talk to the transport directly.
type Sender struct {
	transport    transport.Transport
	tracker      *dedupe.Tracker
	sessions     *session.Manager
	log          *store.DeliveryLog
	logger       *slog.Logger
	maxRetries   int
	retryBackoff time.Duration

	blocked atomic.Int64
}

// NewSender wires the delivery pipeline. sessions and log may be nil:
// without sessions no artifact cleanup happens between retries, and
// without log outcomes are not persisted.
func NewSender(tr transport.Transport, tracker *dedupe.Tracker, sessions *session.Manager, log *store.DeliveryLog, cfg Config, logger *slog.Logger) *Sender {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		transport:    tr,
		tracker:      tracker,
		sessions:     sessions,
		log:          log,
		logger:       logger.With("component", "delivery"),
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}
}

// Send delivers a message through the dedupe and connectivity gates.
//
// Duplicates return a blocked result without touching the transport.
// A transport that is not open returns transport.ErrNotConnected before
// the suppression window is started. Session-desync failures are retried
// with exponential backoff and session cleanup between attempts; when
// retries exhaust, the failure is downgraded to a StatusError result.
// Every other failure propagates unchanged.
func (s *Sender) Send(ctx context.Context, recipient string, msg transport.Message, opts SendOptions) (*Result, error) {
	body := msg.Body()

	if !opts.SkipDuplicateCheck && s.tracker.ShouldSuppress(recipient, body) {
		s.blocked.Add(1)
		s.logger.Debug("duplicate send blocked", "recipient", recipient)
		s.record(ctx, recipient, StatusBlocked, "", 0)
		return &Result{Status: StatusBlocked}, nil
	}

	if !s.transport.State().Sendable() {
		return nil, transport.ErrNotConnected
	}

	// The ShouldSuppress fast path above is not atomic with marking.
	// CheckAndMark closes that window: concurrent identical sends race
	// here, exactly one wins the mark, the rest are blocked.
	if !opts.SkipDuplicateCheck && s.tracker.CheckAndMark(recipient, body) {
		s.blocked.Add(1)
		s.logger.Debug("duplicate send blocked", "recipient", recipient)
		s.record(ctx, recipient, StatusBlocked, "", 0)
		return &Result{Status: StatusBlocked}, nil
	}

	attempts := 0
	for {
		attempts++
		receipt, err := s.transport.Send(ctx, recipient, msg)
		if err == nil {
			s.record(ctx, recipient, StatusSent, "", attempts)
			return &Result{Status: StatusSent, Receipt: receipt, Attempts: attempts}, nil
		}

		if transport.Classify(err) != transport.KindSessionDesync {
			s.record(ctx, recipient, StatusError, err.Error(), attempts)
			return nil, err
		}

		// attempts-1 retries used so far
		if attempts > s.maxRetries {
			s.logger.Error("send failed after retries",
				"recipient", recipient,
				"attempts", attempts,
				"error", err,
			)
			s.record(ctx, recipient, StatusError, err.Error(), attempts)
			return &Result{Status: StatusError, Error: err.Error(), Attempts: attempts}, nil
		}

		s.logger.Warn("session desync, retrying send",
			"recipient", recipient,
			"attempt", attempts,
			"error", err,
		)
		if s.sessions != nil {
			s.sessions.CleanSession(recipient)
		}

		backoff := s.retryBackoff * time.Duration(1<<(attempts-1))
		if werr := sleepCtx(ctx, backoff); werr != nil {
			return nil, werr
		}
	}
}

// BlockedCount reports how many sends the dedupe gate has suppressed
// since the sender was constructed.
func (s *Sender) BlockedCount() int64 {
	return s.blocked.Load()
}

// record appends the outcome to the delivery log, if one is configured.
// Logging failures never affect the send result.
func (s *Sender) record(ctx context.Context, recipient string, status ResultStatus, errText string, attempts int) {
	if s.log == nil {
		return
	}
	err := s.log.Append(ctx, &store.Entry{
		Recipient: dedupe.NormalizeRecipient(recipient),
		Status:    string(status),
		ErrorText: errText,
		Attempts:  attempts,
	})
	if err != nil {
		s.logger.Warn("could not record delivery outcome", "error", err)
	}
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
