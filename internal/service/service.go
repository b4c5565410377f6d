// ABOUTME: Composition root for the reliability layer.
// ABOUTME: Builds all components from config and manages their lifecycle.

package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mitrasat/opsrelay/internal/config"
	"github.com/mitrasat/opsrelay/internal/dedupe"
	"github.com/mitrasat/opsrelay/internal/delivery"
	"github.com/mitrasat/opsrelay/internal/session"
	"github.com/mitrasat/opsrelay/internal/statuscache"
	"github.com/mitrasat/opsrelay/internal/store"
	"github.com/mitrasat/opsrelay/internal/transport"
)

const defaultSuppressionWindow = 10 * time.Second

// Service owns one instance of every reliability component. Construct it
// once at startup and hand it to the business handlers.
type Service struct {
	Sender   *delivery.Sender
	Tracker  *dedupe.Tracker
	Sessions *session.Manager
	Cache    *statuscache.Cache
	Log      *store.DeliveryLog
}

// New builds the reliability layer around an already-connected transport.
// A nil logger gets one built from the config's logging section.
func New(cfg *config.Config, tr transport.Transport, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = config.NewLogger(cfg.Logging)
	}

	window := cfg.Delivery.SuppressionWindow
	if window <= 0 {
		window = defaultSuppressionWindow
	}
	tracker := dedupe.New(window)

	sessions := session.NewManager(cfg.Session.Dir, session.Options{
		SettleDelay: cfg.Session.SettleDelay,
		TimeoutWait: cfg.Session.TimeoutWait,
		MaxRetries:  cfg.Session.MaxRetries,
	}, logger)

	cache := statuscache.New(cfg.StatusCache.Path, statuscache.Options{
		FreshWindow:    cfg.StatusCache.FreshWindow,
		FallbackWindow: cfg.StatusCache.FallbackWindow,
		FetchTimeout:   cfg.StatusCache.FetchTimeout,
	}, logger)

	dlog, err := store.Open(cfg.Store.Path)
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("opening delivery log: %w", err)
	}

	sender := delivery.NewSender(tr, tracker, sessions, dlog, delivery.Config{
		MaxRetries:   cfg.Delivery.MaxRetries,
		RetryBackoff: cfg.Delivery.RetryBackoff,
	}, logger)

	return &Service{
		Sender:   sender,
		Tracker:  tracker,
		Sessions: sessions,
		Cache:    cache,
		Log:      dlog,
	}, nil
}

// Close releases the tracker's sweep goroutine and the delivery log.
func (s *Service) Close() error {
	s.Tracker.Close()
	return s.Log.Close()
}
