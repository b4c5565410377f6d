// ABOUTME: Thread-safe TTL tracker for suppressing duplicate outbound notifications.
// ABOUTME: Keys are recipient plus a content prefix; records self-expire after the window.

package dedupe

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// keyPrefixLen is how much of the message content participates in the
// dedupe key. Two messages that agree on this prefix are treated as the
// same notification even if they differ later.
const keyPrefixLen = 200

// record tracks one suppressible notification.
type record struct {
	timestamp time.Time
	count     int
	recipient string
	preview   string
}

// Stats is a read-only snapshot of the tracker's state.
type Stats struct {
	TotalTracked        int
	DuplicatesPrevented int
	TopRecipients       []RecipientCount
}

// RecipientCount pairs a recipient with its duplicate-hit count.
type RecipientCount struct {
	Recipient string
	Count     int
}

// Tracker provides a thread-safe, TTL-based memory of recently sent
// notifications. It is pure bookkeeping: no method returns an error, and
// expired records are dropped lazily on read plus by a background sweep.
type Tracker struct {
	mu     sync.RWMutex
	sent   map[string]*record
	window time.Duration
	done   chan struct{}
	closed bool
}

// New creates a tracker with the given suppression window. A background
// goroutine periodically sweeps out expired records.
func New(window time.Duration) *Tracker {
	t := &Tracker{
		sent:   make(map[string]*record),
		window: window,
		done:   make(chan struct{}),
	}
	go t.sweep()
	return t
}

// ShouldSuppress reports whether a send with this recipient/message pair
// should be blocked. It increments the record's duplicate count on a hit
// but never creates a record; MarkSent owns creation.
func (t *Tracker) ShouldSuppress(recipient, message string) bool {
	key := t.key(recipient, message)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.sent[key]
	if !ok {
		return false
	}
	if time.Since(rec.timestamp) >= t.window {
		delete(t.sent, key)
		return false
	}

	rec.count++
	return true
}

// MarkSent records that a notification was dispatched, starting the
// suppression window for its key. Re-marking a live key refreshes the
// timestamp and resets the duplicate count.
func (t *Tracker) MarkSent(recipient, message string) {
	key := t.key(recipient, message)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.markLocked(key, recipient, message)
}

// CheckAndMark atomically checks whether the key is already live and
// marks it if not. Returns true if the key was already live (duplicate),
// false if it is new and now marked. This closes the TOCTOU race that
// separate ShouldSuppress/MarkSent calls would leave open between
// concurrent senders.
func (t *Tracker) CheckAndMark(recipient, message string) bool {
	key := t.key(recipient, message)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.sent[key]
	if ok && time.Since(rec.timestamp) < t.window {
		rec.count++
		return true
	}

	t.markLocked(key, recipient, message)
	return false
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (t *Tracker) markLocked(key, recipient, message string) {
	t.sent[key] = &record{
		timestamp: time.Now(),
		count:     1,
		recipient: NormalizeRecipient(recipient),
		preview:   truncate(message, 50),
	}
}

// Stats returns a snapshot of live records: total tracked, duplicates
// prevented (sum of hits beyond the first per key), and the five most-hit
// recipients.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	perRecipient := make(map[string]int)
	stats := Stats{}

	for _, rec := range t.sent {
		if now.Sub(rec.timestamp) >= t.window {
			continue
		}
		stats.TotalTracked++
		if rec.count > 1 {
			stats.DuplicatesPrevented += rec.count - 1
			perRecipient[rec.recipient] += rec.count - 1
		}
	}

	for recipient, count := range perRecipient {
		stats.TopRecipients = append(stats.TopRecipients, RecipientCount{recipient, count})
	}
	sort.Slice(stats.TopRecipients, func(i, j int) bool {
		if stats.TopRecipients[i].Count != stats.TopRecipients[j].Count {
			return stats.TopRecipients[i].Count > stats.TopRecipients[j].Count
		}
		return stats.TopRecipients[i].Recipient < stats.TopRecipients[j].Recipient
	})
	if len(stats.TopRecipients) > 5 {
		stats.TopRecipients = stats.TopRecipients[:5]
	}

	return stats
}

// Reset clears all tracked records. Safe to call concurrently with the
// sweep goroutine or in-flight expiry.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = make(map[string]*record)
}

// key derives the dedupe identity for a recipient/message pair. Collisions
// between near-identical messages are the intended suppression mechanism.
func (t *Tracker) key(recipient, message string) string {
	return NormalizeRecipient(recipient) + "|" + truncate(message, keyPrefixLen)
}

// sweep runs in a background goroutine, periodically removing expired records.
func (t *Tracker) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.runSweep()
		case <-t.done:
			return
		}
	}
}

// runSweep removes all expired records.
func (t *Tracker) runSweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, rec := range t.sent {
		if now.Sub(rec.timestamp) >= t.window {
			delete(t.sent, key)
		}
	}
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}

// NormalizeRecipient canonicalizes a transport recipient identifier:
// the transport suffix (anything from "@" on) is dropped, non-digits are
// stripped, and a leading local "0" is rewritten to the "62" country
// code. Idempotent: normalizing twice yields the same string.
func NormalizeRecipient(raw string) string {
	s := raw
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}

	var digits strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits.WriteByte(s[i])
		}
	}
	s = digits.String()

	if strings.HasPrefix(s, "0") {
		s = "62" + s[1:]
	}
	return s
}

// truncate returns at most n characters of s, cutting on rune
// boundaries so multi-byte content never produces an invalid prefix.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i]
		}
		seen++
	}
	return s
}
