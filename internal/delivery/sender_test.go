// ABOUTME: Tests for the delivery wrapper's send pipeline.
// ABOUTME: Validates dedupe gating, the connectivity gate, retry behavior, and the delivery log.

package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitrasat/opsrelay/internal/dedupe"
	"github.com/mitrasat/opsrelay/internal/session"
	"github.com/mitrasat/opsrelay/internal/store"
	"github.com/mitrasat/opsrelay/internal/transport"
)

// fakeTransport scripts send outcomes and records calls.
type fakeTransport struct {
	mu    sync.Mutex
	errs  []error
	calls int
	state transport.ConnState
}

func (f *fakeTransport) Send(ctx context.Context, recipient string, msg transport.Message) (*transport.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return &transport.Receipt{ID: fmt.Sprintf("msg-%d", idx), Recipient: recipient, Timestamp: time.Now()}, nil
}

func (f *fakeTransport) State() transport.ConnState {
	if f.state == "" {
		return transport.StateOpen
	}
	return f.state
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSender(t *testing.T, tr transport.Transport, window time.Duration) (*Sender, *dedupe.Tracker) {
	t.Helper()
	tracker := dedupe.New(window)
	t.Cleanup(tracker.Close)

	cfg := Config{MaxRetries: 2, RetryBackoff: time.Millisecond}
	return NewSender(tr, tracker, nil, nil, cfg, discardLogger()), tracker
}

func TestSend_Success(t *testing.T) {
	tr := &fakeTransport{}
	sender, _ := newTestSender(t, tr, 10*time.Second)

	res, err := sender.Send(context.Background(), "6281234567890", transport.Message{Text: "Tagihan lunas"}, SendOptions{})

	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "6281234567890", res.Receipt.Recipient)
	assert.Equal(t, 1, tr.callCount())
}

func TestSend_DuplicateBlocked(t *testing.T) {
	tr := &fakeTransport{}
	sender, tracker := newTestSender(t, tr, 10*time.Second)
	ctx := context.Background()
	msg := transport.Message{Text: "Tagihan lunas"}

	first, err := sender.Send(ctx, "6281234567890", msg, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, first.Status)

	second, err := sender.Send(ctx, "6281234567890", msg, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, second.Status)

	// Only the first send reached the transport
	assert.Equal(t, 1, tr.callCount())
	assert.Equal(t, int64(1), sender.BlockedCount())
	assert.Equal(t, 1, tracker.Stats().DuplicatesPrevented)
}

func TestSend_SuppressionExpires(t *testing.T) {
	tr := &fakeTransport{}
	sender, _ := newTestSender(t, tr, 20*time.Millisecond)
	ctx := context.Background()
	msg := transport.Message{Text: "Tagihan lunas"}

	_, err := sender.Send(ctx, "6281234567890", msg, SendOptions{})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	res, err := sender.Send(ctx, "6281234567890", msg, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, 2, tr.callCount())
}

func TestSend_SkipDuplicateCheck(t *testing.T) {
	tr := &fakeTransport{}
	sender, tracker := newTestSender(t, tr, 10*time.Second)
	ctx := context.Background()
	msg := transport.Message{Text: "Status jaringan"}
	opts := SendOptions{SkipDuplicateCheck: true}

	for i := 0; i < 3; i++ {
		res, err := sender.Send(ctx, "6281234567890", msg, opts)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, res.Status)
	}
	assert.Equal(t, 3, tr.callCount())

	// Skipped sends must not have started a suppression window
	res, err := sender.Send(ctx, "6281234567890", msg, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, 1, tracker.Stats().TotalTracked, "only the non-skip send is tracked")
}

func TestSend_NotConnected(t *testing.T) {
	tr := &fakeTransport{state: transport.StateConnecting}
	sender, tracker := newTestSender(t, tr, 10*time.Second)

	_, err := sender.Send(context.Background(), "6281234567890", transport.Message{Text: "halo"}, SendOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Equal(t, 0, tr.callCount())

	// The gate fired before MarkSent: no suppression window was started
	assert.Equal(t, 0, tracker.Stats().TotalTracked)
}

func TestSend_CaptionUsedForDedupe(t *testing.T) {
	tr := &fakeTransport{}
	sender, _ := newTestSender(t, tr, 10*time.Second)
	ctx := context.Background()

	_, err := sender.Send(ctx, "6281234567890", transport.Message{Caption: "Bukti pembayaran"}, SendOptions{})
	require.NoError(t, err)

	res, err := sender.Send(ctx, "6281234567890", transport.Message{Caption: "Bukti pembayaran"}, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
}

func TestSend_DesyncRetriedThenSuccess(t *testing.T) {
	tr := &fakeTransport{errs: []error{errors.New("failed to decrypt message")}}
	sender, _ := newTestSender(t, tr, 10*time.Second)

	res, err := sender.Send(context.Background(), "6281234567890", transport.Message{Text: "halo"}, SendOptions{})

	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, tr.callCount())
}

func TestSend_DesyncExhaustedReturnsErrorResult(t *testing.T) {
	desync := errors.New("no session record for recipient")
	tr := &fakeTransport{errs: []error{desync, desync, desync, desync}}
	sender, _ := newTestSender(t, tr, 10*time.Second)

	res, err := sender.Send(context.Background(), "6281234567890", transport.Message{Text: "halo"}, SendOptions{})

	// Exhausted retries downgrade to a result, not a Go error
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "no session record")
	assert.Equal(t, 3, tr.callCount(), "initial attempt plus two retries")
}

func TestSend_UnclassifiedErrorPropagates(t *testing.T) {
	boom := errors.New("recipient not registered")
	tr := &fakeTransport{errs: []error{boom}}
	sender, _ := newTestSender(t, tr, 10*time.Second)

	_, err := sender.Send(context.Background(), "6281234567890", transport.Message{Text: "halo"}, SendOptions{})

	require.Error(t, err)
	assert.Equal(t, boom, err, "unclassified errors propagate unmodified")
	assert.Equal(t, 1, tr.callCount(), "no retry for unclassified errors")
}

func TestSend_DesyncCleansSessionBetweenRetries(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "session-6281234567890.0.json")
	require.NoError(t, os.WriteFile(artifact, []byte("{}"), 0o644))

	sessions := session.NewManager(dir, session.Options{SettleDelay: time.Millisecond}, discardLogger())
	tracker := dedupe.New(10 * time.Second)
	t.Cleanup(tracker.Close)

	tr := &fakeTransport{errs: []error{errors.New("bad mac")}}
	cfg := Config{MaxRetries: 2, RetryBackoff: time.Millisecond}
	sender := NewSender(tr, tracker, sessions, nil, cfg, discardLogger())

	res, err := sender.Send(context.Background(), "6281234567890", transport.Message{Text: "halo"}, SendOptions{})

	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	assert.NoFileExists(t, artifact, "session artifacts cleaned before the retry")
}

func TestSend_OutcomesRecorded(t *testing.T) {
	dlog, err := store.Open(filepath.Join(t.TempDir(), "delivery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dlog.Close() })

	tracker := dedupe.New(10 * time.Second)
	t.Cleanup(tracker.Close)

	tr := &fakeTransport{}
	cfg := Config{MaxRetries: 2, RetryBackoff: time.Millisecond}
	sender := NewSender(tr, tracker, nil, dlog, cfg, discardLogger())
	ctx := context.Background()
	msg := transport.Message{Text: "Tagihan lunas"}

	_, err = sender.Send(ctx, "6281234567890@s.whatsapp.net", msg, SendOptions{})
	require.NoError(t, err)
	_, err = sender.Send(ctx, "6281234567890@s.whatsapp.net", msg, SendOptions{})
	require.NoError(t, err)

	entries, err := dlog.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "blocked", entries[0].Status)
	assert.Equal(t, "sent", entries[1].Status)
	// Recipients are stored in normalized form
	assert.Equal(t, "6281234567890", entries[0].Recipient)
}

func TestSend_ConcurrentDuplicates(t *testing.T) {
	tr := &fakeTransport{}
	sender, _ := newTestSender(t, tr, 10*time.Second)
	ctx := context.Background()
	msg := transport.Message{Text: "Gangguan massal area Cikarang"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sender.Send(ctx, "6281234567890", msg, SendOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// The mark is atomic with the duplicate check, so exactly one of
	// the ten identical sends reaches the transport
	assert.Equal(t, 1, tr.callCount())
	assert.Equal(t, int64(9), sender.BlockedCount())
}

// slowGateTransport delays State so concurrent sends pile up between
// the duplicate check and the mark.
type slowGateTransport struct {
	fakeTransport
	stateDelay time.Duration
}

func (s *slowGateTransport) State() transport.ConnState {
	time.Sleep(s.stateDelay)
	return s.fakeTransport.State()
}

func TestSend_ConcurrentDuplicates_SlowConnectivityGate(t *testing.T) {
	tr := &slowGateTransport{stateDelay: 50 * time.Millisecond}
	sender, _ := newTestSender(t, tr, 10*time.Second)
	ctx := context.Background()
	msg := transport.Message{Text: "Tagihan Agustus sudah terbayar"}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sender.Send(ctx, "6281234567890", msg, SendOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Both sends pass the duplicate pre-check while the other is still
	// stuck in the gate; only the atomic mark decides the winner
	assert.Equal(t, 1, tr.callCount())
	assert.Equal(t, int64(1), sender.BlockedCount())
}
