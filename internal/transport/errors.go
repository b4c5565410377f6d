// ABOUTME: Error kinds and classification for transport failures.
// ABOUTME: Tagged kinds are preferred; substring matching covers free-text legacy errors.

package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrKind classifies a transport failure into the categories the
// reliability layer knows how to handle.
type ErrKind int

const (
	// KindOther is an unclassified failure. Never retried.
	KindOther ErrKind = iota

	// KindSessionDesync means the per-recipient cryptographic session
	// state no longer matches the remote side. Recoverable after the
	// session artifacts are cleared and re-established.
	KindSessionDesync

	// KindTimeout means the transport did not respond in time.
	KindTimeout

	// KindNotConnected means the transport connection is not open.
	KindNotConnected
)

// String returns a short name for the kind, used in logs and the delivery log.
func (k ErrKind) String() string {
	switch k {
	case KindSessionDesync:
		return "session_desync"
	case KindTimeout:
		return "timeout"
	case KindNotConnected:
		return "not_connected"
	default:
		return "other"
	}
}

// ErrNotConnected is returned before any send is attempted when the
// connectivity state is not open.
var ErrNotConnected = &Error{Kind: KindNotConnected, Message: "transport connection is not open"}

// Error is a transport failure with an explicit kind. Transports that
// expose structured errors should return this type so classification
// does not depend on message text.
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// desyncSignatures are substrings that identify a corrupted per-recipient
// session in free-text errors from legacy transport libraries.
var desyncSignatures = []string{
	"decrypt",
	"bad mac",
	"session error",
	"no session",
	"senderkeyrecord",
	"prekey",
}

// timeoutSignatures identify timeout-class failures in free-text errors.
var timeoutSignatures = []string{
	"timed out",
	"timeout",
}

// Classify maps an error to its ErrKind. A tagged *Error wins; otherwise
// the error text is matched against known signatures, and context
// deadline errors count as timeouts. Nil classifies as KindOther.
func Classify(err error) ErrKind {
	if err == nil {
		return KindOther
	}

	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	text := strings.ToLower(err.Error())
	for _, sig := range desyncSignatures {
		if strings.Contains(text, sig) {
			return KindSessionDesync
		}
	}
	for _, sig := range timeoutSignatures {
		if strings.Contains(text, sig) {
			return KindTimeout
		}
	}

	return KindOther
}
