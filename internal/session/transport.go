package session

import (
	"context"
	"errors"
	"strings"
)

// ErrStatusUnsupported is returned when the transport cannot report session status.
var ErrStatusUnsupported = errors.New("transport does not report session status")

// ErrAbortUnsupported is returned when the transport cannot abort sessions.
var ErrAbortUnsupported = errors.New("transport does not support abort")

// Transport is the remote session API background tasks drive.
type Transport interface {
	// Create allocates a new session, optionally as a child of parentID.
	Create(ctx context.Context, parentID string) (string, error)

	// Prompt sends content into a session for processing by agent.
	Prompt(ctx context.Context, sessionID, content, agent string) error

	// Messages returns the full ordered transcript of a session.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
}

// StatusReporter is implemented by transports that can report a coarse
// session state token.
type StatusReporter interface {
	Status(ctx context.Context, sessionID string) (string, error)
}

// Aborter is implemented by transports that accept cancellation requests.
type Aborter interface {
	Abort(ctx context.Context, sessionID string) error
}

// Capabilities is the result of negotiating the optional transport methods
// once, so callers never type-assert the transport themselves.
type Capabilities struct {
	Transport
	status StatusReporter
	abort  Aborter
}

// capabilityProber is implemented by decorators that always expose the
// optional methods but only support them when the wrapped transport does.
type capabilityProber interface {
	probeCapabilities() (status bool, abort bool)
}

// Resolve inspects t for the optional capabilities.
func Resolve(t Transport) Capabilities {
	c := Capabilities{Transport: t}
	if s, ok := t.(StatusReporter); ok {
		c.status = s
	}
	if a, ok := t.(Aborter); ok {
		c.abort = a
	}
	if p, ok := t.(capabilityProber); ok {
		status, abort := p.probeCapabilities()
		if !status {
			c.status = nil
		}
		if !abort {
			c.abort = nil
		}
	}
	return c
}

func (c Capabilities) probeCapabilities() (bool, bool) {
	return c.status != nil, c.abort != nil
}

// CanReportStatus reports whether Status is available.
func (c Capabilities) CanReportStatus() bool { return c.status != nil }

// CanAbort reports whether Abort is available.
func (c Capabilities) CanAbort() bool { return c.abort != nil }

// Status queries the session state, or returns ErrStatusUnsupported.
func (c Capabilities) Status(ctx context.Context, sessionID string) (string, error) {
	if c.status == nil {
		return "", ErrStatusUnsupported
	}
	return c.status.Status(ctx, sessionID)
}

// Abort requests cancellation of the session, or returns ErrAbortUnsupported.
func (c Capabilities) Abort(ctx context.Context, sessionID string) error {
	if c.abort == nil {
		return ErrAbortUnsupported
	}
	return c.abort.Abort(ctx, sessionID)
}

// Idle-equivalent status tokens.
const (
	StatusIdle      = "idle"
	StatusCompleted = "completed"
	StatusDone      = "done"
	StatusBusy      = "busy"
)

// IsIdle reports whether token means the session has finished its input.
func IsIdle(token string) bool {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case StatusIdle, StatusCompleted, StatusDone:
		return true
	}
	return false
}

// Message is one entry of a session transcript.
type Message struct {
	Role  string // "user", "assistant", ...
	Parts []Part
}

// Part is a segment of a message. Only parts of type "text" carry Text.
type Part struct {
	Type string
	Text string
}

// PartTypeText marks textual message parts.
const PartTypeText = "text"

// TextParts returns the trimmed text of every textual part, in order,
// skipping blank segments.
func (m Message) TextParts() []string {
	var out []string
	for _, p := range m.Parts {
		if p.Type != PartTypeText {
			continue
		}
		if text := strings.TrimSpace(p.Text); text != "" {
			out = append(out, text)
		}
	}
	return out
}
