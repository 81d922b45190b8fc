// Package session models one accepted connection's lifecycle: the SASL
// handshake, its assigned unique bus name, and the framed message stream
// once BEGIN has been seen. It generalizes life-stream's Connection
// (internal/connection/connection_manager.go), which pairs a net.Conn with
// a client identifier, into the richer per-connection state a D-Bus broker
// needs to carry: auth progress, match rules, and Hello-gating.
package session

import (
	"fmt"
	"net"
	"sync"

	"github.com/nalim-labs/dbusd/internal/auth"
	"github.com/nalim-labs/dbusd/internal/matchrule"
	"github.com/nalim-labs/dbusd/internal/wire"
)

// Session is owned by exactly one reader goroutine (spec's single
// "accept loop spawns one goroutine per connection" model) but Send is
// called concurrently by other connections' goroutines relaying signals
// and method calls, so writes are serialized under writeMu.
type Session struct {
	Conn       net.Conn
	ID         string // id of the listener that accepted the connection, not the bus unique name
	UniqueName string // assigned at accept time by the listener; e.g. ":1.42"

	Auth  *auth.Server
	Begun bool // true once the SASL handshake reached BEGIN

	HelloReceived bool

	rb wire.ReadBuffer

	mu    sync.Mutex
	rules []matchrule.Rule

	writeMu sync.Mutex
}

// New wraps an accepted connection. uuid is the bus/listener server UUID
// the SASL OK response must present.
func New(conn net.Conn, id, uniqueName, uuid string) *Session {
	return &Session{
		Conn:       conn,
		ID:         id,
		UniqueName: uniqueName,
		Auth:       auth.NewServer(uuid),
	}
}

// Feed appends freshly-read bytes to the session's buffer.
func (s *Session) Feed(p []byte) {
	s.rb.WriteBytes(p)
}

// ReadLine pulls one SASL protocol line, if a full one has arrived.
func (s *Session) ReadLine() (string, bool) {
	return s.rb.ReadLine()
}

// ReadMessage pulls one framed message, if a full one has arrived.
func (s *Session) ReadMessage() (*wire.Message, bool, error) {
	return s.rb.ReadMessage()
}

// Flush compacts the read buffer, dropping everything already consumed.
// Spec.md §4.1 calls for this after every drained pass over the buffer,
// so a long-lived connection's buffer doesn't grow for the life of the
// session.
func (s *Session) Flush() {
	s.rb.Flush()
}

// Send marshals and writes msg to the connection. It is the only path
// that touches the socket for writing, so concurrent senders (the
// session's own reader goroutine replying to a method call, and other
// sessions' goroutines relaying a signal or a routed method call) never
// interleave partial frames.
func (s *Session) Send(msg *wire.Message) error {
	encoded, err := wire.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session %s: marshal: %w", s.UniqueName, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	total := 0
	for total < len(encoded) {
		n, err := s.Conn.Write(encoded[total:])
		if err != nil {
			return fmt.Errorf("session %s: write: %w", s.UniqueName, err)
		}
		total += n
	}
	return nil
}

// SendRaw writes pre-marshalled bytes, used for the SASL text lines that
// precede message framing.
func (s *Session) SendRaw(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.Conn.Write([]byte(line + "\r\n"))
	return err
}

// AddMatch registers a new match rule string, returning its parsed form
// so the caller (the bus interface's AddMatch method) can reject
// malformed input before acknowledging the call.
func (s *Session) AddMatch(ruleStr string) (matchrule.Rule, error) {
	rule, err := matchrule.Parse(ruleStr)
	if err != nil {
		return matchrule.Rule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	return rule, nil
}

// RemoveMatch parses ruleStr and drops the first registered rule equal to
// the parsed rule, so key order and unknown keys in ruleStr do not matter.
func (s *Session) RemoveMatch(ruleStr string) error {
	target, err := matchrule.Parse(ruleStr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r == target {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("session: no matching rule %q registered", ruleStr)
}

// WantsSignal reports whether any of the session's registered match
// rules accepts msg.
func (s *Session) WantsSignal(msg *wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.Match(msg) {
			return true
		}
	}
	return false
}
