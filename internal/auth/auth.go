// Package auth implements the server side of the SASL subset the D-Bus
// wire protocol uses during connection bring-up: line-oriented AUTH / DATA
// / BEGIN exchange ahead of the binary message stream. z3ntu-go-dbus/auth.go
// drives this handshake from the client seat (sends AUTH, reads OK/REJECTED);
// Server here is the mirror image, the role a broker actually plays.
package auth

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Mechanism identifies a supported SASL authentication mechanism.
type Mechanism string

const (
	MechanismExternal  Mechanism = "EXTERNAL"
	MechanismAnonymous Mechanism = "ANONYMOUS"
)

// State is the server's position in the handshake.
type State int

const (
	StateWaitingForAuth State = iota
	StateWaitingForData
	StateAuthenticated
	StateRejected
)

// Server drives one connection's SASL handshake up to BEGIN. It never
// touches the socket directly; callers feed it one line at a time (as
// produced by wire.ReadBuffer.ReadLine) and write back whatever Process
// returns.
type Server struct {
	state   State
	uuid    string
	mech    Mechanism
	authUID string
}

// NewServer returns a handshake driver that will report uuid in the
// OK response, per spec.md's requirement that every bus/listener present
// a stable 128-bit hex server UUID to new connections.
func NewServer(uuid string) *Server {
	return &Server{state: StateWaitingForAuth, uuid: uuid}
}

// Authenticated reports whether the handshake reached OK.
func (s *Server) Authenticated() bool { return s.state == StateAuthenticated }

// AuthenticatedUID returns the peer UID asserted during EXTERNAL auth, or
// "" if the mechanism didn't supply one (ANONYMOUS, or not yet authenticated).
func (s *Server) AuthenticatedUID() string { return s.authUID }

// Process consumes one line of SASL protocol and returns the line(s) to
// write back, joined by "\r\n" with no trailing terminator (the caller adds
// that once per message the same way wire.ReadBuffer expects it stripped).
// The begin result is always false: BEGIN is not accepted here and is
// handled by ProcessBegin once the handshake is Authenticated.
func (s *Server) Process(line string) (reply string, begin bool, err error) {
	switch s.state {
	case StateWaitingForAuth:
		return s.processAuth(line)
	case StateWaitingForData:
		return s.processData(line)
	default:
		return "ERROR \"not expecting input\"", false, nil
	}
}

func (s *Server) processAuth(line string) (string, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "AUTH" {
		return "ERROR \"expected AUTH\"", false, nil
	}
	if len(fields) < 2 {
		return "REJECTED EXTERNAL ANONYMOUS", false, nil
	}

	mech := Mechanism(fields[1])
	switch mech {
	case MechanismExternal:
		s.mech = mech
		if len(fields) >= 3 {
			return s.finishExternal(fields[2])
		}
		s.state = StateWaitingForData
		return "DATA", false, nil

	case MechanismAnonymous:
		s.state = StateAuthenticated
		return fmt.Sprintf("OK %s", s.uuid), false, nil

	default:
		return "REJECTED EXTERNAL ANONYMOUS", false, nil
	}
}

func (s *Server) processData(line string) (string, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR \"expected DATA\"", false, nil
	}
	switch fields[0] {
	case "DATA":
		var hexUID string
		if len(fields) >= 2 {
			hexUID = fields[1]
		}
		return s.finishExternal(hexUID)
	case "CANCEL":
		s.state = StateWaitingForAuth
		return "REJECTED EXTERNAL ANONYMOUS", false, nil
	default:
		return "ERROR \"expected DATA or CANCEL\"", false, nil
	}
}

func (s *Server) finishExternal(hexUID string) (string, bool, error) {
	uid, err := decodeUID(hexUID)
	if err != nil {
		s.state = StateRejected
		return "REJECTED EXTERNAL ANONYMOUS", false, nil
	}
	s.authUID = uid
	s.state = StateAuthenticated
	return fmt.Sprintf("OK %s", s.uuid), false, nil
}

func decodeUID(hexUID string) (string, error) {
	if hexUID == "" {
		return "", fmt.Errorf("auth: empty EXTERNAL response")
	}
	decoded, err := hex.DecodeString(hexUID)
	if err != nil {
		return "", fmt.Errorf("auth: malformed EXTERNAL response: %w", err)
	}
	if _, err := strconv.Atoi(string(decoded)); err != nil {
		return "", fmt.Errorf("auth: EXTERNAL response is not a uid: %w", err)
	}
	return string(decoded), nil
}

// ProcessBegin is called once the handshake is Authenticated and the next
// line off the wire has arrived; it is split out from Process because BEGIN
// carries no trailing fields and unconditionally ends the text protocol.
func (s *Server) ProcessBegin(line string) (begin bool) {
	return s.state == StateAuthenticated && line == "BEGIN"
}
