// Package broker holds the server-wide state the routing engine and bus
// interface handler both operate on: the live session table, the name
// registry, and the broker-originated serial counter. life-stream's
// ConnectionManager (internal/connection/connection_manager.go) is the
// closest analogue — a process-wide map of live connections guarded by a
// single lock — generalized here from a sync.Map keyed by client id to an
// explicit mutex-guarded map keyed by bus unique name, because routing
// needs point-in-time consistent snapshots across the session table and
// the name registry together (spec.md §9's "serialise name-registry
// mutations under one critical section" guidance for a threaded port of
// a cooperative design).
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/nalim-labs/dbusd/internal/audit"
	"github.com/nalim-labs/dbusd/internal/names"
	"github.com/nalim-labs/dbusd/internal/session"
)

const busName = "org.freedesktop.DBus"

// MachineIDFunc resolves the collaborator spec.md §6 calls get_machine_id:
// asynchronous, and any IO failure fails Peer.GetMachineId.
type MachineIDFunc func() (string, error)

// Server is the broker's single logical event loop's state, per spec §5.
// Every exported method that touches sessions or the registry takes the
// lock itself; callers outside this package never see a window where the
// two are individually correct but jointly inconsistent.
type Server struct {
	mu sync.Mutex

	sessions      map[string]*session.Session // keyed by unique name
	registry      *names.Registry
	activatable   *names.Activatable
	nextSerial    uint32
	listenerUUIDs map[string]string // listener id -> hex UUID, for GetId

	machineID MachineIDFunc

	// audit is nil unless the operator configured an audit store; every
	// call site below treats a nil *audit.Sink as a no-op.
	audit *audit.Sink

	// Features and Interfaces are both empty. Properties.Get/GetAll in
	// busiface answer from their own fixed empty lists and do not read
	// these fields.
	Features   []string
	Interfaces []string
}

// New returns an empty broker. activatableNames configures the static
// activation-list entries StartServiceByName/ListActivatableNames see;
// actual activation is a Non-goal (spec §1), so that list only ever
// yields ServiceNotFound/already_running outcomes.
func New(activatableNames []string, machineID MachineIDFunc) *Server {
	return &Server{
		sessions:      make(map[string]*session.Session),
		registry:      names.New(),
		activatable:   names.NewActivatable(activatableNames),
		nextSerial:    1,
		listenerUUIDs: make(map[string]string),
		machineID:     machineID,
	}
}

// RegisterListener records uuid as the SASL/GetId identity of a bound
// listener, so GetId can answer differently per listener as spec §4.5
// requires.
func (s *Server) RegisterListener(listenerID, uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenerUUIDs[listenerID] = uuid
}

func (s *Server) ListenerUUID(listenerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenerUUIDs[listenerID]
}

// SetAudit wires an optional audit sink; a nil sink (the default) leaves
// every audit call below a no-op.
func (s *Server) SetAudit(sink *audit.Sink) {
	s.audit = sink
}

// AddSession admits a newly-authenticated session into the routing table.
func (s *Server) AddSession(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.UniqueName] = sess
	s.mu.Unlock()
	s.audit.RecordSessionConnected(sess.UniqueName, sess.ID, time.Now())
}

// RemoveSession evicts a disconnected session and releases every name it
// held, returning the resulting ownership transitions so the caller can
// emit the required signals after the session has actually been removed
// from the table (spec §9's open-question fix).
func (s *Server) RemoveSession(uniqueName string) []names.Transition {
	s.mu.Lock()
	listenerID := ""
	if sess, ok := s.sessions[uniqueName]; ok {
		listenerID = sess.ID
	}
	delete(s.sessions, uniqueName)
	transitions := s.registry.ReleaseAllOwnedBy(uniqueName)
	s.mu.Unlock()
	s.audit.RecordSessionDisconnected(uniqueName, listenerID, time.Now())
	for _, t := range transitions {
		s.auditOwnerChange(t.Name, t.RequestResult)
	}
	return transitions
}

// Session looks up a live session by its unique name.
func (s *Server) Session(uniqueName string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uniqueName]
	return sess, ok
}

// Sessions returns a snapshot slice of every live session, safe to
// iterate without holding the broker's lock.
func (s *Server) Sessions() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// NextSerial returns the next serial in the broker's own, independent
// serial space (spec §4.4).
func (s *Server) NextSerial() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	serial := s.nextSerial
	s.nextSerial++
	return serial
}

// RequestName and the rest of the registry-facing methods below take the
// broker lock around the registry call so a concurrent RemoveSession (on
// a different connection disconnecting) can't interleave with the
// registry mutation spec §4.3 treats as a single step.

func (s *Server) RequestName(name, uniqueName string, flags names.RequestFlag) names.RequestResult {
	s.mu.Lock()
	res := s.registry.RequestName(name, uniqueName, flags)
	s.mu.Unlock()
	s.auditOwnerChange(name, res)
	return res
}

func (s *Server) ReleaseName(name, uniqueName string) (names.ReleaseReplyCode, names.RequestResult) {
	s.mu.Lock()
	code, res := s.registry.ReleaseName(name, uniqueName)
	s.mu.Unlock()
	s.auditOwnerChange(name, res)
	return code, res
}

func (s *Server) auditOwnerChange(name string, res names.RequestResult) {
	if !res.OwnerChanged {
		return
	}
	s.audit.RecordNameOwnerChanged(name, res.OldOwner, res.NewOwner, time.Now())
}

func (s *Server) GetNameOwner(name string) (string, bool) {
	if name == busName {
		return busName, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetNameOwner(name)
}

func (s *Server) NameHasOwner(name string) bool {
	if name == busName {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.NameHasOwner(name)
}

func (s *Server) ListQueuedOwners(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.ListQueuedOwners(name)
}

// ListNames unions the bus name, every live unique name, and every
// queue's well-known name, per spec §4.3.
func (s *Server) ListNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{busName: true}
	names := []string{busName}
	for uniqueName := range s.sessions {
		if !seen[uniqueName] {
			seen[uniqueName] = true
			names = append(names, uniqueName)
		}
	}
	for _, n := range s.registry.ListNames() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

func (s *Server) ListActivatableNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activatable.List()
}

// StartServiceByName implements spec §4.3: already-owned or the bus
// itself reports already_running; anything else fails ServiceNotFound,
// since this broker never launches services on demand.
func (s *Server) StartServiceByName(name string) (alreadyRunning bool, err error) {
	if s.NameHasOwner(name) {
		return true, nil
	}
	s.mu.Lock()
	isActivatable := s.activatable.IsActivatable(name)
	s.mu.Unlock()
	if isActivatable {
		return false, fmt.Errorf("names: service %q is configured but activation is not supported", name)
	}
	return false, fmt.Errorf("names: service %q not found", name)
}

// MachineID resolves the collaborator get_machine_id() spec §6 describes.
func (s *Server) MachineID() (string, error) {
	if s.machineID == nil {
		return "", fmt.Errorf("broker: no machine id source configured")
	}
	return s.machineID()
}
