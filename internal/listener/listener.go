package listener

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/nalim-labs/dbusd/internal/broker"
	"github.com/nalim-labs/dbusd/internal/busuuid"
	"github.com/nalim-labs/dbusd/internal/logger"
	"github.com/nalim-labs/dbusd/internal/router"
	"github.com/nalim-labs/dbusd/internal/session"
)

// sem bounds in-flight accepted connections across every listener, the
// same backpressure valve life-stream's server.go uses around its MQTT
// accept loop, generalized from a package-level channel to a per-process
// value shared by every bound address.
var sem = make(chan struct{}, 10000)

// Listener owns one bound address: its net.Listener, its advertised
// socket UUID (spec §3's "randomly generated 128-bit UUID"), and the
// monotonic per-listener connection counter that seeds each accepted
// session's unique name.
type Listener struct {
	ID       string
	Address  string
	ln       net.Listener
	uuid     string
	nextConn atomic.Uint64
}

// New binds addrStr and registers its UUID with the broker so GetId can
// answer per-listener (spec §4.5).
func New(id, addrStr string, b *broker.Server) (*Listener, error) {
	addr, err := ParseAddress(addrStr)
	if err != nil {
		return nil, err
	}
	ln, resolved, err := Listen(addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{ID: id, Address: resolved, ln: ln, uuid: busuuid.New()}
	b.RegisterListener(id, l.uuid)
	return l, nil
}

// Serve runs the accept loop until the listener is closed. Each accepted
// connection is minted a unique name ":<connId>.<listenerSeq>" and handed
// to the session package's framing loop in its own goroutine (spec §5's
// "concurrency expressed as I/O-driven callbacks" realised, in Go, as
// goroutine-per-connection with all shared state behind broker.Server's
// lock).
func (l *Listener) Serve(b *broker.Server) error {
	logger.InfoF("Listener %s bound on %s", l.ID, l.Address)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return fmt.Errorf("listener %s: accept: %w", l.ID, err)
		}

		seq := l.nextConn.Add(1)
		uniqueName := fmt.Sprintf(":%s.%d", l.ID, seq)
		logger.DebugF("Listener %s: accepted %s as %s", l.ID, conn.RemoteAddr(), uniqueName)

		sem <- struct{}{}
		go func(c net.Conn, name string) {
			defer func() { <-sem }()
			serveSession(b, l, c, name)
		}(conn, uniqueName)
	}
}

// Close stops accepting new connections and, for a unix socket, unlinks
// its path (spec §5's cancellation contract).
func (l *Listener) Close() error {
	err := l.ln.Close()
	if addr, parseErr := ParseAddress(l.Address); parseErr == nil {
		Unlink(addr)
	}
	return err
}

// Invoke satisfies event.Callable so a Listener can be registered with
// the process-wide event.Cleaner for graceful-shutdown unbinding.
func (l *Listener) Invoke(_ context.Context) error { return l.Close() }

// serveSession drives one connection through the SASL handshake and then
// the message-framing loop, per spec §4.1. Once a chunk of bytes has been
// drained as far as it will go, the buffer is compacted (spec §4.1: "after
// each pass, compact (flush) the buffer") so a long-lived connection's
// buffer doesn't grow for the life of the session. It never returns until
// the connection ends.
func serveSession(b *broker.Server, l *Listener, conn net.Conn, uniqueName string) {
	sess := session.New(conn, l.ID, uniqueName, l.uuid)

	defer func() {
		_ = conn.Close()
		for _, t := range b.RemoveSession(uniqueName) {
			router.EmitOwnershipTransition(b, t)
		}
		logger.DebugF("session %s: closed", uniqueName)
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			logger.DebugF("session %s: read ended: %v", uniqueName, err)
			return
		}
		sess.Feed(buf[:n])

		for {
			progressed, done := pump(b, sess, uniqueName)
			if done {
				return
			}
			if !progressed {
				break
			}
		}
		sess.Flush()
	}
}

// pump drains as much of the session's buffer as it can: SASL lines
// before BEGIN, framed messages after. It returns progressed=false once
// the buffer makes no further progress, matching spec §4.1's "loop until
// the buffer makes no further progress".
func pump(b *broker.Server, sess *session.Session, uniqueName string) (progressed, done bool) {
	switch {
	case sess.Auth.Authenticated() && !sess.Begun:
		line, ok := sess.ReadLine()
		if !ok {
			return false, false
		}
		if !sess.Auth.ProcessBegin(line) {
			logger.WarnF("session %s: expected BEGIN, got %q", uniqueName, line)
			return false, true
		}
		sess.Begun = true
		b.AddSession(sess)
		return true, false

	case !sess.Begun:
		line, ok := sess.ReadLine()
		if !ok {
			return false, false
		}
		reply, _, err := sess.Auth.Process(line)
		if err != nil {
			logger.WarnF("session %s: auth error: %v", uniqueName, err)
			return false, true
		}
		if reply != "" {
			if sendErr := sess.SendRaw(reply); sendErr != nil {
				return false, true
			}
		}
		return true, false

	default:
		msg, ok, err := sess.ReadMessage()
		if err != nil {
			logger.WarnF("session %s: framing error: %v", uniqueName, err)
			return false, true
		}
		if !ok {
			return false, false
		}
		msg.Sender = uniqueName
		router.Route(b, sess, msg)
		return true, false
	}
}
