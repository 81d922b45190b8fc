package router

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nalim-labs/dbusd/internal/broker"
	"github.com/nalim-labs/dbusd/internal/busiface"
	"github.com/nalim-labs/dbusd/internal/session"
	"github.com/nalim-labs/dbusd/internal/wire"
)

// testPeer pairs a broker-side Session with the client end of a net.Pipe.
// net.Pipe is unbuffered, so a background goroutine must be reading
// whenever the broker-side Session.Send could block on a write; drain
// just inspects what that goroutine has accumulated so far.
type testPeer struct {
	sess       *session.Session
	clientConn net.Conn

	mu sync.Mutex
	rb wire.ReadBuffer
}

func newTestPeer(t *testing.T, uniqueName string) *testPeer {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := session.New(serverConn, uniqueName, uniqueName, "deadbeef")
	p := &testPeer{sess: sess, clientConn: clientConn}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := clientConn.Read(buf)
			if n > 0 {
				p.mu.Lock()
				p.rb.WriteBytes(buf[:n])
				p.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return p
}

// drain waits briefly for the background reader to catch up, then
// returns every complete message accumulated so far.
func (p *testPeer) drain(t *testing.T) []*wire.Message {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*wire.Message
	for {
		msg, ok, err := p.rb.ReadMessage()
		if err != nil || !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

func newTestBroker() *broker.Server {
	return broker.New(nil, func() (string, error) { return "abc123", nil })
}

func TestHelloGateClosesPreHelloSession(t *testing.T) {
	b := newTestBroker()
	peer := newTestPeer(t, ":1.0")
	b.AddSession(peer.sess)

	msg := &wire.Message{
		Type:      wire.TypeMethodCall,
		Serial:    5,
		Dest:      busiface.BusName,
		Interface: busiface.IfacePeer,
		Member:    "Ping",
		Sender:    ":1.0",
	}
	Route(b, peer.sess, msg)

	replies := peer.drain(t)
	if len(replies) != 1 {
		t.Fatalf("replies = %v, want exactly 1 AccessDenied error", replies)
	}
	if replies[0].Type != wire.TypeError || replies[0].ErrorName != busiface.ErrAccessDenied {
		t.Fatalf("reply = %+v, want AccessDenied error", replies[0])
	}
	if replies[0].ReplySerial != 5 {
		t.Fatalf("ReplySerial = %d, want 5", replies[0].ReplySerial)
	}

	// the session should have been closed; a further write must fail.
	if _, err := peer.sess.Conn.Write([]byte("x")); err == nil {
		t.Fatalf("expected write on closed session to fail")
	}
}

func TestHelloSucceedsAndGrantsAccess(t *testing.T) {
	b := newTestBroker()
	peer := newTestPeer(t, ":1.0")
	b.AddSession(peer.sess)

	hello := &wire.Message{
		Type: wire.TypeMethodCall, Serial: 1, Dest: busiface.BusName,
		Interface: busiface.IfaceBus, Member: "Hello", Sender: ":1.0",
	}
	Route(b, peer.sess, hello)

	replies := peer.drain(t)
	if len(replies) != 1 || replies[0].Type != wire.TypeMethodReturn {
		t.Fatalf("Hello replies = %v", replies)
	}
	if !peer.sess.HelloReceived {
		t.Fatalf("HelloReceived = false after successful Hello")
	}

	ping := &wire.Message{
		Type: wire.TypeMethodCall, Serial: 2, Dest: busiface.BusName,
		Interface: busiface.IfacePeer, Member: "Ping", Sender: ":1.0",
	}
	Route(b, peer.sess, ping)
	replies = peer.drain(t)
	if len(replies) != 1 || replies[0].Type != wire.TypeMethodReturn || replies[0].ReplySerial != 2 {
		t.Fatalf("Ping reply = %v", replies)
	}
}

func TestServiceUnknownRouting(t *testing.T) {
	b := newTestBroker()
	peer := newTestPeer(t, ":1.0")
	peer.sess.HelloReceived = true
	b.AddSession(peer.sess)

	msg := &wire.Message{
		Type: wire.TypeMethodCall, Serial: 9, Dest: "com.example.Missing",
		Interface: "com.example.Missing", Member: "DoThing", Sender: ":1.0",
	}
	Route(b, peer.sess, msg)

	replies := peer.drain(t)
	if len(replies) != 1 {
		t.Fatalf("replies = %v, want exactly 1 ServiceUnknown error", replies)
	}
	if replies[0].ErrorName != busiface.ErrServiceUnknown || replies[0].ReplySerial != 9 {
		t.Fatalf("reply = %+v", replies[0])
	}
}

func TestRequestNameOwnershipSignalsDeliveredToInterestedSessions(t *testing.T) {
	b := newTestBroker()
	a := newTestPeer(t, ":1.0")
	a.sess.HelloReceived = true
	b.AddSession(a.sess)

	watcher := newTestPeer(t, ":1.9")
	watcher.sess.HelloReceived = true
	b.AddSession(watcher.sess)
	if _, err := watcher.sess.AddMatch("type='signal',member='NameOwnerChanged'"); err != nil {
		t.Fatalf("AddMatch: %v", err)
	}

	req := &wire.Message{
		Type: wire.TypeMethodCall, Serial: 1, Dest: busiface.BusName,
		Interface: busiface.IfaceBus, Member: "RequestName", Sender: ":1.0",
		Sig: "su", Values: []interface{}{"com.example.S", uint32(0)},
	}
	Route(b, a.sess, req)

	// A receives the NameAcquired signal unicast to the new owner, then the
	// RequestName method_return (signals are routed before the reply).
	aReplies := a.drain(t)
	if len(aReplies) != 2 {
		t.Fatalf("A's replies = %v, want a NameAcquired signal and a method_return", aReplies)
	}
	if aReplies[0].Type != wire.TypeSignal || aReplies[0].Member != "NameAcquired" || aReplies[0].Values[0] != "com.example.S" {
		t.Fatalf("A's first message = %+v, want NameAcquired(com.example.S)", aReplies[0])
	}
	if aReplies[1].Type != wire.TypeMethodReturn {
		t.Fatalf("A's second message = %+v, want method_return", aReplies[1])
	}
	if got := aReplies[1].Values[0].(uint32); got != 1 {
		t.Fatalf("RequestName reply code = %d, want 1 (primary_owner)", got)
	}

	watcherReplies := watcher.drain(t)
	if len(watcherReplies) != 1 {
		t.Fatalf("watcher replies = %v, want exactly 1 NameOwnerChanged signal", watcherReplies)
	}
	sig := watcherReplies[0]
	if sig.Type != wire.TypeSignal || sig.Member != "NameOwnerChanged" {
		t.Fatalf("watcher got = %+v, want NameOwnerChanged signal", sig)
	}
	if sig.Values[0] != "com.example.S" || sig.Values[2] != ":1.0" {
		t.Fatalf("NameOwnerChanged values = %v", sig.Values)
	}
}
