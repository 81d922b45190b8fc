// Package router implements the broker's message-dispatch core: fan-out
// to matching sessions, the pre-Hello access gate, dispatch to the bus's
// own interface, and unroutable-destination errors — spec.md §4.4. There
// is no single teacher analogue for this; it plays the role
// life-stream's server.go's per-packet switch plays for MQTT packet
// types, generalized from "one connection's state machine decides what
// to do with its own packet" to "one shared engine decides where every
// message in the system goes".
package router

import (
	"fmt"

	"github.com/nalim-labs/dbusd/internal/broker"
	"github.com/nalim-labs/dbusd/internal/busiface"
	"github.com/nalim-labs/dbusd/internal/logger"
	"github.com/nalim-labs/dbusd/internal/names"
	"github.com/nalim-labs/dbusd/internal/session"
	"github.com/nalim-labs/dbusd/internal/wire"
)

// Route implements spec §4.4 steps 1-5 for one inbound message, whose
// sender has already been rewritten to caller's unique name by the
// session's framing loop. caller is nil for broker-originated replies and
// signals re-entering the router (they have no session to Hello-gate or
// evict).
func Route(b *broker.Server, caller *session.Session, msg *wire.Message) {
	fanOut(b, msg)

	if caller != nil && !caller.HelloReceived && !isHelloCall(msg) {
		logger.WarnF("session %s: closed for speaking before Hello", caller.UniqueName)
		denied := wire.NewError(msg, busiface.ErrAccessDenied, "Message before Hello")
		emitReply(b, denied)
		_ = caller.Conn.Close()
		return
	}

	if msg.Dest == busiface.BusName && msg.Type == wire.TypeMethodCall {
		reply, signals := busiface.Dispatch(b, caller, msg)
		for _, sig := range signals {
			emitReply(b, sig)
		}
		if reply != nil {
			emitReply(b, reply)
		}
		return
	}

	if msg.Dest != "" && msg.Type == wire.TypeMethodCall && !isKnownDestination(b, msg.Dest) {
		unknown := wire.NewError(msg, busiface.ErrServiceUnknown, fmt.Sprintf("The name %s is not registered", msg.Dest))
		emitReply(b, unknown)
	}
}

func isHelloCall(msg *wire.Message) bool {
	return msg.Dest == busiface.BusName && msg.Interface == busiface.IfaceBus && msg.Member == "Hello"
}

func isKnownDestination(b *broker.Server, dest string) bool {
	return dest == busiface.BusName || resolveDest(b, dest) != ""
}

// fanOut delivers msg to every session whose destination matches or whose
// match rules accept it, per spec §4.2: a session receives a message iff
// its unique name is the destination, or any of its registered rules
// match. msg.destination may name a well-known name rather than a
// unique name, so it is resolved to the owning session's identity first;
// the message itself is never rewritten, only the delivery decision.
func fanOut(b *broker.Server, msg *wire.Message) {
	destUniqueName := resolveDest(b, msg.Dest)
	for _, sess := range b.Sessions() {
		if (destUniqueName != "" && destUniqueName == sess.UniqueName) || sess.WantsSignal(msg) {
			if err := sess.Send(msg); err != nil {
				logger.WarnF("session %s: fan-out send failed: %v", sess.UniqueName, err)
			}
		}
	}
}

// resolveDest turns a destination field — a unique name, a well-known
// name, or empty — into the unique name of the session it addresses, or
// "" if it addresses no live session (including the bus itself, which is
// handled separately in Route, and an unregistered name).
func resolveDest(b *broker.Server, dest string) string {
	if dest == "" || dest == busiface.BusName {
		return ""
	}
	if _, ok := b.Session(dest); ok {
		return dest
	}
	owner, ok := b.GetNameOwner(dest)
	if !ok {
		return ""
	}
	return owner
}

// emitReply stamps a broker-originated message (a method_return, error,
// or signal produced by busiface) with the bus's sender identity and the
// broker's own serial, then re-enters the router exactly as spec §4.4
// step 5 and §4.6 require.
func emitReply(b *broker.Server, msg *wire.Message) {
	msg.Sender = busiface.BusName
	msg.Serial = b.NextSerial()
	Route(b, nil, msg)
}

// EmitOwnershipTransition builds and routes the signals for one name a
// disconnecting session released: NameOwnerChanged, plus NameAcquired for
// a promoted waiter. broker.Server.RemoveSession has already removed the
// session from the routing table and released its names under one lock,
// so no NameLost is sent to the departed session.
func EmitOwnershipTransition(b *broker.Server, t names.Transition) {
	for _, sig := range busiface.OwnershipSignals(b, t.Name, t.RequestResult) {
		emitReply(b, sig)
	}
}
