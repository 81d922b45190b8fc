// Package busiface implements the broker's own service: the methods of
// org.freedesktop.DBus and its Peer/Introspectable/Properties siblings
// that every bus exposes at path /org/freedesktop/DBus. There is no
// teacher analogue for a bus-management RPC surface; this is grounded on
// spec.md §4.5's complete method enumeration and on z3ntu-go-dbus's
// dbus.go for which literal interface/member/error strings a real bus
// uses, with the life-stream logger/error-wrapping idiom carried through
// from the rest of this broker.
package busiface

import (
	"fmt"
	"strings"

	"github.com/nalim-labs/dbusd/internal/broker"
	"github.com/nalim-labs/dbusd/internal/logger"
	"github.com/nalim-labs/dbusd/internal/names"
	"github.com/nalim-labs/dbusd/internal/session"
	"github.com/nalim-labs/dbusd/internal/wire"
)

const (
	BusName       = "org.freedesktop.DBus"
	BusPath       = wire.ObjectPath("/org/freedesktop/DBus")
	IfaceBus      = "org.freedesktop.DBus"
	IfacePeer     = "org.freedesktop.DBus.Peer"
	IfaceIntro    = "org.freedesktop.DBus.Introspectable"
	IfaceProps    = "org.freedesktop.DBus.Properties"
)

// Error wire names, the external contract of spec.md §7.
const (
	ErrAccessDenied      = "org.freedesktop.DBus.Error.AccessDenied"
	ErrFailed            = "org.freedesktop.DBus.Error.Failed"
	ErrInvalidArgs       = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrUnknownMethod     = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrUnknownInterface  = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrUnknownProperty   = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrPropertyReadOnly  = "org.freedesktop.DBus.Error.PropertyReadOnly"
	ErrServiceUnknown    = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrServiceNotFound   = "org.freedesktop.DBus.Error.ServiceNotFound"
	ErrNameHasNoOwner    = "org.freedesktop.DBus.Error.NameHasNoOwner"
	ErrMatchRuleInvalid  = "org.freedesktop.DBus.Error.MatchRuleInvalid"
	ErrMatchRuleNotFound = "org.freedesktop.DBus.Error.MatchRuleNotFound"
)

// Dispatch runs one method_call addressed to the bus itself and returns
// the response to send back plus any signals the call provoked (always
// NameOwnerChanged before the NameLost/NameAcquired pair, per spec §4.6).
// The response is never nil: every call to Dispatch produces exactly one
// method_return or error.
func Dispatch(b *broker.Server, caller *session.Session, msg *wire.Message) (reply *wire.Message, signals []*wire.Message) {
	switch msg.Interface {
	case "", IfaceBus:
		reply, signals = dispatchBus(b, caller, msg)
	case IfacePeer:
		reply = dispatchPeer(b, caller, msg)
	case IfaceIntro:
		reply = dispatchIntrospectable(msg)
	case IfaceProps:
		reply = dispatchProperties(msg)
	default:
		reply = errorReply(msg, ErrUnknownInterface, fmt.Sprintf("Interface %q not found", msg.Interface))
	}
	return reply, signals
}

func errorReply(call *wire.Message, name, message string) *wire.Message {
	return wire.NewError(call, name, message)
}

func methodReturn(call *wire.Message, values ...interface{}) *wire.Message {
	reply, err := wire.NewMethodReturn(call, values...)
	if err != nil {
		logger.ErrorF("busiface: building method_return for %s: %v", call.Member, err)
		return errorReply(call, ErrFailed, err.Error())
	}
	return reply
}

func dispatchBus(b *broker.Server, caller *session.Session, msg *wire.Message) (*wire.Message, []*wire.Message) {
	switch msg.Member {
	case "Hello":
		return hello(caller, msg), nil
	case "RequestName":
		return requestName(b, caller, msg)
	case "ReleaseName":
		return releaseName(b, caller, msg)
	case "ListQueuedOwners":
		return listQueuedOwners(b, msg), nil
	case "ListNames":
		return listNames(b, msg), nil
	case "ListActivatableNames":
		return listActivatableNames(b, msg), nil
	case "NameHasOwner":
		return nameHasOwner(b, msg), nil
	case "StartServiceByName":
		return startServiceByName(b, msg), nil
	case "GetNameOwner":
		return getNameOwner(b, msg), nil
	case "AddMatch":
		return addMatch(caller, msg), nil
	case "RemoveMatch":
		return removeMatch(caller, msg), nil
	case "GetId":
		return getID(b, caller, msg), nil
	default:
		return errorReply(msg, ErrUnknownMethod, fmt.Sprintf("Method %q not found on interface %q", msg.Member, IfaceBus)), nil
	}
}

func hello(caller *session.Session, msg *wire.Message) *wire.Message {
	if caller == nil {
		return errorReply(msg, ErrFailed, "Hello called without a session")
	}
	if caller.HelloReceived {
		return errorReply(msg, ErrFailed, "Already handled Hello message")
	}
	caller.HelloReceived = true
	return methodReturn(msg, caller.UniqueName)
}

func requireString(msg *wire.Message, n int) ([]string, bool) {
	if len(msg.Values) != n {
		return nil, false
	}
	out := make([]string, n)
	for i, v := range msg.Values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func isValidWellKnownName(name string) bool {
	if name == "" || strings.HasPrefix(name, ":") {
		return false
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func requestName(b *broker.Server, caller *session.Session, msg *wire.Message) (*wire.Message, []*wire.Message) {
	if len(msg.Values) != 2 {
		return errorReply(msg, ErrInvalidArgs, "RequestName expects (s,u)"), nil
	}
	name, ok := msg.Values[0].(string)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "RequestName expects (s,u)"), nil
	}
	flagsVal, ok := msg.Values[1].(uint32)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "RequestName expects (s,u)"), nil
	}
	if !isValidWellKnownName(name) {
		return errorReply(msg, ErrInvalidArgs, fmt.Sprintf("%q is not a valid bus name", name)), nil
	}

	res := b.RequestName(name, caller.UniqueName, names.RequestFlag(flagsVal))
	reply := methodReturn(msg, uint32(res.Code))
	return reply, OwnershipSignals(b, name, res)
}

func releaseName(b *broker.Server, caller *session.Session, msg *wire.Message) (*wire.Message, []*wire.Message) {
	args, ok := requireString(msg, 1)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "ReleaseName expects (s)"), nil
	}
	name := args[0]
	if !isValidWellKnownName(name) {
		return errorReply(msg, ErrInvalidArgs, fmt.Sprintf("%q is not a valid bus name", name)), nil
	}

	code, res := b.ReleaseName(name, caller.UniqueName)
	reply := methodReturn(msg, uint32(code))
	return reply, OwnershipSignals(b, name, res)
}

// OwnershipSignals builds the NameOwnerChanged/NameLost/NameAcquired
// sequence spec §4.3 step 7 and §4.6 require, addressed but not yet
// stamped with sender/serial — the router fills those in before
// re-routing each one. Exported so the listener's disconnect path can
// reuse it for the transitions names.Registry.ReleaseAllOwnedBy produces.
// NameLost is only built when the old owner is still a live session.
func OwnershipSignals(b *broker.Server, name string, res names.RequestResult) []*wire.Message {
	if !res.OwnerChanged {
		return nil
	}
	var out []*wire.Message
	changed, err := wire.NewSignal(BusPath, IfaceBus, "NameOwnerChanged", name, res.OldOwner, res.NewOwner)
	if err != nil {
		logger.ErrorF("busiface: building NameOwnerChanged: %v", err)
		return nil
	}
	out = append(out, changed)

	if res.OldOwner != "" {
		if _, ok := b.Session(res.OldOwner); ok {
			lost, err := wire.NewSignal(BusPath, IfaceBus, "NameLost", name)
			if err == nil {
				lost.Dest = res.OldOwner
				out = append(out, lost)
			}
		}
	}
	if res.NewOwner != "" {
		acquired, err := wire.NewSignal(BusPath, IfaceBus, "NameAcquired", name)
		if err == nil {
			acquired.Dest = res.NewOwner
			out = append(out, acquired)
		}
	}
	return out
}

func listQueuedOwners(b *broker.Server, msg *wire.Message) *wire.Message {
	args, ok := requireString(msg, 1)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "ListQueuedOwners expects (s)")
	}
	return methodReturn(msg, b.ListQueuedOwners(args[0]))
}

func listNames(b *broker.Server, msg *wire.Message) *wire.Message {
	if len(msg.Values) != 0 {
		return errorReply(msg, ErrInvalidArgs, "ListNames expects no arguments")
	}
	return methodReturn(msg, b.ListNames())
}

func listActivatableNames(b *broker.Server, msg *wire.Message) *wire.Message {
	if len(msg.Values) != 0 {
		return errorReply(msg, ErrInvalidArgs, "ListActivatableNames expects no arguments")
	}
	return methodReturn(msg, b.ListActivatableNames())
}

func nameHasOwner(b *broker.Server, msg *wire.Message) *wire.Message {
	args, ok := requireString(msg, 1)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "NameHasOwner expects (s)")
	}
	return methodReturn(msg, b.NameHasOwner(args[0]))
}

func startServiceByName(b *broker.Server, msg *wire.Message) *wire.Message {
	if len(msg.Values) != 2 {
		return errorReply(msg, ErrInvalidArgs, "StartServiceByName expects (s,u)")
	}
	name, ok := msg.Values[0].(string)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "StartServiceByName expects (s,u)")
	}
	if _, ok := msg.Values[1].(uint32); !ok {
		return errorReply(msg, ErrInvalidArgs, "StartServiceByName expects (s,u)")
	}
	alreadyRunning, err := b.StartServiceByName(name)
	if alreadyRunning {
		return methodReturn(msg, uint32(2)) // DBUS_START_REPLY_ALREADY_RUNNING
	}
	if err != nil {
		return errorReply(msg, ErrServiceNotFound, err.Error())
	}
	return methodReturn(msg, uint32(1)) // DBUS_START_REPLY_SUCCESS, unreachable without activation
}

func getNameOwner(b *broker.Server, msg *wire.Message) *wire.Message {
	args, ok := requireString(msg, 1)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "GetNameOwner expects (s)")
	}
	owner, ok := b.GetNameOwner(args[0])
	if !ok {
		return errorReply(msg, ErrNameHasNoOwner, fmt.Sprintf("Could not get owner of name '%s': no such name", args[0]))
	}
	return methodReturn(msg, owner)
}

func addMatch(caller *session.Session, msg *wire.Message) *wire.Message {
	args, ok := requireString(msg, 1)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "AddMatch expects (s)")
	}
	if _, err := caller.AddMatch(args[0]); err != nil {
		return errorReply(msg, ErrMatchRuleInvalid, err.Error())
	}
	return methodReturn(msg)
}

func removeMatch(caller *session.Session, msg *wire.Message) *wire.Message {
	args, ok := requireString(msg, 1)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "RemoveMatch expects (s)")
	}
	if err := caller.RemoveMatch(args[0]); err != nil {
		if strings.Contains(err.Error(), "no matching rule") {
			return errorReply(msg, ErrMatchRuleNotFound, err.Error())
		}
		return errorReply(msg, ErrMatchRuleInvalid, err.Error())
	}
	return methodReturn(msg)
}

// getID returns the hex UUID of the listener the caller is connected to,
// so that two listeners on the same server instance advertise distinct
// ids (spec §4.5).
func getID(b *broker.Server, caller *session.Session, msg *wire.Message) *wire.Message {
	if len(msg.Values) != 0 {
		return errorReply(msg, ErrInvalidArgs, "GetId expects no arguments")
	}
	return methodReturn(msg, b.ListenerUUID(caller.ID))
}

func dispatchPeer(b *broker.Server, caller *session.Session, msg *wire.Message) *wire.Message {
	switch msg.Member {
	case "Ping":
		if len(msg.Values) != 0 {
			return errorReply(msg, ErrInvalidArgs, "Ping expects no arguments")
		}
		return methodReturn(msg)
	case "GetMachineId":
		if len(msg.Values) != 0 {
			return errorReply(msg, ErrInvalidArgs, "GetMachineId expects no arguments")
		}
		id, err := b.MachineID()
		if err != nil {
			return errorReply(msg, ErrFailed, err.Error())
		}
		return methodReturn(msg, id)
	default:
		return errorReply(msg, ErrUnknownMethod, fmt.Sprintf("Method %q not found on interface %q", msg.Member, IfacePeer))
	}
}

const introspectXML = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
  <interface name="org.freedesktop.DBus">
    <method name="Hello"><arg direction="out" type="s"/></method>
    <method name="RequestName"><arg direction="in" type="s"/><arg direction="in" type="u"/><arg direction="out" type="u"/></method>
    <method name="ReleaseName"><arg direction="in" type="s"/><arg direction="out" type="u"/></method>
    <method name="ListQueuedOwners"><arg direction="in" type="s"/><arg direction="out" type="as"/></method>
    <method name="ListNames"><arg direction="out" type="as"/></method>
    <method name="ListActivatableNames"><arg direction="out" type="as"/></method>
    <method name="NameHasOwner"><arg direction="in" type="s"/><arg direction="out" type="b"/></method>
    <method name="StartServiceByName"><arg direction="in" type="s"/><arg direction="in" type="u"/><arg direction="out" type="u"/></method>
    <method name="GetNameOwner"><arg direction="in" type="s"/><arg direction="out" type="s"/></method>
    <method name="AddMatch"><arg direction="in" type="s"/></method>
    <method name="RemoveMatch"><arg direction="in" type="s"/></method>
    <method name="GetId"><arg direction="out" type="s"/></method>
    <signal name="NameOwnerChanged"><arg type="s"/><arg type="s"/><arg type="s"/></signal>
    <signal name="NameLost"><arg type="s"/></signal>
    <signal name="NameAcquired"><arg type="s"/></signal>
  </interface>
  <interface name="org.freedesktop.DBus.Peer">
    <method name="Ping"/>
    <method name="GetMachineId"><arg direction="out" type="s"/></method>
  </interface>
  <interface name="org.freedesktop.DBus.Introspectable">
    <method name="Introspect"><arg direction="out" type="s"/></method>
  </interface>
  <interface name="org.freedesktop.DBus.Properties">
    <method name="Get"><arg direction="in" type="s"/><arg direction="in" type="s"/><arg direction="out" type="v"/></method>
    <method name="Set"><arg direction="in" type="s"/><arg direction="in" type="s"/><arg direction="in" type="v"/></method>
    <method name="GetAll"><arg direction="in" type="s"/><arg direction="out" type="a{sv}"/></method>
  </interface>
</node>
`

// introspectChildXML is returned for any request path that is a strict
// prefix of /org/freedesktop/DBus (e.g. "/", "/org", "/org/freedesktop"):
// a bare node listing the single child that leads toward the bus object,
// per spec §4.5, rather than the bus's own interface descriptions.
const introspectChildXML = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
  <node name="%s"/>
</node>
`

func dispatchIntrospectable(msg *wire.Message) *wire.Message {
	if msg.Member != "Introspect" {
		return errorReply(msg, ErrUnknownMethod, fmt.Sprintf("Method %q not found on interface %q", msg.Member, IfaceIntro))
	}
	if len(msg.Values) != 0 {
		return errorReply(msg, ErrInvalidArgs, "Introspect expects no arguments")
	}
	if msg.Path != BusPath {
		if child, ok := busPathChild(msg.Path); ok {
			return methodReturn(msg, fmt.Sprintf(introspectChildXML, child))
		}
	}
	return methodReturn(msg, introspectXML)
}

// busPathChild reports the next path segment below prefix on the way to
// /org/freedesktop/DBus, if prefix is in fact a prefix of it.
func busPathChild(prefix wire.ObjectPath) (string, bool) {
	full := string(BusPath)
	p := string(prefix)
	if p == "" {
		p = "/"
	}
	if p == full {
		return "", false
	}
	if p != "/" && !strings.HasPrefix(full, p+"/") {
		return "", false
	}
	rest := strings.TrimPrefix(full, p)
	rest = strings.TrimPrefix(rest, "/")
	segments := strings.SplitN(rest, "/", 2)
	return segments[0], true
}

func dispatchProperties(msg *wire.Message) *wire.Message {
	switch msg.Member {
	case "Get":
		return propertiesGet(msg)
	case "Set":
		return propertiesSet(msg)
	case "GetAll":
		return propertiesGetAll(msg)
	default:
		return errorReply(msg, ErrUnknownMethod, fmt.Sprintf("Method %q not found on interface %q", msg.Member, IfaceProps))
	}
}

// The only interface with properties is the bus interface itself, with
// two always-empty read-only lists (spec §4.5).
var busProperties = map[string]wire.Variant{
	"Features":   {Sig: "as", Value: []string{}},
	"Interfaces": {Sig: "as", Value: []string{}},
}

func propertiesGet(msg *wire.Message) *wire.Message {
	args, ok := requireString(msg, 2)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "Properties.Get expects (s,s)")
	}
	iface, prop := args[0], args[1]
	if iface != IfaceBus {
		return errorReply(msg, ErrUnknownProperty, fmt.Sprintf("Interface %q not recognised", iface))
	}
	v, ok := busProperties[prop]
	if !ok {
		return errorReply(msg, ErrUnknownProperty, fmt.Sprintf("Property %q not recognised", prop))
	}
	return methodReturn(msg, v)
}

func propertiesSet(msg *wire.Message) *wire.Message {
	if len(msg.Values) != 3 {
		return errorReply(msg, ErrInvalidArgs, "Properties.Set expects (s,s,v)")
	}
	iface, ok1 := msg.Values[0].(string)
	prop, ok2 := msg.Values[1].(string)
	if !ok1 || !ok2 {
		return errorReply(msg, ErrInvalidArgs, "Properties.Set expects (s,s,v)")
	}
	if iface != IfaceBus {
		return errorReply(msg, ErrUnknownProperty, fmt.Sprintf("Interface %q not recognised", iface))
	}
	if _, ok := busProperties[prop]; !ok {
		return errorReply(msg, ErrUnknownProperty, fmt.Sprintf("Property %q not recognised", prop))
	}
	return errorReply(msg, ErrPropertyReadOnly, fmt.Sprintf("Property %q is read-only", prop))
}

func propertiesGetAll(msg *wire.Message) *wire.Message {
	args, ok := requireString(msg, 1)
	if !ok {
		return errorReply(msg, ErrInvalidArgs, "Properties.GetAll expects (s)")
	}
	if args[0] != IfaceBus {
		return errorReply(msg, ErrUnknownProperty, fmt.Sprintf("Interface %q not recognised", args[0]))
	}
	return methodReturn(msg, map[string]wire.Variant{
		"Features":   busProperties["Features"],
		"Interfaces": busProperties["Interfaces"],
	})
}
