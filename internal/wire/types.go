// Package wire implements the message codec and the byte-level reframing
// buffers the broker's session state machine drives (spec §4.1, §6). It is
// the concrete stand-in for the "ReadBuffer/WriteBuffer"/"read_message"
// collaborators the broker's design leaves abstract — grounded on the
// signature-driven encoder/decoder of z3ntu-go-dbus's marshall.go and
// newmarshal.go, simplified to the subset of the D-Bus type system the bus
// interface actually speaks (s, u, b, o, g, v, as, a{sv}).
package wire

import (
	"fmt"
	"reflect"
)

// ObjectPath is a D-Bus object path, e.g. "/org/freedesktop/DBus".
type ObjectPath string

// Signature is a D-Bus type-code string, e.g. "su" or "a{sv}".
type Signature string

// Variant is a self-describing value: its signature travels with it on
// the wire so a decoder doesn't need prior knowledge of its type.
type Variant struct {
	Sig   Signature
	Value interface{}
}

// inferSignature computes the D-Bus signature of a Go value for the
// subset of types this codec supports. Unlike a general marshaller this
// does not use reflect.Struct/array — the broker's own messages only ever
// carry strings, uints, bools, string slices, and string-keyed variant
// maps.
func inferSignature(v interface{}) (Signature, error) {
	switch v.(type) {
	case string:
		return "s", nil
	case ObjectPath:
		return "o", nil
	case Signature:
		return "g", nil
	case uint32:
		return "u", nil
	case bool:
		return "b", nil
	case []string:
		return "as", nil
	case map[string]Variant:
		return "a{sv}", nil
	case Variant:
		return "v", nil
	default:
		rv := reflect.ValueOf(v)
		return "", fmt.Errorf("wire: cannot infer signature for %s", rv.Type())
	}
}

// SignatureOf computes the concatenated signature of a list of argument
// values, as a method reply or signal body would carry it.
func SignatureOf(values []interface{}) (Signature, error) {
	var sig Signature
	for _, v := range values {
		s, err := inferSignature(v)
		if err != nil {
			return "", err
		}
		sig += s
	}
	return sig, nil
}
