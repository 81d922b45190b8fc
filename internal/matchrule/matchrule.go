// Package matchrule parses and evaluates D-Bus match rules: the
// key='value',key='value' strings clients pass to AddMatch/RemoveMatch to
// subscribe to signals and, optionally, other traffic they're allowed to
// see. The field set and the equality-only semantics are grounded on
// z3ntu-go-dbus's MatchRule/_Match, generalized here from a typed struct a
// client builds in code into something parsed off the wire and extended
// with the Member field the bus actually needs to route signals like
// NameOwnerChanged.
package matchrule

import (
	"fmt"
	"strings"

	"github.com/nalim-labs/dbusd/internal/wire"
)

// Rule mirrors z3ntu-go-dbus's MatchRule: every populated field must equal
// the corresponding message field for the rule to match; empty/zero fields
// are wildcards.
type Rule struct {
	Type      wire.MessageType
	Sender    string
	Interface string
	Member    string
	Path      wire.ObjectPath
	Dest      string
}

const typeWildcard wire.MessageType = 0

// Parse turns an AddMatch argument such as
// "type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged'"
// into a Rule. Unknown keys are ignored rather than rejected, matching how
// permissive real buses are about forward-compatible match rule syntax.
func Parse(s string) (Rule, error) {
	var r Rule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := splitKeyValue(part)
		if !ok {
			return Rule{}, fmt.Errorf("matchrule: malformed clause %q", part)
		}
		switch key {
		case "type":
			r.Type = typeFromString(val)
		case "sender":
			r.Sender = val
		case "interface":
			r.Interface = val
		case "member":
			r.Member = val
		case "path":
			r.Path = wire.ObjectPath(val)
		case "destination":
			r.Dest = val
		}
	}
	return r, nil
}

func splitKeyValue(clause string) (key, val string, ok bool) {
	idx := strings.IndexByte(clause, '=')
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(clause[:idx])
	val = strings.TrimSpace(clause[idx+1:])
	val = strings.Trim(val, "'")
	return key, val, true
}

func typeFromString(s string) wire.MessageType {
	switch s {
	case "method_call":
		return wire.TypeMethodCall
	case "method_return":
		return wire.TypeMethodReturn
	case "error":
		return wire.TypeError
	case "signal":
		return wire.TypeSignal
	default:
		return typeWildcard
	}
}

// String reconstructs the canonical clause form; Parse(r.String()) yields
// r again. No protocol path uses it.
func (r Rule) String() string {
	var params []string
	if r.Type != typeWildcard {
		params = append(params, fmt.Sprintf("type='%s'", typeToString(r.Type)))
	}
	if r.Sender != "" {
		params = append(params, fmt.Sprintf("sender='%s'", r.Sender))
	}
	if r.Path != "" {
		params = append(params, fmt.Sprintf("path='%s'", r.Path))
	}
	if r.Interface != "" {
		params = append(params, fmt.Sprintf("interface='%s'", r.Interface))
	}
	if r.Member != "" {
		params = append(params, fmt.Sprintf("member='%s'", r.Member))
	}
	if r.Dest != "" {
		params = append(params, fmt.Sprintf("destination='%s'", r.Dest))
	}
	return strings.Join(params, ",")
}

func typeToString(t wire.MessageType) string {
	switch t {
	case wire.TypeMethodCall:
		return "method_call"
	case wire.TypeMethodReturn:
		return "method_return"
	case wire.TypeError:
		return "error"
	case wire.TypeSignal:
		return "signal"
	default:
		return ""
	}
}

// Match reports whether msg satisfies every populated field of r, exactly
// the equal-or-wildcard semantics z3ntu-go-dbus's _Match implements.
func (r Rule) Match(msg *wire.Message) bool {
	if r.Type != typeWildcard && r.Type != msg.Type {
		return false
	}
	if r.Sender != "" && r.Sender != msg.Sender {
		return false
	}
	if r.Path != "" && r.Path != msg.Path {
		return false
	}
	if r.Interface != "" && r.Interface != msg.Interface {
		return false
	}
	if r.Member != "" && r.Member != msg.Member {
		return false
	}
	if r.Dest != "" && r.Dest != msg.Dest {
		return false
	}
	return true
}
