package wire

// MessageType is one of the four D-Bus message types.
type MessageType uint8

const (
	TypeInvalid MessageType = iota
	TypeMethodCall
	TypeMethodReturn
	TypeError
	TypeSignal
)

var messageTypeString = map[MessageType]string{
	TypeInvalid:      "invalid",
	TypeMethodCall:   "method_call",
	TypeMethodReturn: "method_return",
	TypeError:        "error",
	TypeSignal:       "signal",
}

func (t MessageType) String() string { return messageTypeString[t] }

// MessageFlag is a bitmask of per-message flags.
type MessageFlag uint8

const (
	FlagNoReplyExpected MessageFlag = 1 << iota
	FlagNoAutoStart
)

// Message is the broker's in-memory view of a D-Bus message: the fields
// spec.md §3 names for routing, plus the decoded argument values.
type Message struct {
	Type        MessageType
	Flags       MessageFlag
	Serial      uint32
	ReplySerial uint32

	Path      ObjectPath
	Interface string
	Member    string
	ErrorName string
	Dest      string
	Sender    string

	Sig    Signature
	Values []interface{}
}

// New returns a zero-value message of the given type.
func New(t MessageType) *Message {
	return &Message{Type: t}
}

// NewMethodCall builds a method_call message. The broker does not call it:
// client method calls arrive already framed off the wire.
func NewMethodCall(dest string, path ObjectPath, iface, member string) *Message {
	return &Message{Type: TypeMethodCall, Dest: dest, Path: path, Interface: iface, Member: member}
}

// NewMethodReturn builds the reply to a method call, addressed back to
// its sender with the call's serial carried as ReplySerial.
func NewMethodReturn(call *Message, values ...interface{}) (*Message, error) {
	sig, err := SignatureOf(values)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:        TypeMethodReturn,
		Flags:       FlagNoReplyExpected,
		ReplySerial: call.Serial,
		Dest:        call.Sender,
		Sig:         sig,
		Values:      values,
	}, nil
}

// NewError builds an error reply to a method call.
func NewError(call *Message, errorName, message string) *Message {
	return &Message{
		Type:        TypeError,
		Flags:       FlagNoReplyExpected,
		ReplySerial: call.Serial,
		Dest:        call.Sender,
		ErrorName:   errorName,
		Sig:         "s",
		Values:      []interface{}{message},
	}
}

// NewSignal builds a signal message. Dest is left empty for a broadcast;
// callers set it for a unicast signal such as NameLost/NameAcquired.
func NewSignal(path ObjectPath, iface, member string, values ...interface{}) (*Message, error) {
	sig, err := SignatureOf(values)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      TypeSignal,
		Flags:     FlagNoReplyExpected,
		Path:      path,
		Interface: iface,
		Member:    member,
		Sig:       sig,
		Values:    values,
	}, nil
}
