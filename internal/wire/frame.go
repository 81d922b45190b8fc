package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Marshal serializes a message to its wire form: a fixed header, a set of
// optional string fields, msg.Sig, and a body encoded from the Go types of
// msg.Values. msg.Sig is written as given and is not checked against them.
func Marshal(msg *Message) ([]byte, error) {
	body, err := encodeArgs(msg.Values)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal body: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(msg.Type))
	buf.WriteByte(byte(msg.Flags))
	buf.WriteByte(1) // protocol version

	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], msg.Serial)
	buf.Write(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], msg.ReplySerial)
	buf.Write(tmp[:])

	writeOptional(&buf, string(msg.Path))
	writeOptional(&buf, msg.Interface)
	writeOptional(&buf, msg.Member)
	writeOptional(&buf, msg.ErrorName)
	writeOptional(&buf, msg.Dest)
	writeOptional(&buf, msg.Sender)

	buf.WriteByte(byte(len(msg.Sig)))
	buf.WriteString(string(msg.Sig))

	binary.BigEndian.PutUint32(tmp[:], uint32(len(body)))
	buf.Write(tmp[:])
	buf.Write(body)

	return buf.Bytes(), nil
}

func writeOptional(buf *bytes.Buffer, s string) {
	if s == "" {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeLenPrefixed(buf, []byte(s))
}

// Unmarshal decodes one message from the front of data. It returns
// (nil, 0, ErrShort) if data does not yet contain a complete message —
// the session's framing loop must rewind and wait for more bytes in that
// case, never consuming a partial message (spec §4.1).
func Unmarshal(data []byte) (*Message, int, error) {
	c := &cursor{data: data}

	typeByte, err := c.readByte()
	if err != nil {
		return nil, 0, err
	}
	flagsByte, err := c.readByte()
	if err != nil {
		return nil, 0, err
	}
	if _, err := c.readByte(); err != nil { // protocol version, unused
		return nil, 0, err
	}
	serial, err := c.readUint32()
	if err != nil {
		return nil, 0, err
	}
	replySerial, err := c.readUint32()
	if err != nil {
		return nil, 0, err
	}

	path, _, err := c.readOptionalString()
	if err != nil {
		return nil, 0, err
	}
	iface, _, err := c.readOptionalString()
	if err != nil {
		return nil, 0, err
	}
	member, _, err := c.readOptionalString()
	if err != nil {
		return nil, 0, err
	}
	errorName, _, err := c.readOptionalString()
	if err != nil {
		return nil, 0, err
	}
	dest, _, err := c.readOptionalString()
	if err != nil {
		return nil, 0, err
	}
	sender, _, err := c.readOptionalString()
	if err != nil {
		return nil, 0, err
	}

	sigLen, err := c.readByte()
	if err != nil {
		return nil, 0, err
	}
	sigBytes, err := c.readBytes(int(sigLen))
	if err != nil {
		return nil, 0, err
	}
	sig := Signature(sigBytes)

	bodyLen, err := c.readUint32()
	if err != nil {
		return nil, 0, err
	}
	body, err := c.readBytes(int(bodyLen))
	if err != nil {
		return nil, 0, err
	}

	values, err := decodeArgs(body, sig)
	if err != nil {
		return nil, 0, fmt.Errorf("wire: decode body: %w", err)
	}

	msg := &Message{
		Type:        MessageType(typeByte),
		Flags:       MessageFlag(flagsByte),
		Serial:      serial,
		ReplySerial: replySerial,
		Path:        ObjectPath(path),
		Interface:   iface,
		Member:      member,
		ErrorName:   errorName,
		Dest:        dest,
		Sender:      sender,
		Sig:         sig,
		Values:      values,
	}
	return msg, c.pos, nil
}
