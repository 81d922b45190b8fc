package wire

import "encoding/binary"

// cursor is a bounds-checked reader over a byte slice that reports
// ErrShort instead of panicking when asked to read past the end — the
// signal the broker's session state machine uses to know it must wait
// for more bytes before decoding a message (spec §4.1).
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) readByte() (byte, error) {
	if c.pos+1 > len(c.data) {
		return 0, ErrShort
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readUint32() (uint32, error) {
	if c.pos+4 > len(c.data) {
		return 0, ErrShort
	}
	v := binary.BigEndian.Uint32(c.data[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.data) {
		return nil, ErrShort
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) readString() (string, error) {
	n, err := c.readUint32()
	if err != nil {
		return "", err
	}
	b, err := c.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cursor) readOptionalString() (string, bool, error) {
	present, err := c.readByte()
	if err != nil {
		return "", false, err
	}
	if present == 0 {
		return "", false, nil
	}
	s, err := c.readString()
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}
