package wire

import "bytes"

// ReadBuffer accumulates bytes read off a connection and offers the two
// framing primitives the session state machine needs: line-oriented
// reads during the SASL handshake, and message-oriented reads afterward.
// It implements the exact contract spec.md §6 names for this
// collaborator: write_bytes, read_line, read_message, a gettable/settable
// read offset, and flush.
type ReadBuffer struct {
	data   []byte
	offset int
}

func (b *ReadBuffer) WriteBytes(p []byte) {
	b.data = append(b.data, p...)
}

// ReadOffset returns the current read position into the buffer.
func (b *ReadBuffer) ReadOffset() int { return b.offset }

// SetReadOffset rewinds (or advances) the read position, e.g. to undo a
// read. ReadMessage already leaves the offset unchanged on a short read,
// so the session framing loop does not call this.
func (b *ReadBuffer) SetReadOffset(off int) { b.offset = off }

// ReadLine reads one "\r\n"-terminated line starting at the current
// offset, advancing the offset past it. It reports ok=false (without
// moving the offset) if no terminator has arrived yet.
func (b *ReadBuffer) ReadLine() (line string, ok bool) {
	rest := b.data[b.offset:]
	idx := bytes.Index(rest, []byte("\r\n"))
	if idx < 0 {
		return "", false
	}
	line = string(rest[:idx])
	b.offset += idx + 2
	return line, true
}

// ReadMessage attempts to decode one complete message starting at the
// current offset. If the buffer doesn't yet hold a full message it
// reports ok=false and leaves the offset untouched, so no partial
// message is ever consumed.
func (b *ReadBuffer) ReadMessage() (msg *Message, ok bool, err error) {
	rest := b.data[b.offset:]
	decoded, n, decodeErr := Unmarshal(rest)
	if decodeErr == ErrShort {
		return nil, false, nil
	}
	if decodeErr != nil {
		return nil, false, decodeErr
	}
	b.offset += n
	return decoded, true, nil
}

// Flush drops everything before the current offset and resets the offset
// to zero, compacting the buffer so it doesn't grow unbounded across a
// long-lived connection.
func (b *ReadBuffer) Flush() {
	if b.offset == 0 {
		return
	}
	remaining := len(b.data) - b.offset
	copy(b.data, b.data[b.offset:])
	b.data = b.data[:remaining]
	b.offset = 0
}

// WriteBuffer accumulates encoded messages to be flushed to a socket.
type WriteBuffer struct {
	buf bytes.Buffer
}

func (w *WriteBuffer) WriteMessage(msg *Message) error {
	encoded, err := Marshal(msg)
	if err != nil {
		return err
	}
	w.buf.Write(encoded)
	return nil
}

// Data returns the bytes accumulated so far; the caller is expected to
// write them to the socket and then Reset the buffer.
func (w *WriteBuffer) Data() []byte { return w.buf.Bytes() }

func (w *WriteBuffer) Reset() { w.buf.Reset() }
