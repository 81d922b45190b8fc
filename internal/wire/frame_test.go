package wire

import (
	"reflect"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	msg := &Message{
		Type:      TypeMethodCall,
		Serial:    1,
		Path:      "/org/freedesktop/DBus",
		Interface: "org.freedesktop.DBus",
		Member:    "NameHasOwner",
		Dest:      "org.freedesktop.DBus",
		Sender:    ":1.0",
		Sig:       "s",
		Values:    []interface{}{"com.example.Test"},
	}

	encoded, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, n, err := Unmarshal(encoded)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("Unmarshal consumed %d bytes, want %d", n, len(encoded))
	}
	if decoded.Type != msg.Type || decoded.Path != msg.Path || decoded.Interface != msg.Interface ||
		decoded.Member != msg.Member || decoded.Dest != msg.Dest || decoded.Sender != msg.Sender {
		t.Fatalf("decoded header mismatch: %+v", decoded)
	}
	if !reflect.DeepEqual(decoded.Values, msg.Values) {
		t.Fatalf("decoded values = %v, want %v", decoded.Values, msg.Values)
	}
}

func TestUnmarshalShortBufferReturnsErrShort(t *testing.T) {
	msg := &Message{Type: TypeSignal, Path: "/x", Interface: "x.y", Member: "Z"}
	encoded, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	for cut := 0; cut < len(encoded); cut++ {
		_, _, err := Unmarshal(encoded[:cut])
		if err != ErrShort {
			t.Fatalf("Unmarshal(truncated to %d bytes) = %v, want ErrShort", cut, err)
		}
	}
}

func TestReadBufferRewindsOnShortRead(t *testing.T) {
	msg := &Message{Type: TypeSignal, Path: "/x", Interface: "x.y", Member: "Z"}
	encoded, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var rb ReadBuffer
	rb.WriteBytes(encoded[:len(encoded)-1])
	if _, ok, err := rb.ReadMessage(); ok || err != nil {
		t.Fatalf("ReadMessage on short data: ok=%v err=%v", ok, err)
	}
	if rb.ReadOffset() != 0 {
		t.Fatalf("ReadOffset = %d after short read, want 0", rb.ReadOffset())
	}

	rb.WriteBytes(encoded[len(encoded)-1:])
	got, ok, err := rb.ReadMessage()
	if err != nil || !ok {
		t.Fatalf("ReadMessage after completing buffer: ok=%v err=%v", ok, err)
	}
	if got.Member != "Z" {
		t.Fatalf("got.Member = %q, want Z", got.Member)
	}
}

func TestReadBufferReadLine(t *testing.T) {
	var rb ReadBuffer
	rb.WriteBytes([]byte("AUTH EXTERNAL\r\nBE"))

	line, ok := rb.ReadLine()
	if !ok || line != "AUTH EXTERNAL" {
		t.Fatalf("ReadLine = %q, %v", line, ok)
	}
	if _, ok := rb.ReadLine(); ok {
		t.Fatalf("ReadLine reported ok on a partial line")
	}

	rb.WriteBytes([]byte("GIN\r\n"))
	line, ok = rb.ReadLine()
	if !ok || line != "BEGIN" {
		t.Fatalf("ReadLine after more bytes = %q, %v", line, ok)
	}
}

func TestReadBufferFlushCompacts(t *testing.T) {
	var rb ReadBuffer
	rb.WriteBytes([]byte("AUTH\r\nBEGIN\r\n"))
	rb.ReadLine()
	rb.Flush()
	if rb.ReadOffset() != 0 {
		t.Fatalf("offset after flush = %d, want 0", rb.ReadOffset())
	}
	line, ok := rb.ReadLine()
	if !ok || line != "BEGIN" {
		t.Fatalf("ReadLine after flush = %q, %v", line, ok)
	}
}
