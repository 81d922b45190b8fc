package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodeValue writes a single value per the D-Bus type code inferred from
// its Go type, mirroring z3ntu-go-dbus's reflect-driven encoder but
// restricted to the handful of concrete types the bus interface uses.
func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case string:
		writeLenPrefixed(buf, []byte(val))
	case ObjectPath:
		writeLenPrefixed(buf, []byte(val))
	case Signature:
		writeLenPrefixed(buf, []byte(val))
	case uint32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], val)
		buf.Write(tmp[:])
	case bool:
		var b uint32
		if val {
			b = 1
		}
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], b)
		buf.Write(tmp[:])
	case []string:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(val)))
		buf.Write(tmp[:])
		for _, s := range val {
			writeLenPrefixed(buf, []byte(s))
		}
	case map[string]Variant:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(val)))
		buf.Write(tmp[:])
		for k, variant := range val {
			writeLenPrefixed(buf, []byte(k))
			if err := encodeVariant(buf, variant); err != nil {
				return err
			}
		}
	case Variant:
		return encodeVariant(buf, val)
	default:
		return fmt.Errorf("wire: cannot encode value of type %T", v)
	}
	return nil
}

func encodeVariant(buf *bytes.Buffer, variant Variant) error {
	sig := variant.Sig
	if sig == "" {
		inferred, err := inferSignature(variant.Value)
		if err != nil {
			return err
		}
		sig = inferred
	}
	buf.WriteByte(byte(len(sig)))
	buf.WriteString(string(sig))
	return encodeValue(buf, variant.Value)
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(b)))
	buf.Write(tmp[:])
	buf.Write(b)
}

// encodeArgs encodes a full argument list per its concatenated signature.
func encodeArgs(values []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range values {
		if err := encodeValue(&buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// decodeArgs decodes a full argument list from body per sig, consuming
// exactly the bytes the signature describes. Returns ErrShort if body is
// truncated — the caller (Unmarshal) treats that as a framing bug, since
// the enclosing body-length field should already guarantee this has all
// the bytes it needs.
func decodeArgs(body []byte, sig Signature) ([]interface{}, error) {
	c := &cursor{data: body}
	var values []interface{}
	i := 0
	runes := []byte(sig)
	for i < len(runes) {
		v, consumed, err := decodeValue(c, runes, i)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		i = consumed
	}
	return values, nil
}

func decodeValue(c *cursor, sig []byte, i int) (interface{}, int, error) {
	switch sig[i] {
	case 's':
		s, err := c.readString()
		return s, i + 1, err
	case 'o':
		s, err := c.readString()
		return ObjectPath(s), i + 1, err
	case 'g':
		s, err := c.readString()
		return Signature(s), i + 1, err
	case 'u':
		u, err := c.readUint32()
		return u, i + 1, err
	case 'b':
		u, err := c.readUint32()
		return u != 0, i + 1, err
	case 'v':
		variant, err := decodeVariant(c)
		return variant, i + 1, err
	case 'a':
		return decodeArray(c, sig, i)
	default:
		return nil, 0, fmt.Errorf("wire: unsupported type code %q", sig[i])
	}
}

func decodeVariant(c *cursor) (Variant, error) {
	sigLen, err := c.readByte()
	if err != nil {
		return Variant{}, err
	}
	sigBytes, err := c.readBytes(int(sigLen))
	if err != nil {
		return Variant{}, err
	}
	sig := Signature(sigBytes)
	v, _, err := decodeValue(c, []byte(sig), 0)
	if err != nil {
		return Variant{}, err
	}
	return Variant{Sig: sig, Value: v}, nil
}

func decodeArray(c *cursor, sig []byte, i int) (interface{}, int, error) {
	i++ // consume 'a'
	if i >= len(sig) {
		return nil, 0, fmt.Errorf("wire: truncated array signature")
	}

	if sig[i] == '{' {
		// only a{sv} is used by the bus interface.
		if i+3 >= len(sig) || sig[i+1] != 's' || sig[i+2] != 'v' || sig[i+3] != '}' {
			return nil, 0, fmt.Errorf("wire: unsupported dict signature at %q", sig[i:])
		}
		n, err := c.readUint32()
		if err != nil {
			return nil, 0, err
		}
		m := make(map[string]Variant, n)
		for j := uint32(0); j < n; j++ {
			key, err := c.readString()
			if err != nil {
				return nil, 0, err
			}
			val, err := decodeVariant(c)
			if err != nil {
				return nil, 0, err
			}
			m[key] = val
		}
		return m, i + 4, nil
	}

	if sig[i] != 's' {
		return nil, 0, fmt.Errorf("wire: unsupported array element %q", sig[i])
	}
	n, err := c.readUint32()
	if err != nil {
		return nil, 0, err
	}
	arr := make([]string, n)
	for j := uint32(0); j < n; j++ {
		s, err := c.readString()
		if err != nil {
			return nil, 0, err
		}
		arr[j] = s
	}
	return arr, i + 1, nil
}
