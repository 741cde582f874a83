package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Marshal renders v into its on-disk byte form: a small self-describing
// tagged encoding shared by the WAL's writeset serialization (§4.5) and
// checkpoint section serialization (§4.6), independent of the codec seam —
// codec.Codec transforms the already-marshaled bytes (e.g. for a future
// encryption codec), not a Value's own shape.
func Marshal(v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte{0x00}, nil
	case KindBool:
		if v.b {
			return []byte{0x01, 1}, nil
		}
		return []byte{0x01, 0}, nil
	case KindInt:
		buf := make([]byte, 9)
		buf[0] = 0x02
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.i))
		return buf, nil
	case KindFloat:
		buf := make([]byte, 9)
		buf[0] = 0x03
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.f))
		return buf, nil
	case KindString:
		buf := make([]byte, 0, 5+len(v.s))
		buf = append(buf, 0x04)
		buf = appendU32(buf, uint32(len(v.s)))
		buf = append(buf, v.s...)
		return buf, nil
	case KindBytes:
		buf := make([]byte, 0, 5+len(v.by))
		buf = append(buf, 0x05)
		buf = appendU32(buf, uint32(len(v.by)))
		buf = append(buf, v.by...)
		return buf, nil
	case KindList:
		buf := []byte{0x06}
		buf = appendU32(buf, uint32(len(v.list)))
		for _, it := range v.list {
			enc, err := Marshal(it)
			if err != nil {
				return nil, err
			}
			buf = appendU32(buf, uint32(len(enc)))
			buf = append(buf, enc...)
		}
		return buf, nil
	case KindMap:
		buf := []byte{0x07}
		buf = appendU32(buf, uint32(len(v.m)))
		for k, mv := range v.m {
			buf = appendU32(buf, uint32(len(k)))
			buf = append(buf, k...)
			enc, err := Marshal(mv)
			if err != nil {
				return nil, err
			}
			buf = appendU32(buf, uint32(len(enc)))
			buf = append(buf, enc...)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// Unmarshal parses one Value from the front of b, returning the value and
// whatever bytes followed it.
func Unmarshal(b []byte) (Value, []byte, error) {
	if len(b) == 0 {
		return Value{}, nil, fmt.Errorf("value: empty encoding")
	}
	tag, rest := b[0], b[1:]
	switch tag {
	case 0x00:
		return Null(), rest, nil
	case 0x01:
		if len(rest) < 1 {
			return Value{}, nil, fmt.Errorf("value: truncated bool")
		}
		return Bool(rest[0] != 0), rest[1:], nil
	case 0x02:
		n, err := readU64(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return Int(int64(n)), rest[8:], nil
	case 0x03:
		n, err := readU64(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return Float(math.Float64frombits(n)), rest[8:], nil
	case 0x04:
		n, rest2, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return String(string(n)), rest2, nil
	case 0x05:
		n, rest2, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return Bytes(append([]byte(nil), n...)), rest2, nil
	case 0x06:
		count, err := readU32(rest)
		if err != nil {
			return Value{}, nil, err
		}
		rest = rest[4:]
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			elem, rest2, err := readU32Framed(rest, Unmarshal)
			if err != nil {
				return Value{}, nil, err
			}
			items = append(items, elem)
			rest = rest2
		}
		return List(items), rest, nil
	case 0x07:
		count, err := readU32(rest)
		if err != nil {
			return Value{}, nil, err
		}
		rest = rest[4:]
		m := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			kbytes, rest2, err := readLenPrefixed(rest)
			if err != nil {
				return Value{}, nil, err
			}
			k := string(kbytes)
			rest = rest2

			elem, rest3, err := readU32Framed(rest, Unmarshal)
			if err != nil {
				return Value{}, nil, err
			}
			m[k] = elem
			rest = rest3
		}
		return Map(m), rest, nil
	default:
		return Value{}, nil, fmt.Errorf("value: unknown tag 0x%02x", tag)
	}
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("value: short read for length prefix")
	}
	return binary.LittleEndian.Uint32(b), nil
}

func readU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("value: short read for u64")
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readLenPrefixed reads a u32 length prefix followed by that many bytes.
func readLenPrefixed(b []byte) ([]byte, []byte, error) {
	n, err := readU32(b)
	if err != nil {
		return nil, nil, err
	}
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("value: truncated length-prefixed field")
	}
	return b[:n], b[n:], nil
}

// readU32Framed reads a u32 byte-length prefix, then decodes exactly that
// many bytes with decode, used for nested Values inside List/Map encodings.
func readU32Framed(b []byte, decode func([]byte) (Value, []byte, error)) (Value, []byte, error) {
	framed, rest, err := readLenPrefixed(b)
	if err != nil {
		return Value{}, nil, err
	}
	v, _, err := decode(framed)
	if err != nil {
		return Value{}, nil, err
	}
	return v, rest, nil
}
