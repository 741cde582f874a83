package wal

import (
	"fmt"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/value"
)

// encodeWriteSet renders mutations into the count-prefixed, tagged wire
// format of §4.5 "Writeset serialization". Value bytes for Put/Append pass
// through c before being length-prefixed and appended.
func encodeWriteSet(mutations []shardstore.Mutation, c codec.Codec) ([]byte, error) {
	buf := writeU32(nil, uint32(len(mutations)))
	for _, m := range mutations {
		keyBytes := m.Key.Encode()
		switch m.Op {
		case shardstore.OpPut, shardstore.OpAppend:
			tag := tagPut
			if m.Op == shardstore.OpAppend {
				tag = tagAppend
			}
			buf = append(buf, byte(tag))
			buf = writeU32(buf, uint32(len(keyBytes)))
			buf = append(buf, keyBytes...)

			valBytes, err := value.Marshal(m.Value)
			if err != nil {
				return nil, err
			}
			coded, err := c.Encode(valBytes)
			if err != nil {
				return nil, fmt.Errorf("wal: codec encode: %w", err)
			}
			buf = writeU32(buf, uint32(len(coded)))
			buf = append(buf, coded...)
		case shardstore.OpDelete:
			buf = append(buf, byte(tagDelete))
			buf = writeU32(buf, uint32(len(keyBytes)))
			buf = append(buf, keyBytes...)
		default:
			return nil, fmt.Errorf("wal: unknown mutation op %d", m.Op)
		}
	}
	return buf, nil
}

// decodedMutation is one writeset entry after decoding, carrying its key
// in structured form, ready to apply to the store.
type decodedMutation struct {
	Op    shardstore.MutationOp
	Key   addressing.Key
	Value value.Value
}

// decodeWriteSet parses the wire format encodeWriteSet produces, reversing
// the codec transform on every Put/Append value.
func decodeWriteSet(b []byte, c codec.Codec) ([]decodedMutation, error) {
	count, err := readU32(b)
	if err != nil {
		return nil, err
	}
	rest := b[4:]

	out := make([]decodedMutation, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 1 {
			return nil, fmt.Errorf("wal: truncated writeset entry tag")
		}
		tag := mutationTag(rest[0])
		rest = rest[1:]

		keyLen, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[4:]
		if uint32(len(rest)) < keyLen {
			return nil, fmt.Errorf("wal: truncated writeset key")
		}
		key, err := addressing.DecodeKey(rest[:keyLen])
		if err != nil {
			return nil, fmt.Errorf("wal: decode key: %w", err)
		}
		rest = rest[keyLen:]

		switch tag {
		case tagDelete:
			out = append(out, decodedMutation{Op: shardstore.OpDelete, Key: key})
		case tagPut, tagAppend:
			op := shardstore.OpPut
			if tag == tagAppend {
				op = shardstore.OpAppend
			}
			valLen, err := readU32(rest)
			if err != nil {
				return nil, err
			}
			rest = rest[4:]
			if uint32(len(rest)) < valLen {
				return nil, fmt.Errorf("wal: truncated writeset value")
			}
			coded := rest[:valLen]
			rest = rest[valLen:]

			plain, err := c.Decode(coded)
			if err != nil {
				return nil, fmt.Errorf("wal: codec decode: %w", err)
			}
			v, _, err := value.Unmarshal(plain)
			if err != nil {
				return nil, fmt.Errorf("wal: decode value: %w", err)
			}
			out = append(out, decodedMutation{Op: op, Key: key, Value: v})
		default:
			return nil, fmt.Errorf("wal: unknown mutation tag 0x%02x", tag)
		}
	}
	return out, nil
}
