package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/hexmirror/hexmirror/lib/store"
	"github.com/hexmirror/hexmirror/lib/store/tables"
)

// commandFormat is bumped whenever the wire layout below changes. Replicas
// refuse entries with an unknown format instead of guessing.
const commandFormat byte = 1

// Guard flag bits.
const (
	guardExists byte = 1 << 0
)

// Command represents a transaction commit to be executed by the state
// machine (a single entry in the raft log). It carries the full batch of a
// transaction: the guards to validate and the mutations to apply.
type Command struct {
	Batch tables.Batch
}

// SizeBytes returns the exact number of bytes needed to serialize this
// command.
func (c *Command) SizeBytes() int {
	size := 1 + 4 + 4 // format + guard count + mutation count
	for _, g := range c.Batch.Guards {
		size += 1 + 8 + 4 + len(g.Table) + 4 + len(g.Key) // flags + rev + table + key
	}
	for _, m := range c.Batch.Muts {
		size += 1 + 4 + len(m.Table) + 4 + len(m.Key) + 4 + len(m.Value) // op + table + key + value
	}
	return size
}

// Serialize serializes a command into a byte array with the format:
// 1 byte format version,
// 4 bytes guard count (big endian), followed by the guards,
// 4 bytes mutation count (big endian), followed by the mutations.
// Strings and values are length-prefixed with 4 bytes each.
func (c *Command) Serialize() []byte {
	result := make([]byte, c.SizeBytes())

	result[0] = commandFormat
	pos := 1

	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(c.Batch.Guards)))
	pos += 4
	for _, g := range c.Batch.Guards {
		var flags byte
		if g.Exists {
			flags |= guardExists
		}
		result[pos] = flags
		pos++
		binary.BigEndian.PutUint64(result[pos:pos+8], g.Rev)
		pos += 8
		pos = putString(result, pos, string(g.Table))
		pos = putString(result, pos, g.Key)
	}

	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(c.Batch.Muts)))
	pos += 4
	for _, m := range c.Batch.Muts {
		result[pos] = byte(m.Op)
		pos++
		pos = putString(result, pos, string(m.Table))
		pos = putString(result, pos, m.Key)
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(m.Value)))
		pos += 4
		copy(result[pos:pos+len(m.Value)], m.Value)
		pos += len(m.Value)
	}

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (c *Command) Deserialize(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("data too short for command")
	}
	if data[0] != commandFormat {
		return fmt.Errorf("unknown command format %d", data[0])
	}
	pos := 1

	guardCount := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	guards := make([]tables.Guard, 0, guardCount)
	for i := uint32(0); i < guardCount; i++ {
		if pos+9 > len(data) {
			return fmt.Errorf("data too short for guard %d", i)
		}
		flags := data[pos]
		pos++
		rev := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8

		table, next, err := getString(data, pos)
		if err != nil {
			return fmt.Errorf("guard %d: %v", i, err)
		}
		pos = next
		key, next, err := getString(data, pos)
		if err != nil {
			return fmt.Errorf("guard %d: %v", i, err)
		}
		pos = next

		guards = append(guards, tables.Guard{
			Table:  store.Table(table),
			Key:    key,
			Rev:    rev,
			Exists: flags&guardExists != 0,
		})
	}

	if pos+4 > len(data) {
		return fmt.Errorf("data too short for mutation count")
	}
	mutCount := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	muts := make([]tables.Mutation, 0, mutCount)
	for i := uint32(0); i < mutCount; i++ {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for mutation %d", i)
		}
		op := tables.MutOp(data[pos])
		pos++

		table, next, err := getString(data, pos)
		if err != nil {
			return fmt.Errorf("mutation %d: %v", i, err)
		}
		pos = next
		key, next, err := getString(data, pos)
		if err != nil {
			return fmt.Errorf("mutation %d: %v", i, err)
		}
		pos = next

		if pos+4 > len(data) {
			return fmt.Errorf("data too short for mutation %d value", i)
		}
		valueLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if pos+int(valueLen) > len(data) {
			return fmt.Errorf("data too short for mutation %d value of length %d", i, valueLen)
		}
		value := make([]byte, valueLen)
		copy(value, data[pos:pos+int(valueLen)])
		pos += int(valueLen)

		muts = append(muts, tables.Mutation{
			Op:    op,
			Table: store.Table(table),
			Key:   key,
			Value: value,
		})
	}

	c.Batch = tables.Batch{Guards: guards, Muts: muts}
	return nil
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// putString writes a 4 byte big endian length prefix followed by the string
// bytes and returns the new position.
func putString(dst []byte, pos int, s string) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(s)))
	pos += 4
	copy(dst[pos:pos+len(s)], s)
	return pos + len(s)
}

// getString reads a 4 byte length-prefixed string and returns it together
// with the new position.
func getString(data []byte, pos int) (string, int, error) {
	if pos+4 > len(data) {
		return "", 0, fmt.Errorf("data too short for string length")
	}
	l := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	if pos+int(l) > len(data) {
		return "", 0, fmt.Errorf("data too short for string of length %d", l)
	}
	return string(data[pos : pos+int(l)]), pos + int(l), nil
}
