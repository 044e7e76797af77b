package fastls

import (
	"bytes"
	"fmt"
)

type (
	// Change is one key-level modification of a database, as recorded by
	// JournalBackend.
	Change struct {
		Op    Op     `msgpack:"op"`
		DB    string `msgpack:"db"`
		Key   string `msgpack:"k,omitempty"`
		Value []byte `msgpack:"v,omitempty"` // encoded value of a put
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
	OpCreate Op = 3
	OpDrop   Op = 4
)

func (chg Change) String() string {
	switch chg.Op {
	case OpPut, OpDelete:
		return fmt.Sprintf("%v %v", chg.Op, Path{DB: chg.DB, Segments: splitKey(chg.Key)})
	default:
		return fmt.Sprintf("%v %s", chg.Op, chg.DB)
	}
}

// Decode returns the value stored by a put.
func (chg Change) Decode(codec Codec) (Value, error) {
	if chg.Op != OpPut {
		return Undefined(), nil
	}
	return codec.DecodeValue(chg.Value)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpCreate:
		return "create"
	case OpDrop:
		return "drop"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// diffFlatMaps lists the changes that turn old into new, deletions first,
// each group in key order.
func diffFlatMaps(db string, old, new FlatMap) []Change {
	var changes []Change
	for _, k := range sortedKeys(old) {
		if _, found := new[k]; !found {
			changes = append(changes, Change{Op: OpDelete, DB: db, Key: k})
		}
	}
	for _, k := range sortedKeys(new) {
		if prev, found := old[k]; found && bytes.Equal(prev, new[k]) {
			continue
		}
		changes = append(changes, Change{Op: OpPut, DB: db, Key: k, Value: new[k]})
	}
	return changes
}

// applyChange applies a put or delete to m.
func applyChange(m FlatMap, chg Change) {
	switch chg.Op {
	case OpPut:
		m[chg.Key] = bytes.Clone(chg.Value)
	case OpDelete:
		delete(m, chg.Key)
	}
}
