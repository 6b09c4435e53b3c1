// Copyright 2025 James Ross
package reduce

import (
	"fmt"
	"math/big"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ID is a 96-bit unsigned integer, the native width of a BSON ObjectID. No
// third-party or stdlib-precedented fixed-width unsigned integer type is used
// anywhere in the reference stack this module was grown from, so this wraps
// math/big.Int and keeps it pinned to [0, 2^96) by construction.
type ID struct {
	v *big.Int
}

var idModulus = new(big.Int).Lsh(big.NewInt(1), 96)

// IDFromObjectID projects a BSON ObjectID's 12 bytes onto the unsigned
// integer they encode, big-endian.
func IDFromObjectID(oid bson.ObjectID) ID {
	return ID{v: new(big.Int).SetBytes(oid[:])}
}

// ObjectID reconstructs the 24-hex-digit native identifier, masking to the
// low 96 bits on overflow and left-padding with zero bytes otherwise.
func (id ID) ObjectID() bson.ObjectID {
	v := new(big.Int).Mod(id.v, idModulus)
	b := v.Bytes()
	var out bson.ObjectID
	copy(out[len(out)-len(b):], b)
	return out
}

func (id ID) Cmp(other ID) int {
	return id.v.Cmp(other.v)
}

// Add returns id+delta.
func (id ID) Add(delta *big.Int) ID {
	return ID{v: new(big.Int).Add(id.v, delta)}
}

func (id ID) String() string {
	return id.ObjectID().Hex()
}

// idSpan returns max-min+1 as an inclusive count of addressable values.
func idSpan(min, max ID) *big.Int {
	span := new(big.Int).Sub(max.v, min.v)
	return span.Add(span, big.NewInt(1))
}

// ParseID reconstructs an ID from a 24-hex-digit string, the wire shape
// every identifier takes at the boundary of the document store.
func ParseID(hex string) (ID, error) {
	oid, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return ID{}, fmt.Errorf("reduce: invalid identifier %q: %w", hex, err)
	}
	return IDFromObjectID(oid), nil
}
