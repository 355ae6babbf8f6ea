// Package tth implements the Tiger Tree Hash primitives used to
// content-address shared files: the 24-byte hash value, the hash tree
// with its block-size rules, and the on-disk tree serialization.
package tth

import (
	"bytes"
	"encoding/base32"
	"fmt"

	"github.com/cxmcc/tiger"
)

// Size is the length of a Tiger digest in bytes.
const Size = 24

// Base32Len is the length of the unpadded base32 form used on the wire.
const Base32Len = 39

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Value is a Tiger digest. The zero value is not a valid hash of any
// content and doubles as the "unset" marker.
type Value [Size]byte

// FromBase32 parses the 39-character unpadded base32 wire form.
func FromBase32(s string) (Value, error) {
	var v Value
	if len(s) != Base32Len {
		return v, fmt.Errorf("tth: bad base32 length %d", len(s))
	}
	b, err := encoding.DecodeString(s)
	if err != nil {
		return v, fmt.Errorf("tth: %w", err)
	}
	copy(v[:], b)
	return v, nil
}

// FromBytes copies a raw 24-byte digest.
func FromBytes(b []byte) (Value, error) {
	var v Value
	if len(b) != Size {
		return v, fmt.Errorf("tth: bad digest length %d", len(b))
	}
	copy(v[:], b)
	return v, nil
}

// String returns the unpadded base32 form.
func (v Value) String() string {
	return encoding.EncodeToString(v[:])
}

// IsZero reports whether the value is unset.
func (v Value) IsZero() bool {
	return v == Value{}
}

// Less orders values by byte sequence.
func (v Value) Less(o Value) bool {
	return bytes.Compare(v[:], o[:]) < 0
}

// leafDigest hashes a base segment with the 0x00 leaf prefix.
func leafDigest(data []byte) Value {
	h := tiger.New()
	h.Write([]byte{0x00})
	h.Write(data)
	var v Value
	copy(v[:], h.Sum(nil))
	return v
}

// internalDigest combines two child digests with the 0x01 node prefix.
func internalDigest(left, right Value) Value {
	h := tiger.New()
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var v Value
	copy(v[:], h.Sum(nil))
	return v
}
