package strata

//
// Varint helpers
//
// The wire format's varint is unsigned LEB128 with a 0x80 continuation
// bit, which is exactly what encoding/binary's Uvarint functions
// implement; we use them directly rather than hand-rolling a decoder.
//

import "encoding/binary"

// putUvarint appends the varint encoding of v to buf and returns the result.
func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// getUvarint decodes a varint from buf, returning the value and the
// number of bytes consumed. A zero n means buf did not contain a
// complete varint (or the value overflowed 64 bits).
func getUvarint(buf []byte) (v uint64, n int) {
	v, n = binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0
	}
	return v, n
}
