// Package pio provides big-endian byte load and store helpers.
package pio

// U16BE reads a big-endian uint16 from b.
func U16BE(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// U24BE reads a big-endian 24-bit value from b.
func U24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// U32BE reads a big-endian uint32 from b.
func U32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// PutU16BE writes v to b in big-endian order.
func PutU16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// PutU24BE writes the low 24 bits of v to b in big-endian order.
func PutU24BE(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// PutU32BE writes v to b in big-endian order.
func PutU32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
