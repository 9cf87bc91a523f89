// Package bits implements a sequential bit-level reader over a byte slice
// with fixed-width and exponential-Golomb reads as used by H.264 parameter
// set parsing.
package bits

import "errors"

// ErrTruncated is returned when a read requires more bits than remain in the
// buffer.
var ErrTruncated = errors.New("bits: truncated read")

// ErrOutOfRange is returned by Seek when the target offset lies beyond the
// buffer.
var ErrOutOfRange = errors.New("bits: offset out of range")

const byteSize = 8

// maxReadBits is the widest fixed-width read supported by Read.
const maxReadBits = 32

// maxGolombZeros bounds the leading-zero run of a ue(v) code so the decoded
// value fits in 32 bits.
const maxGolombZeros = 31

// Reader is a bit-level cursor over an immutable byte slice. The zero value
// is not usable; construct one with NewReader. Reads advance the cursor and
// have no other side effects.
type Reader struct {
	buf []byte
	pos int // cursor position in bits
}

// NewReader returns a Reader positioned at the first bit of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf, pos: 0}
}

// BitsLeft reports the number of unread bits.
func (r *Reader) BitsLeft() int {
	return len(r.buf)*byteSize - r.pos
}

// Offset returns the current cursor position in bits.
func (r *Reader) Offset() int {
	return r.pos
}

// Seek positions the cursor at the absolute bit offset. Seeking to the end of
// the buffer is allowed; seeking past it fails with ErrOutOfRange.
func (r *Reader) Seek(bitOffset int) error {
	if bitOffset < 0 || bitOffset > len(r.buf)*byteSize {
		return ErrOutOfRange
	}
	r.pos = bitOffset
	return nil
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (uint32, error) {
	if r.BitsLeft() < 1 {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos/byteSize]
	bit := uint32(b>>(byteSize-1-r.pos%byteSize)) & 1
	r.pos++
	return bit, nil
}

// ReadFlag reads a single bit as a boolean.
func (r *Reader) ReadFlag() (bool, error) {
	bit, err := r.ReadBit()
	return bit == 1, err
}

// Read reads the next n bits, most significant bit first, and advances the
// cursor. n must be between 0 and 32.
func (r *Reader) Read(n int) (uint32, error) {
	if n < 0 || n > maxReadBits {
		return 0, ErrOutOfRange
	}
	if r.BitsLeft() < n {
		return 0, ErrTruncated
	}
	var v uint32
	for i := 0; i < n; i++ {
		bit, _ := r.ReadBit()
		v = v<<1 | bit
	}
	return v, nil
}

// ReadByte reads the next 8 bits as a byte.
func (r *Reader) ReadByte() (byte, error) {
	v, err := r.Read(byteSize)
	return byte(v), err
}

// ReadExponentialGolomb reads an unsigned exponential-Golomb coded value,
// ue(v) in H.264 notation: k leading zero bits, a one bit, then k suffix
// bits; the value is 2^k - 1 + suffix.
func (r *Reader) ReadExponentialGolomb() (uint32, error) {
	var k int
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			break
		}
		if k++; k > maxGolombZeros {
			return 0, ErrTruncated
		}
	}
	suffix, err := r.Read(k)
	if err != nil {
		return 0, err
	}
	return 1<<k - 1 + suffix, nil
}

// ReadSignedGolomb reads a signed exponential-Golomb coded value, se(v) in
// H.264 notation, via the standard zig-zag mapping from ue(v).
func (r *Reader) ReadSignedGolomb() (int32, error) {
	codeNum, err := r.ReadExponentialGolomb()
	if err != nil {
		return 0, err
	}
	if codeNum%2 == 0 {
		return -int32(codeNum / 2), nil //nolint:gosec // codeNum/2 fits in int32
	}
	return int32(codeNum+1) / 2, nil //nolint:gosec // codeNum+1 fits in int32
}
