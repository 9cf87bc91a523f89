// Package nal detects the container convention of an H.264 chunk (Annex-B
// start codes vs. big-endian length prefixes), iterates its NAL units and
// converts between the two framings.
package nal

import (
	"errors"
	"fmt"

	"github.com/ugparu/govdec/utils/bits/pio"
)

// Kind identifies the NAL unit container convention of a buffer.
type Kind uint8

const (
	KindUnknown        Kind = iota // Framing could not be determined.
	KindAnnexB                     // Start-code delimited units.
	KindLengthPrefixed             // Fixed-width big-endian length prefixes.
)

// String returns the textual name of the framing kind.
func (k Kind) String() string {
	switch k {
	case KindAnnexB:
		return "annexb"
	case KindLengthPrefixed:
		return "length-prefixed"
	default:
		return "unknown"
	}
}

// Format describes the framing of one logical stream. Once determined it is
// immutable for the stream's lifetime.
type Format struct {
	Kind      Kind
	PrefixLen int // Length prefix width in bytes; set only for KindLengthPrefixed.
}

// Unknown is the zero Format, returned when classification fails.
var Unknown = Format{Kind: KindUnknown}

// ErrMalformed is returned when a buffer does not conform to its declared
// framing.
var ErrMalformed = errors.New("nal: malformed buffer")

// StartCode is the 4-byte Annex-B unit delimiter written by ConvertToAnnexB.
var StartCode = []byte{0, 0, 0, 1}

// prefixWidths lists candidate length-prefix widths in preference order. The
// 4-byte convention is by far the most common and is tried first so that a
// buffer which accidentally also parses at a narrower width is not
// misclassified.
var prefixWidths = []int{4, 2, 1}

const (
	typeMask     = 0x1f // Low 5 bits of the first payload byte hold the NAL type.
	maxNALUType  = 31
	minStartCode = 3
)

// readPrefix reads a width-byte big-endian length at the start of b.
func readPrefix(b []byte, width int) int {
	switch width {
	case 1:
		return int(b[0])
	case 2:
		return int(pio.U16BE(b))
	default:
		return int(pio.U32BE(b))
	}
}

// fitsPrefixed reports whether width-byte length prefixes transitively
// partition the whole buffer without overrun.
func fitsPrefixed(b []byte, width int) bool {
	units := 0
	for len(b) > 0 {
		if len(b) < width {
			return false
		}
		n := readPrefix(b, width)
		b = b[width:]
		if n > len(b) {
			return false
		}
		b = b[n:]
		units++
	}
	return units > 0
}

// startCodeAt reports the length of the Annex-B start code at pos, or 0 if
// there is none.
func startCodeAt(b []byte, pos int) int {
	if pos+minStartCode > len(b) || b[pos] != 0 || b[pos+1] != 0 {
		return 0
	}
	if b[pos+2] == 1 {
		return 3
	}
	if b[pos+2] == 0 && pos+minStartCode < len(b) && b[pos+3] == 1 {
		return 4
	}
	return 0
}

// nextStartCode finds the offset and length of the next start code at or
// after from, returning (len(b), 0) when none remains.
func nextStartCode(b []byte, from int) (pos, length int) {
	for pos = from; pos+minStartCode <= len(b); pos++ {
		// Bytes greater than one cannot sit inside a start code.
		if b[pos+2] > 1 {
			pos += 2
			continue
		}
		if n := startCodeAt(b, pos); n > 0 {
			return pos, n
		}
	}
	return len(b), 0
}

// plausibleUnit reports whether u looks like a NAL unit: non-empty, with a
// clear forbidden_zero_bit and a non-reserved type.
func plausibleUnit(u []byte) bool {
	if len(u) == 0 || u[0]&0x80 != 0 {
		return false
	}
	typ := u[0] & typeMask
	return typ > 0 && typ <= maxNALUType
}

// fitsAnnexB reports whether the buffer starts with a start code and the
// subsequent start codes partition it into plausible NAL units.
func fitsAnnexB(b []byte) bool {
	n := startCodeAt(b, 0)
	if n == 0 {
		return false
	}
	units := 0
	pos := n
	for pos < len(b) {
		next, codeLen := nextStartCode(b, pos)
		if next > pos {
			if !plausibleUnit(b[pos:next]) {
				return false
			}
			units++
		}
		if codeLen == 0 {
			break
		}
		pos = next + codeLen
	}
	return units > 0
}

// Classify determines the framing of a buffer. Length-prefixed framing is
// tried first at each candidate width, then Annex-B. A malformed or truncated
// buffer legitimately yields Unknown; the caller retries with a later chunk.
func Classify(b []byte) Format {
	if len(b) == 0 {
		return Unknown
	}
	for _, width := range prefixWidths {
		if fitsPrefixed(b, width) {
			return Format{Kind: KindLengthPrefixed, PrefixLen: width}
		}
	}
	if fitsAnnexB(b) {
		return Format{Kind: KindAnnexB}
	}
	return Unknown
}

// UnitType extracts the NAL type from the first byte of a unit.
func UnitType(u []byte) byte {
	if len(u) == 0 {
		return 0
	}
	return u[0] & typeMask
}

// Split iterates b according to f and returns all NAL unit payloads in
// order. Payloads borrow from b and must not be retained past its lifetime.
func Split(b []byte, f Format) ([][]byte, error) {
	var units [][]byte
	sc := NewScanner(b, f)
	for sc.Scan() {
		units = append(units, sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

// AppendAnnexB appends b rewritten to Annex-B framing onto dst and returns
// the extended slice. Length-prefixed units get a 4-byte start code each;
// Annex-B input is appended unchanged. Payload bytes are never touched, so
// emulation-prevention escaping carried inside them survives as-is.
func AppendAnnexB(dst, b []byte, f Format) ([]byte, error) {
	if f.Kind == KindAnnexB {
		return append(dst, b...), nil
	}
	if f.Kind != KindLengthPrefixed {
		return nil, fmt.Errorf("%w: cannot convert %s framing", ErrMalformed, f.Kind)
	}
	sc := NewScanner(b, f)
	for sc.Scan() {
		dst = append(dst, StartCode...)
		dst = append(dst, sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return dst, nil
}

// ConvertToAnnexB rewrites b to Annex-B framing. Annex-B input is returned
// unchanged without copying.
func ConvertToAnnexB(b []byte, f Format) ([]byte, error) {
	if f.Kind == KindAnnexB {
		return b, nil
	}
	return AppendAnnexB(make([]byte, 0, len(b)+len(StartCode)), b, f)
}

// HasKeyframe reports whether any unit of an Annex-B buffer is an IDR slice.
// Units that fail to parse are skipped.
func HasKeyframe(annexB []byte) bool {
	const idrType = 5
	sc := NewScanner(annexB, Format{Kind: KindAnnexB})
	for sc.Scan() {
		if UnitType(sc.Bytes()) == idrType {
			return true
		}
	}
	return false
}
