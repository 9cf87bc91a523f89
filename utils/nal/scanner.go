package nal

import "fmt"

// Scanner is a lazy, single-pass iterator over the NAL units of one buffer.
// A Scanner is restartable in the sense that constructing a new one over the
// same buffer yields the same sequence. Zero-length ranges between Annex-B
// start codes are skipped, not yielded.
//
// Usage follows bufio.Scanner:
//
//	sc := nal.NewScanner(buf, format)
//	for sc.Scan() {
//		unit := sc.Bytes()
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	buf  []byte
	f    Format
	pos  int
	unit []byte
	err  error
}

// NewScanner returns a Scanner over buf interpreted according to f.
func NewScanner(buf []byte, f Format) *Scanner {
	sc := &Scanner{buf: buf, f: f}
	if f.Kind == KindAnnexB {
		// Position past the leading start code; a missing one means the
		// buffer is not Annex-B at all.
		n := startCodeAt(buf, 0)
		if n == 0 && len(buf) > 0 {
			sc.err = fmt.Errorf("%w: missing leading start code", ErrMalformed)
		}
		sc.pos = n
	}
	return sc
}

// Scan advances to the next NAL unit, reporting false at end of buffer or on
// error. After Scan returns false, Err distinguishes the two.
func (sc *Scanner) Scan() bool {
	if sc.err != nil {
		return false
	}
	switch sc.f.Kind {
	case KindAnnexB:
		return sc.scanAnnexB()
	case KindLengthPrefixed:
		return sc.scanPrefixed()
	default:
		sc.err = fmt.Errorf("%w: cannot iterate unknown framing", ErrMalformed)
		return false
	}
}

func (sc *Scanner) scanAnnexB() bool {
	for sc.pos < len(sc.buf) {
		next, codeLen := nextStartCode(sc.buf, sc.pos)
		unit := sc.buf[sc.pos:next]
		if codeLen == 0 {
			sc.pos = len(sc.buf)
		} else {
			sc.pos = next + codeLen
		}
		if len(unit) > 0 {
			sc.unit = unit
			return true
		}
	}
	return false
}

func (sc *Scanner) scanPrefixed() bool {
	for sc.pos < len(sc.buf) {
		rest := sc.buf[sc.pos:]
		if len(rest) < sc.f.PrefixLen {
			sc.err = fmt.Errorf("%w: %d trailing bytes shorter than prefix", ErrMalformed, len(rest))
			return false
		}
		n := readPrefix(rest, sc.f.PrefixLen)
		sc.pos += sc.f.PrefixLen
		if n > len(sc.buf)-sc.pos {
			sc.err = fmt.Errorf("%w: unit length %d overruns buffer", ErrMalformed, n)
			return false
		}
		unit := sc.buf[sc.pos : sc.pos+n]
		sc.pos += n
		if len(unit) > 0 {
			sc.unit = unit
			return true
		}
	}
	return false
}

// Bytes returns the current NAL unit. The slice aliases the scanned buffer
// and is only valid until that buffer is reused.
func (sc *Scanner) Bytes() []byte {
	return sc.unit
}

// Type returns the NAL type of the current unit.
func (sc *Scanner) Type() byte {
	return UnitType(sc.unit)
}

// Err returns the first malformation encountered, or nil on clean exhaustion.
func (sc *Scanner) Err() error {
	return sc.err
}
