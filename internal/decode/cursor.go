package decode

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"

	"fortio.org/safecast"
)

// cursor is the read position inside one buffer together with the running
// timestamp. mark is the start of the record being decoded and is what
// errors report.
type cursor struct {
	buf   []byte
	off   int
	mark  int
	ts    time.Duration
	width Width
}

func (c *cursor) atEnd() bool {
	return c.off >= len(c.buf)
}

func (c *cursor) fail(kind Kind, value uint64) *Error {
	return &Error{Offset: c.mark, Kind: kind, Value: value}
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || len(c.buf)-c.off < n {
		return nil, c.fail(KindMalformedRecord, 0)
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// word reads one address-width value.
func (c *cursor) word() (uint64, error) {
	if c.width == Width32 {
		v, err := c.u32()
		return uint64(v), err
	}
	return c.u64()
}

// text reads a length-prefixed UTF-8 blob and skips the zero padding up to
// the next 4-byte boundary.
func (c *cursor) text() (string, error) {
	n32, err := c.u32()
	if err != nil {
		return "", err
	}
	n, err := safecast.Conv[int](n32)
	if err != nil {
		return "", c.fail(KindMalformedRecord, uint64(n32))
	}
	b, err := c.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", c.fail(KindNonUTF8Text, uint64(n32))
	}
	if pad := (4 - c.off%4) % 4; pad > 0 {
		if _, err := c.take(pad); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

// advance adds a microsecond delta to the running timestamp.
func (c *cursor) advance(deltaMicros uint64) error {
	d, err := safecast.Conv[int64](deltaMicros)
	if err != nil || d > (math.MaxInt64-int64(c.ts))/int64(time.Microsecond) {
		return c.fail(KindMalformedRecord, deltaMicros)
	}
	c.ts += time.Duration(d) * time.Microsecond
	return nil
}
