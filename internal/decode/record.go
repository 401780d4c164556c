package decode

// recordKind is the logical kind of a record, shared by all epochs.
type recordKind uint8

const (
	recEnter recordKind = iota + 1
	recExit
	recExtEnter
	recExtExit
)

// subtype selects the behaviour of extended records.
type subtype uint8

const (
	subDuration subtype = iota
	subAsync
	subInstant
)

type record struct {
	kind recordKind
	sub  subtype
	addr uint64
	text string
}

// header is the flag/delta split of one record header. inline carries the
// payload half of a widened legacy 32-bit header.
type header struct {
	zero   bool
	flag   uint64
	delta  uint64
	inline uint64
}

// recordReader is one wire epoch: it splits a header into flag and delta,
// then reads the payload the flag selects.
type recordReader interface {
	header(c *cursor) (header, error)
	payload(c *cursor, h header) (record, error)
}

func newRecordReader(epoch Epoch, width Width) recordReader {
	if epoch == EpochLegacy {
		if width == Width32 {
			return legacy32Reader{}
		}
		return legacy64Reader{}
	}
	return currentReader{width: width}
}

func parseSubtype(c *cursor, v uint64) (subtype, error) {
	switch v {
	case 0:
		return subDuration, nil
	case 1:
		return subAsync, nil
	case 2:
		return subInstant, nil
	default:
		return 0, c.fail(KindUnknownFlag, v)
	}
}

// extPayload reads what follows the sub-type of an extended record.
// Only Duration enters carry an address; everything else carries text.
func extPayload(c *cursor, kind recordKind, sub subtype, readAddr func() (uint64, error)) (record, error) {
	rec := record{kind: kind, sub: sub}
	if kind == recExtEnter && sub == subDuration {
		addr, err := readAddr()
		if err != nil {
			return record{}, err
		}
		rec.addr = addr
		return rec, nil
	}
	s, err := c.text()
	if err != nil {
		return record{}, err
	}
	rec.text = s
	return rec, nil
}

// currentReader: W-bit header, 2-bit flag (01 enter, 10 exit, 11 extended),
// W-2 bit delta. Extended records carry a u32 sub-type word: bits 0..7
// direction (1 enter, 2 exit), bits 8..15 sub-type.
type currentReader struct {
	width Width
}

const (
	currentFlagEnter    = 1
	currentFlagExit     = 2
	currentFlagExtended = 3
)

func (r currentReader) header(c *cursor) (header, error) {
	w, err := c.word()
	if err != nil {
		return header{}, err
	}
	if w == 0 {
		return header{zero: true}, nil
	}
	shift := uint(r.width) - 2
	return header{flag: w >> shift, delta: w & (1<<shift - 1)}, nil
}

func (r currentReader) payload(c *cursor, h header) (record, error) {
	switch h.flag {
	case currentFlagEnter:
		addr, err := c.word()
		if err != nil {
			return record{}, err
		}
		return record{kind: recEnter, addr: addr}, nil
	case currentFlagExit:
		return record{kind: recExit}, nil
	case currentFlagExtended:
		word, err := c.u32()
		if err != nil {
			return record{}, err
		}
		if word>>16 != 0 {
			return record{}, c.fail(KindUnknownFlag, uint64(word))
		}
		var kind recordKind
		switch word & 0xff {
		case 1:
			kind = recExtEnter
		case 2:
			kind = recExtExit
		default:
			return record{}, c.fail(KindUnknownFlag, uint64(word))
		}
		sub, err := parseSubtype(c, uint64(word>>8&0xff))
		if err != nil {
			return record{}, err
		}
		return extPayload(c, kind, sub, c.word)
	default:
		return record{}, c.fail(KindUnknownFlag, h.flag)
	}
}

// Legacy flags occupy the top 3 bits of the (possibly widened) header.
const (
	legacyFlagEnter    = 1
	legacyFlagExit     = 2
	legacyFlagInternal = 3
	legacyFlagExternal = 4
)

func legacyKind(c *cursor, flag uint64) (recordKind, error) {
	switch flag {
	case legacyFlagEnter:
		return recEnter, nil
	case legacyFlagExit:
		return recExit, nil
	case legacyFlagInternal:
		return recExtEnter, nil
	case legacyFlagExternal:
		return recExtExit, nil
	default:
		return 0, c.fail(KindUnknownFlag, flag)
	}
}

// legacy64Reader: u64 header (3-bit flag, 61-bit delta); enter carries a u64
// address, internal/external a u64 sub-type.
type legacy64Reader struct{}

func (legacy64Reader) header(c *cursor) (header, error) {
	w, err := c.u64()
	if err != nil {
		return header{}, err
	}
	if w == 0 {
		return header{zero: true}, nil
	}
	return header{flag: w >> 61, delta: w & (1<<61 - 1)}, nil
}

func (legacy64Reader) payload(c *cursor, h header) (record, error) {
	kind, err := legacyKind(c, h.flag)
	if err != nil {
		return record{}, err
	}
	switch kind {
	case recEnter:
		addr, err := c.u64()
		if err != nil {
			return record{}, err
		}
		return record{kind: recEnter, addr: addr}, nil
	case recExit:
		return record{kind: recExit}, nil
	}
	v, err := c.u64()
	if err != nil {
		return record{}, err
	}
	sub, err := parseSubtype(c, v)
	if err != nil {
		return record{}, err
	}
	return extPayload(c, kind, sub, c.u64)
}

// legacy32Reader widens the u32 header and the u32 word after it into one
// 64-bit value before interpreting it: 3-bit flag, 29-bit delta, then the
// 32-bit payload (address, sub-type, or unused for exit).
type legacy32Reader struct{}

func (legacy32Reader) header(c *cursor) (header, error) {
	hi, err := c.u32()
	if err != nil {
		return header{}, err
	}
	if hi == 0 {
		return header{zero: true}, nil
	}
	lo, err := c.u32()
	if err != nil {
		return header{}, err
	}
	v := uint64(hi)<<32 | uint64(lo)
	return header{
		flag:   v >> 61,
		delta:  (v >> 32) & (1<<29 - 1),
		inline: v & 0xffffffff,
	}, nil
}

func (legacy32Reader) payload(c *cursor, h header) (record, error) {
	kind, err := legacyKind(c, h.flag)
	if err != nil {
		return record{}, err
	}
	switch kind {
	case recEnter:
		return record{kind: recEnter, addr: h.inline}, nil
	case recExit:
		return record{kind: recExit}, nil
	}
	sub, err := parseSubtype(c, h.inline)
	if err != nil {
		return record{}, err
	}
	return extPayload(c, kind, sub, func() (uint64, error) {
		v, err := c.u32()
		return uint64(v), err
	})
}
