package decode

import "encoding/binary"

// capture builds binary traces for tests. It is the only encoder of the
// format in this repository.
type capture struct {
	epoch Epoch
	width Width
	buf   []byte
}

func newCapture(epoch Epoch, width Width) *capture {
	return &capture{epoch: epoch, width: width}
}

func (c *capture) u32(v uint32) *capture {
	c.buf = binary.LittleEndian.AppendUint32(c.buf, v)
	return c
}

func (c *capture) u64(v uint64) *capture {
	c.buf = binary.LittleEndian.AppendUint64(c.buf, v)
	return c
}

func (c *capture) word(v uint64) *capture {
	if c.width == Width32 {
		return c.u32(uint32(v))
	}
	return c.u64(v)
}

func (c *capture) text(s string) *capture {
	c.u32(uint32(len(s)))
	c.buf = append(c.buf, s...)
	for len(c.buf)%4 != 0 {
		c.buf = append(c.buf, 0)
	}
	return c
}

// header writes a header for the current epoch or a legacy 64-bit one.
// Legacy 32-bit headers go through legacy32.
func (c *capture) header(flag, delta uint64) *capture {
	if c.epoch == EpochLegacy {
		return c.u64(flag<<61 | delta)
	}
	return c.word(flag<<(uint(c.width)-2) | delta)
}

func (c *capture) legacy32(flag, delta, payload uint64) *capture {
	c.u32(uint32(flag<<29 | delta))
	return c.u32(uint32(payload))
}

func (c *capture) enter(delta, addr uint64) *capture {
	switch {
	case c.epoch == EpochLegacy && c.width == Width32:
		return c.legacy32(legacyFlagEnter, delta, addr)
	case c.epoch == EpochLegacy:
		return c.header(legacyFlagEnter, delta).u64(addr)
	default:
		return c.header(currentFlagEnter, delta).word(addr)
	}
}

func (c *capture) exit(delta uint64) *capture {
	switch {
	case c.epoch == EpochLegacy && c.width == Width32:
		return c.legacy32(legacyFlagExit, delta, 0)
	case c.epoch == EpochLegacy:
		return c.header(legacyFlagExit, delta)
	default:
		return c.header(currentFlagExit, delta)
	}
}

func (c *capture) extended(enter bool, delta uint64, sub subtype) *capture {
	switch {
	case c.epoch == EpochLegacy && c.width == Width32:
		flag := uint64(legacyFlagExternal)
		if enter {
			flag = legacyFlagInternal
		}
		return c.legacy32(flag, delta, uint64(sub))
	case c.epoch == EpochLegacy:
		flag := uint64(legacyFlagExternal)
		if enter {
			flag = legacyFlagInternal
		}
		return c.header(flag, delta).u64(uint64(sub))
	default:
		dir := uint32(2)
		if enter {
			dir = 1
		}
		return c.header(currentFlagExtended, delta).u32(dir | uint32(sub)<<8)
	}
}

func (c *capture) extEnterDuration(delta, addr uint64) *capture {
	c.extended(true, delta, subDuration)
	if c.epoch == EpochLegacy && c.width == Width64 {
		return c.u64(addr)
	}
	return c.word(addr)
}

func (c *capture) extEnterText(delta uint64, sub subtype, s string) *capture {
	return c.extended(true, delta, sub).text(s)
}

func (c *capture) extExit(delta uint64, sub subtype, s string) *capture {
	return c.extended(false, delta, sub).text(s)
}

// zero writes an all-zero header.
func (c *capture) zero() *capture {
	return c.word(0)
}

func (c *capture) bytes() []byte {
	return c.buf
}
