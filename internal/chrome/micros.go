package chrome

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Micros renders d as a count of microseconds. Whole microseconds become
// an integer; anything finer becomes an exact decimal with trailing zeros
// trimmed, so 1500ns is "1.5" and 5µs is "5".
func Micros(d time.Duration) json.Number {
	ns := int64(d)
	neg := ns < 0
	var u uint64
	if neg {
		// -(MinInt64) does not fit in int64
		u = uint64(-(ns + 1)) + 1
	} else {
		u = uint64(ns)
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatUint(u/1000, 10))
	if frac := u % 1000; frac != 0 {
		digits := strconv.FormatUint(frac+1000, 10)[1:] // zero-padded to 3
		b.WriteByte('.')
		b.WriteString(strings.TrimRight(digits, "0"))
	}
	return json.Number(b.String())
}
