package decode

import (
	"fmt"
	"strings"
)

// Epoch identifies a binary record layout.
type Epoch uint8

const (
	// EpochCurrent is the 2-bit flag layout with an explicit sub-type word
	// on extended records.
	EpochCurrent Epoch = iota + 1
	// EpochLegacy is the 3-bit flag layout (enter/exit/internal/external);
	// 32-bit captures widen header and payload into one 64-bit value.
	EpochLegacy
)

// String returns the string representation of Epoch.
func (e Epoch) String() string {
	switch e {
	case EpochCurrent:
		return "current"
	case EpochLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// ParseEpoch converts a string to an Epoch.
func ParseEpoch(s string) (Epoch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "current":
		return EpochCurrent, nil
	case "legacy":
		return EpochLegacy, nil
	default:
		return EpochCurrent, fmt.Errorf("invalid wire epoch: %q (expected: current|legacy)", s)
	}
}

// Width is the address word width of the traced program, in bits.
type Width uint8

const (
	Width32 Width = 32
	Width64 Width = 64
)

// Bytes returns the size of one address word.
func (w Width) Bytes() int {
	return int(w) / 8
}

// Valid reports whether w is 32 or 64.
func (w Width) Valid() bool {
	return w == Width32 || w == Width64
}

// String returns the string representation of Width.
func (w Width) String() string {
	switch w {
	case Width32:
		return "32"
	case Width64:
		return "64"
	default:
		return "auto"
	}
}

// ParseWidth accepts "32", "64" and "auto". Auto is returned as zero and
// left for the caller to probe.
func ParseWidth(s string) (Width, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return 0, nil
	case "32", "32-bit":
		return Width32, nil
	case "64", "64-bit":
		return Width64, nil
	default:
		return 0, fmt.Errorf("invalid address width: %q (expected: auto|32|64)", s)
	}
}

// LeftoverPolicy decides what happens to calls still open at end of buffer.
type LeftoverPolicy uint8

const (
	// LeftoverDrop discards open calls after warning about them.
	LeftoverDrop LeftoverPolicy = iota
	// LeftoverFlush emits each open call as a standalone Begin event.
	LeftoverFlush
)

// String returns the string representation of LeftoverPolicy.
func (p LeftoverPolicy) String() string {
	if p == LeftoverFlush {
		return "flush"
	}
	return "drop"
}

// ParseLeftoverPolicy converts a string to a LeftoverPolicy.
func ParseLeftoverPolicy(s string) (LeftoverPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return LeftoverDrop, nil
	case "flush":
		return LeftoverFlush, nil
	default:
		return LeftoverDrop, fmt.Errorf("invalid leftover policy: %q (expected: drop|flush)", s)
	}
}
