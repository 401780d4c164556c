package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// decoding
	DecTruncatedBuffer Code = 1001
	DecLeftoverStack   Code = 1002
	DecMalformedRecord Code = 1003
	DecStackUnderflow  Code = 1004
	DecNonUTF8Text     Code = 1005
	DecUnknownFlag     Code = 1006
	DecTextSyntax      Code = 1007

	// symbolization
	SymUnresolved    Code = 2001
	SymToolFailed    Code = 2002
	SymBadListing    Code = 2003
	SymModuleMissing Code = 2004
	SymCacheIO       Code = 2005

	// input/output
	IORead  Code = 3001
	IOWrite Code = 3002
)

var codeDescription = map[Code]string{
	UnknownCode:        "Unknown error",
	DecTruncatedBuffer: "Capture truncated by a zero record header",
	DecLeftoverStack:   "Calls still open at end of buffer",
	DecMalformedRecord: "Malformed record",
	DecStackUnderflow:  "Exit without a matching enter",
	DecNonUTF8Text:     "Text payload is not UTF-8",
	DecUnknownFlag:     "Unknown record flag",
	DecTextSyntax:      "Line does not match the text grammar",
	SymUnresolved:      "Address has no symbol boundary in the listing",
	SymToolFailed:      "External tool failed",
	SymBadListing:      "Malformed disassembly listing",
	SymModuleMissing:   "Module not found in memory map",
	SymCacheIO:         "Symbol cache unavailable",
	IORead:             "Cannot read input",
	IOWrite:            "Cannot write output",
}

func (c Code) ID() string {
	ic := int(c)
	switch {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("DEC%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("SYM%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("IO%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
