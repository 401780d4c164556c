package symbolize

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"x2trace/internal/decode"
)

func TestResolveExampleC(t *testing.T) {
	listing := "0000000000002000 <foo>\n0000000000004000 <bar>\n"
	got, err := Resolve([]string{"2000", "3000"}, strings.NewReader(listing), 0)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := map[string]Info{
		"0x2000": {Address: "0x2000", FunctionName: "foo"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

const objdumpListing = `
/tmp/prog:     file format elf64-x86-64


Disassembly of section .text:

0000000000001040 <_start>:
0000000000001040 <_start> xor    %ebp,%ebp
0000000000001042 <_start+0x2> mov    %rdx,%r9
main():
/src/prog/main.c:3
0000000000001139 <main> push   %rbp
000000000000113a <main+0x1> mov    %rsp,%rbp
helper():
/src/prog/helper.c:10
0000000000001150 <helper> push   %rbp
0000000000001151 <helper+0x1> ret
`

func TestResolveObjdumpListing(t *testing.T) {
	addrs := []string{"0x1150", "0X1139", "0x113a", "0x1139", "0x9999"}
	got, err := Resolve(addrs, strings.NewReader(objdumpListing), 0)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := map[string]Info{
		"0x1139": {Address: "0x1139", FileLocation: "/src/prog/main.c:3", FunctionName: "main"},
		"0x1150": {Address: "0x1150", FileLocation: "/src/prog/helper.c:10", FunctionName: "helper"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveBaseOffset(t *testing.T) {
	got, err := Resolve([]string{"0x555555555139"}, strings.NewReader(objdumpListing), 0x555555554000)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	info, ok := got["0x555555555139"]
	if !ok || info.FunctionName != "main" {
		t.Fatalf("got %v, want main at 0x555555555139", got)
	}
}

func TestResolveNumericOrder(t *testing.T) {
	// "fff" sorts after "1000" as a string but before it as a number.
	listing := "0000000000000fff <a>\n0000000000001000 <b>\n"
	got, err := Resolve([]string{"1000", "fff"}, strings.NewReader(listing), 0)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(got) != 2 || got["0xfff"].FunctionName != "a" || got["0x1000"].FunctionName != "b" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveMalformedAddress(t *testing.T) {
	listing := "0000000000001000 <a>\n00000000zz002000 <b>\n"
	_, err := Resolve([]string{"2000"}, strings.NewReader(listing), 0)
	var ape *AddressParseError
	if !errors.As(err, &ape) {
		t.Fatalf("err = %v, want *AddressParseError", err)
	}
	if !strings.Contains(ape.Text, "zz") {
		t.Fatalf("Text = %q", ape.Text)
	}
}

func TestResolveStopsWhenTargetsExhausted(t *testing.T) {
	// The bad line is never reached: the only target is found first.
	listing := "0000000000001000 <a>\n00000000zz002000 <b>\n"
	got, err := Resolve([]string{"1000"}, strings.NewReader(listing), 0)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestResolveEmpty(t *testing.T) {
	got, err := Resolve(nil, strings.NewReader(objdumpListing), 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestNormalizeAddresses(t *testing.T) {
	got := NormalizeAddresses([]string{"0x10", "0XFF", "ff", "2", "nothex", "0x0010"})
	want := []string{"2", "10", "ff"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("NormalizeAddresses mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProcMaps(t *testing.T) {
	maps := `555555554000-555555555000 r--p 00000000 08:01 1311 /usr/bin/prog
555555555000-555555556000 r-xp 00001000 08:01 1311 /usr/bin/prog
7ffff7dc3000-7ffff7de9000 r--p 00000000 08:01 2002 /usr/lib/libc.so.6
7ffff7f00000-7ffff7f01000 r--p 00000000 08:01 2002 /other/libc.so.6
7ffff7fc1000-7ffff7fc5000 r--p 00000000 00:00 0 [vvar]
7ffff7fc5000-7ffff7fc7000 rw-p 00000000 00:00 0
garbage line
`
	got, err := ParseProcMaps(strings.NewReader(maps))
	if err != nil {
		t.Fatalf("ParseProcMaps returned error: %v", err)
	}
	want := map[string]uint64{
		"prog":      0x555555554000,
		"libc.so.6": 0x7ffff7dc3000,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("maps mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBitWidth(t *testing.T) {
	tests := []struct {
		out     string
		want    decode.Width
		wantErr bool
	}{
		{"prog: ELF 64-bit LSB pie executable, x86-64", decode.Width64, false},
		{"prog: ELF 32-bit LSB executable, Intel 80386", decode.Width32, false},
		{"prog: ASCII text", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBitWidth(tt.out)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseBitWidth(%q) err = %v", tt.out, err)
		}
		if got != tt.want {
			t.Errorf("ParseBitWidth(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}
