// Package address converts 48-bit Bluetooth device addresses to and from their
// canonical colon-separated form ("AA:BB:CC:DD:EE:FF").
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// octets is the number of colon-separated tokens in a canonical address.
	octets = 6

	// Len is the length of the canonical string form.
	Len = octets*3 - 1

	mask = 1<<48 - 1
)

// ErrMalformedAddress is returned when a string is not a canonical device address.
var ErrMalformedAddress = errors.New("malformed address")

// Addr is a 48-bit device identifier stored in the low bits of a uint64.
type Addr uint64

// String renders the address as six uppercase hex octets, most significant first.
func (a Addr) String() string {
	return Format(uint64(a))
}

// Format renders the low 48 bits of v in canonical form. It always succeeds.
func Format(v uint64) string {
	var b strings.Builder
	b.Grow(Len)
	for shift := 40; shift >= 0; shift -= 8 {
		fmt.Fprintf(&b, "%02X", (v>>uint(shift))&0xFF)
		if shift > 0 {
			b.WriteByte(':')
		}
	}
	return b.String()
}

// Parse decodes a canonical address. Exactly six tokens of exactly two hex digits
// are required; case is ignored.
func Parse(s string) (Addr, error) {
	tokens := strings.Split(s, ":")
	if len(tokens) != octets {
		return 0, fmt.Errorf("%w: %q has %d octets, want %d", ErrMalformedAddress, s, len(tokens), octets)
	}

	var v uint64
	for i, tok := range tokens {
		if len(tok) != 2 {
			return 0, fmt.Errorf("%w: %q octet %d is %q", ErrMalformedAddress, s, i, tok)
		}
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: %q octet %d is not hex", ErrMalformedAddress, s, i)
		}
		v = v<<8 | b
	}
	return Addr(v & mask), nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with Parse.
func (a *Addr) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
