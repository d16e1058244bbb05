package device

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MaxDevices bounds the link table: two phones plus the TWS peer.
const MaxDevices = 3

// Address is a BR/EDR device address. Octet 0 is the most significant one,
// matching the textual "AA:BB:CC:DD:EE:FF" order.
type Address [6]byte

// ParseAddress parses colon separated or bare hex notation
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(strings.ReplaceAll(strings.ReplaceAll(s, ":", ""), "-", ""))
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("invalid address %q: want 6 octets, got %d", s, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress that panics; meant for tests and constants
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// HighOctets returns the three most significant octets (vendor prefix)
func (a Address) HighOctets() [3]byte {
	return [3]byte{a[0], a[1], a[2]}
}

// IsZero reports whether the address is unset
func (a Address) IsZero() bool {
	return a == Address{}
}

// Link is one connected BR/EDR peer and its profile flags.
// Fields are written by the manager under its own lock.
type Link struct {
	Address         Address
	Name            string
	IsTWS           bool
	NotifyConnected bool
	HFConnected     bool
	A2DPConnected   bool
	AVRCPConnected  bool
	HIDConnected    bool
	SPPConnections  uint8

	used bool
}

// ProfileConnected reports whether a phone-facing audio profile is up
func (l *Link) ProfileConnected() bool {
	return l.HFConnected || l.A2DPConnected
}

// Registry errors
var (
	ErrAlreadyExists = errors.New("device already registered")
	ErrRegistryFull  = errors.New("device registry full")
	ErrNotFound      = errors.New("device not found")
)
