// Package password decodes the hex-encoded keychain password given on the
// command line into the raw bytes the keychain unlock call expects.
//
// The decoded bytes are held in a memory-locked buffer and must be released
// with Destroy once the keychain has been unlocked.
package password

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

var (
	// ErrOddLength is returned when the hex string has an odd number of digits.
	ErrOddLength = errors.New("odd hex password length, must be even")

	// ErrInvalidHex is returned when a digit pair is not valid hex.
	ErrInvalidHex = errors.New("invalid hex digit in password")
)

// Password holds decoded password bytes.
type Password struct {
	b      []byte
	locked bool
}

// Decode converts a string of hex digit pairs into raw bytes. Decoding is
// strict: an odd length or any non-hex pair is an error and nothing is returned.
func Decode(s string) (*Password, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w (got %d digits)", ErrOddLength, len(s))
	}

	b := make([]byte, len(s)/2)
	locked := lockMemory(b)

	n, err := hex.Decode(b, []byte(s))
	if err != nil {
		p := &Password{b: b, locked: locked}
		p.Destroy()
		var invalid hex.InvalidByteError
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("%w: pair %d", ErrInvalidHex, n+1)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}

	return &Password{b: b, locked: locked}, nil
}

// Bytes returns the decoded password. The slice is only valid until Destroy.
func (p *Password) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.b
}

// Len returns the number of decoded bytes.
func (p *Password) Len() int {
	if p == nil {
		return 0
	}
	return len(p.b)
}

// Destroy zeroes the password and releases its memory lock. Safe to call
// more than once.
func (p *Password) Destroy() {
	if p == nil || p.b == nil {
		return
	}
	memguard.WipeBytes(p.b)
	if p.locked {
		unlockMemory(p.b)
	}
	p.b = nil
	p.locked = false
}
