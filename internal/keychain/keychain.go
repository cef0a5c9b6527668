// Package keychain is the boundary to the platform credential store.
//
// A keychain file is opened by path, unlocked with raw password bytes and
// searched for items of a given class. Located items can be exported as a
// passphrase-wrapped PKCS#8 container. Every handle returned by this package
// holds a native reference and must be closed by the caller.
//
// On macOS the store is the legacy file-based keychain driven through
// Security.framework. Other platforms have no system backend; MemoryKeychain
// stands in for tests.
package keychain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMoreItems is returned by Search.Next once the search is exhausted.
	ErrNoMoreItems = errors.New("no more items")

	// ErrUnsupported is returned by the system opener on platforms without a
	// keychain implementation.
	ErrUnsupported = errors.New("keychain files are only supported on macOS")

	// ErrClosed is returned when a handle is used after Close.
	ErrClosed = errors.New("handle closed")
)

// Status is the lock and access state of an open keychain, as a bit set.
type Status uint32

const (
	StatusUnlocked Status = 1 << iota
	StatusReadable
	StatusWritable

	// StatusUnlockedReadWrite is the only state extraction can proceed from.
	StatusUnlockedReadWrite = StatusUnlocked | StatusReadable | StatusWritable
)

func (s Status) String() string {
	switch {
	case s == StatusUnlockedReadWrite:
		return "unlocked-read-write"
	case s&StatusUnlocked == 0:
		return fmt.Sprintf("locked (%d)", uint32(s))
	case s&StatusWritable == 0:
		return fmt.Sprintf("unlocked-read-only (%d)", uint32(s))
	default:
		return fmt.Sprintf("unknown (%d)", uint32(s))
	}
}

// ItemClass selects which kind of item a search returns.
type ItemClass int

const (
	ClassPrivateKey ItemClass = iota + 1
	ClassPublicKey
	ClassSymmetricKey
	ClassCertificate
)

func (c ItemClass) String() string {
	switch c {
	case ClassPrivateKey:
		return "private-key"
	case ClassPublicKey:
		return "public-key"
	case ClassSymmetricKey:
		return "symmetric-key"
	case ClassCertificate:
		return "certificate"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Format is the export encoding.
type Format int

const (
	// FormatWrappedPKCS8 is a PKCS#8 EncryptedPrivateKeyInfo protected by a
	// passphrase-derived key.
	FormatWrappedPKCS8 Format = iota + 1
)

func (f Format) String() string {
	if f == FormatWrappedPKCS8 {
		return "wrapped-pkcs8"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ExportParams configures Item.Export. Passphrase is required.
type ExportParams struct {
	Format     Format
	Flags      uint32
	Passphrase string
}

// StatusError carries a native status code returned by the store.
type StatusError struct {
	Op   string
	Code int32
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (status %d)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

// CodeOf returns the native status code in err's chain, if any.
func CodeOf(err error) (int32, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// Opener opens keychain files by path.
type Opener interface {
	Open(path string) (Keychain, error)
}

// Keychain is an open keychain handle.
type Keychain interface {
	Path() string
	Unlock(password []byte) error
	Status() (Status, error)
	Search(class ItemClass) (Search, error)
	Lock() error
	Close() error
}

// Search iterates over items matching a search, in store-defined order.
type Search interface {
	Next() (Item, error)
	Close() error
}

// Item is a single located keychain item. It is only valid while the
// keychain that produced it remains open.
type Item interface {
	Export(params ExportParams) ([]byte, error)
	Close() error
}

func validateExport(params ExportParams) error {
	if params.Format != FormatWrappedPKCS8 {
		return fmt.Errorf("unsupported export format %s", params.Format)
	}
	if params.Passphrase == "" {
		return errors.New("export passphrase is required")
	}
	return nil
}
