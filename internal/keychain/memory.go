package keychain

import (
	"bytes"
	"fmt"
	"sync"
)

// Status codes used by MemoryKeychain. They mirror the Security.framework
// values so diagnostics read the same as on macOS.
const (
	CodeAuthFailed     int32 = -25293
	CodeNoSuchKeychain int32 = -25294
	CodeItemNotFound   int32 = -25300
	CodeInteraction    int32 = -25315
)

// MemoryItem is an item stored in a MemoryKeychain. Blob is what Export
// returns; ExportErr, when set, is returned instead.
type MemoryItem struct {
	Label     string
	Class     ItemClass
	Blob      []byte
	ExportErr error
}

// MemoryKeychain is an in-memory Keychain for testing. It tracks every call
// and the number of outstanding handles so tests can assert release on all
// exit paths.
type MemoryKeychain struct {
	mu       sync.Mutex
	path     string
	password []byte
	status   Status
	items    []MemoryItem

	// Failure injection.
	UnlockErr error
	StatusErr error
	SearchErr error
	// StatusAfterUnlock overrides the status reported after a successful
	// unlock when non-zero.
	StatusAfterUnlock Status

	calls   []string
	opens   int
	handles int
	exports []ExportParams
}

// NewMemoryKeychain creates a locked keychain that unlocks with password.
func NewMemoryKeychain(path string, password []byte, items ...MemoryItem) *MemoryKeychain {
	return &MemoryKeychain{
		path:     path,
		password: bytes.Clone(password),
		items:    items,
	}
}

func (k *MemoryKeychain) record(op string) {
	k.calls = append(k.calls, op)
}

// Calls returns the operations performed so far, in order.
func (k *MemoryKeychain) Calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.calls...)
}

// OpenHandles returns the number of keychain, search and item handles not yet closed.
func (k *MemoryKeychain) OpenHandles() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.handles
}

// Exports returns the parameters of every Export call.
func (k *MemoryKeychain) Exports() []ExportParams {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]ExportParams(nil), k.exports...)
}

func (k *MemoryKeychain) Path() string { return k.path }

func (k *MemoryKeychain) Unlock(password []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("unlock")
	if k.UnlockErr != nil {
		return k.UnlockErr
	}
	if !bytes.Equal(password, k.password) {
		return &StatusError{Op: "unlock", Code: CodeAuthFailed}
	}
	k.status = StatusUnlockedReadWrite
	if k.StatusAfterUnlock != 0 {
		k.status = k.StatusAfterUnlock
	}
	return nil
}

func (k *MemoryKeychain) Status() (Status, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("status")
	if k.StatusErr != nil {
		return 0, k.StatusErr
	}
	return k.status, nil
}

func (k *MemoryKeychain) Search(class ItemClass) (Search, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("search")
	if k.SearchErr != nil {
		return nil, k.SearchErr
	}
	if k.status&StatusReadable == 0 {
		return nil, &StatusError{Op: "search", Code: CodeInteraction}
	}
	var matches []int
	for i, it := range k.items {
		if it.Class == class {
			matches = append(matches, i)
		}
	}
	k.handles++
	return &memorySearch{kc: k, matches: matches}, nil
}

func (k *MemoryKeychain) Lock() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("lock")
	k.status = 0
	return nil
}

func (k *MemoryKeychain) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("close")
	if k.opens > 0 {
		k.opens--
		k.handles--
	}
	return nil
}

type memorySearch struct {
	kc      *MemoryKeychain
	matches []int
	pos     int
	closed  bool
}

func (s *memorySearch) Next() (Item, error) {
	s.kc.mu.Lock()
	defer s.kc.mu.Unlock()
	s.kc.record("next")
	if s.closed {
		return nil, ErrClosed
	}
	if s.pos >= len(s.matches) {
		return nil, ErrNoMoreItems
	}
	idx := s.matches[s.pos]
	s.pos++
	s.kc.handles++
	return &memoryItem{kc: s.kc, idx: idx}, nil
}

func (s *memorySearch) Close() error {
	s.kc.mu.Lock()
	defer s.kc.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.kc.handles--
	}
	return nil
}

type memoryItem struct {
	kc     *MemoryKeychain
	idx    int
	closed bool
}

func (i *memoryItem) Export(params ExportParams) ([]byte, error) {
	i.kc.mu.Lock()
	defer i.kc.mu.Unlock()
	i.kc.record("export")
	if i.closed {
		return nil, ErrClosed
	}
	i.kc.exports = append(i.kc.exports, params)
	if err := validateExport(params); err != nil {
		return nil, err
	}
	it := i.kc.items[i.idx]
	if it.ExportErr != nil {
		return nil, it.ExportErr
	}
	return bytes.Clone(it.Blob), nil
}

func (i *memoryItem) Close() error {
	i.kc.mu.Lock()
	defer i.kc.mu.Unlock()
	if !i.closed {
		i.closed = true
		i.kc.handles--
	}
	return nil
}

// MemoryOpener resolves paths to registered MemoryKeychains.
type MemoryOpener struct {
	// Fallback, when set, is served for paths that were not registered.
	Fallback *MemoryKeychain

	mu        sync.Mutex
	keychains map[string]*MemoryKeychain
	opened    []string
}

// NewMemoryOpener registers keychains by their path.
func NewMemoryOpener(keychains ...*MemoryKeychain) *MemoryOpener {
	o := &MemoryOpener{keychains: make(map[string]*MemoryKeychain)}
	for _, k := range keychains {
		o.keychains[k.path] = k
	}
	return o
}

// Opened returns the paths passed to Open, in order.
func (o *MemoryOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

func (o *MemoryOpener) Open(path string) (Keychain, error) {
	o.mu.Lock()
	o.opened = append(o.opened, path)
	k, ok := o.keychains[path]
	if !ok && o.Fallback != nil {
		k, ok = o.Fallback, true
	}
	o.mu.Unlock()
	if !ok {
		return nil, &StatusError{Op: "open", Code: CodeNoSuchKeychain, Err: fmt.Errorf("no keychain at %s", path)}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("open")
	k.opens++
	k.handles++
	return k, nil
}
