//go:build !darwin

package keychain

// NewSystemOpener returns an opener that always fails on non-darwin
// platforms. Keychain files can only be unlocked through Security.framework.
func NewSystemOpener() Opener {
	return unsupportedOpener{}
}

type unsupportedOpener struct{}

func (unsupportedOpener) Open(path string) (Keychain, error) {
	return nil, ErrUnsupported
}
