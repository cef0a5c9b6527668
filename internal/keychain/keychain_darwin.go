//go:build darwin

package keychain

/*
#cgo CFLAGS: -Wno-deprecated-declarations
#cgo LDFLAGS: -framework Security -framework CoreFoundation
#include <stdlib.h>
#include <string.h>
#include <CoreFoundation/CoreFoundation.h>
#include <Security/Security.h>

static OSStatus exportWrappedPKCS8(SecKeychainItemRef item, uint32_t flags, const char *passphrase, CFDataRef *out) {
	CFStringRef pass = CFStringCreateWithCString(NULL, passphrase, kCFStringEncodingUTF8);
	if (pass == NULL) {
		return errSecParam;
	}
	SecItemImportExportKeyParameters params;
	memset(&params, 0, sizeof(params));
	params.version = SEC_KEY_IMPORT_EXPORT_PARAMS_VERSION;
	params.passphrase = pass;
	OSStatus status = SecItemExport(item, kSecFormatWrappedPKCS8, flags, &params, out);
	CFRelease(pass);
	return status;
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemOpener opens keychain files through Security.framework.
type SystemOpener struct{}

// NewSystemOpener returns the platform keychain opener.
func NewSystemOpener() Opener {
	return SystemOpener{}
}

func statusError(op string, status C.OSStatus) error {
	if status == C.errSecSuccess {
		return nil
	}
	return &StatusError{Op: op, Code: int32(status), Err: gokeychain.Error(status)}
}

func (SystemOpener) Open(path string) (Keychain, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var ref C.SecKeychainRef
	if err := statusError("SecKeychainOpen", C.SecKeychainOpen(cpath, &ref)); err != nil {
		return nil, err
	}

	// SecKeychainOpen succeeds for paths that do not exist; probing the
	// status surfaces errSecNoSuchKeychain here instead of at unlock.
	var status C.SecKeychainStatus
	if err := statusError("SecKeychainGetStatus", C.SecKeychainGetStatus(ref, &status)); err != nil {
		C.CFRelease(C.CFTypeRef(ref))
		return nil, err
	}

	return &systemKeychain{path: path, ref: ref}, nil
}

type systemKeychain struct {
	path string
	ref  C.SecKeychainRef
}

func (k *systemKeychain) Path() string { return k.path }

func (k *systemKeychain) Unlock(password []byte) error {
	if k.ref == 0 {
		return ErrClosed
	}
	var p unsafe.Pointer
	if len(password) > 0 {
		p = C.CBytes(password)
		defer func() {
			C.memset(p, 0, C.size_t(len(password)))
			C.free(p)
		}()
	}
	return statusError("SecKeychainUnlock", C.SecKeychainUnlock(k.ref, C.UInt32(len(password)), p, C.Boolean(1)))
}

func (k *systemKeychain) Status() (Status, error) {
	if k.ref == 0 {
		return 0, ErrClosed
	}
	var status C.SecKeychainStatus
	if err := statusError("SecKeychainGetStatus", C.SecKeychainGetStatus(k.ref, &status)); err != nil {
		return 0, err
	}
	return Status(status), nil
}

func itemClass(class ItemClass) (C.SecItemClass, error) {
	switch class {
	case ClassPrivateKey:
		return C.kSecPrivateKeyItemClass, nil
	case ClassPublicKey:
		return C.kSecPublicKeyItemClass, nil
	case ClassSymmetricKey:
		return C.kSecSymmetricKeyItemClass, nil
	case ClassCertificate:
		return C.kSecCertificateItemClass, nil
	default:
		return 0, fmt.Errorf("unsupported item class %s", class)
	}
}

func (k *systemKeychain) Search(class ItemClass) (Search, error) {
	if k.ref == 0 {
		return nil, ErrClosed
	}
	cls, err := itemClass(class)
	if err != nil {
		return nil, err
	}
	var ref C.SecKeychainSearchRef
	if err := statusError("SecKeychainSearchCreateFromAttributes",
		C.SecKeychainSearchCreateFromAttributes(C.CFTypeRef(k.ref), cls, nil, &ref)); err != nil {
		return nil, err
	}
	return &systemSearch{ref: ref}, nil
}

func (k *systemKeychain) Lock() error {
	if k.ref == 0 {
		return ErrClosed
	}
	return statusError("SecKeychainLock", C.SecKeychainLock(k.ref))
}

func (k *systemKeychain) Close() error {
	if k.ref != 0 {
		C.CFRelease(C.CFTypeRef(k.ref))
		k.ref = 0
	}
	return nil
}

type systemSearch struct {
	ref C.SecKeychainSearchRef
}

func (s *systemSearch) Next() (Item, error) {
	if s.ref == 0 {
		return nil, ErrClosed
	}
	var item C.SecKeychainItemRef
	status := C.SecKeychainSearchCopyNext(s.ref, &item)
	if status == C.errSecItemNotFound {
		return nil, ErrNoMoreItems
	}
	if err := statusError("SecKeychainSearchCopyNext", status); err != nil {
		return nil, err
	}
	return &systemItem{ref: item}, nil
}

func (s *systemSearch) Close() error {
	if s.ref != 0 {
		C.CFRelease(C.CFTypeRef(s.ref))
		s.ref = 0
	}
	return nil
}

type systemItem struct {
	ref C.SecKeychainItemRef
}

func (i *systemItem) Export(params ExportParams) ([]byte, error) {
	if i.ref == 0 {
		return nil, ErrClosed
	}
	if err := validateExport(params); err != nil {
		return nil, err
	}

	cpass := C.CString(params.Passphrase)
	defer func() {
		C.memset(unsafe.Pointer(cpass), 0, C.size_t(len(params.Passphrase)))
		C.free(unsafe.Pointer(cpass))
	}()

	var data C.CFDataRef
	if err := statusError("SecItemExport",
		C.exportWrappedPKCS8(i.ref, C.uint32_t(params.Flags), cpass, &data)); err != nil {
		return nil, err
	}
	if data == 0 {
		return nil, nil
	}
	defer C.CFRelease(C.CFTypeRef(data))

	n := C.CFDataGetLength(data)
	if n == 0 {
		return nil, nil
	}
	return C.GoBytes(unsafe.Pointer(C.CFDataGetBytePtr(data)), C.int(n)), nil
}

func (i *systemItem) Close() error {
	if i.ref != 0 {
		C.CFRelease(C.CFTypeRef(i.ref))
		i.ref = 0
	}
	return nil
}
