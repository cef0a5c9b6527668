// Package pkcs8 inspects passphrase-wrapped PKCS#8 containers
// (EncryptedPrivateKeyInfo, RFC 5958) without decrypting them.
package pkcs8

import (
	"encoding/asn1"
	"errors"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ErrMalformed is returned when the input is not an EncryptedPrivateKeyInfo.
var ErrMalformed = errors.New("malformed encrypted private key info")

var (
	oidPBES2            = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBKDF2           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}
	oidPBEWithSHA3DES   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 3}
	oidPBEWithSHA2DES   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 4}
	oidPBEWithSHARC2128 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 5}
	oidPBEWithSHARC240  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 6}
	oidDESEDE3CBC       = asn1.ObjectIdentifier{1, 2, 840, 113549, 3, 7}
	oidAES128CBC        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
	oidAES192CBC        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 22}
	oidAES256CBC        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}
)

var names = map[string]string{
	oidPBES2.String():            "PBES2",
	oidPBKDF2.String():           "PBKDF2",
	oidPBEWithSHA3DES.String():   "pbeWithSHAAnd3-KeyTripleDES-CBC",
	oidPBEWithSHA2DES.String():   "pbeWithSHAAnd2-KeyTripleDES-CBC",
	oidPBEWithSHARC2128.String(): "pbeWithSHAAnd128BitRC2-CBC",
	oidPBEWithSHARC240.String():  "pbeWithSHAAnd40BitRC2-CBC",
	oidDESEDE3CBC.String():       "des-ede3-cbc",
	oidAES128CBC.String():        "aes128-cbc",
	oidAES192CBC.String():        "aes192-cbc",
	oidAES256CBC.String():        "aes256-cbc",
}

// Name returns a readable name for a known algorithm OID, or the dotted OID.
func Name(oid asn1.ObjectIdentifier) string {
	if n, ok := names[oid.String()]; ok {
		return n
	}
	return oid.String()
}

// Info describes the wrapping of an encrypted private key.
type Info struct {
	Algorithm     asn1.ObjectIdentifier
	Cipher        asn1.ObjectIdentifier // PBES2 only
	Iterations    int64                 // 0 when the parameters are not understood
	CiphertextLen int
}

// Scheme returns the readable wrapping scheme, e.g. "PBES2/aes256-cbc".
func (i Info) Scheme() string {
	if i.Cipher != nil {
		return Name(i.Algorithm) + "/" + Name(i.Cipher)
	}
	return Name(i.Algorithm)
}

// Inspect parses the outer structure of a DER EncryptedPrivateKeyInfo.
func Inspect(der []byte) (Info, error) {
	var info Info

	input := cryptobyte.String(der)
	var epki, algID cryptobyte.String
	if !input.ReadASN1(&epki, cbasn1.SEQUENCE) || !input.Empty() {
		return info, ErrMalformed
	}
	if !epki.ReadASN1(&algID, cbasn1.SEQUENCE) {
		return info, ErrMalformed
	}
	if !algID.ReadASN1ObjectIdentifier(&info.Algorithm) {
		return info, ErrMalformed
	}

	var data cryptobyte.String
	if !epki.ReadASN1(&data, cbasn1.OCTET_STRING) || !epki.Empty() {
		return info, ErrMalformed
	}
	info.CiphertextLen = len(data)

	var params cryptobyte.String
	if !algID.ReadASN1(&params, cbasn1.SEQUENCE) {
		return info, nil
	}
	if info.Algorithm.Equal(oidPBES2) {
		info.Iterations, info.Cipher = parsePBES2(params)
	} else {
		info.Iterations = parsePBEParams(params)
	}
	return info, nil
}

// parsePBEParams reads PKCS#12 PBE parameters: SEQUENCE { salt, iterations }.
func parsePBEParams(params cryptobyte.String) int64 {
	var salt cryptobyte.String
	var iter int64
	if !params.ReadASN1(&salt, cbasn1.OCTET_STRING) || !params.ReadASN1Integer(&iter) {
		return 0
	}
	return iter
}

// parsePBES2 reads PBES2-params: SEQUENCE { keyDerivationFunc, encryptionScheme }.
func parsePBES2(params cryptobyte.String) (int64, asn1.ObjectIdentifier) {
	var kdf, scheme cryptobyte.String
	if !params.ReadASN1(&kdf, cbasn1.SEQUENCE) || !params.ReadASN1(&scheme, cbasn1.SEQUENCE) {
		return 0, nil
	}

	var cipher asn1.ObjectIdentifier
	if !scheme.ReadASN1ObjectIdentifier(&cipher) {
		cipher = nil
	}

	var oid asn1.ObjectIdentifier
	if !kdf.ReadASN1ObjectIdentifier(&oid) || !oid.Equal(oidPBKDF2) {
		return 0, cipher
	}
	var pbkdf2 cryptobyte.String
	if !kdf.ReadASN1(&pbkdf2, cbasn1.SEQUENCE) {
		return 0, cipher
	}
	return parsePBEParams(pbkdf2), cipher
}
