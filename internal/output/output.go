// Package output persists exported key material.
package output

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// PEMType is the armor label used when Options.PEM is set.
const PEMType = "ENCRYPTED PRIVATE KEY"

// Options controls how the blob is written.
type Options struct {
	// PEM wraps the blob in PEM armor instead of writing the raw DER.
	PEM bool
	// Mode is the file mode of the written file. Defaults to 0600.
	Mode os.FileMode
}

// Encode returns the bytes Write would put on disk for blob.
func Encode(blob []byte, opts Options) []byte {
	if opts.PEM {
		return pem.EncodeToMemory(&pem.Block{Type: PEMType, Bytes: blob})
	}
	return blob
}

// Write stores blob at path, replacing any existing file. The data goes to a
// temporary file in the same directory which is synced and renamed into
// place, so path holds either the complete blob or its previous contents.
func Write(path string, blob []byte, opts Options) (err error) {
	mode := opts.Mode
	if mode == 0 {
		mode = 0600
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	data := Encode(blob, opts)
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
