//go:build !darwin && !linux && !freebsd && !netbsd && !openbsd

package password

func lockMemory(b []byte) bool { return false }

func unlockMemory(b []byte) {}
