package extract

import (
	"errors"
	"fmt"
	"testing"

	"github.com/benaskins/keyextract/internal/keychain"
)

func TestKindExitCodesDistinct(t *testing.T) {
	t.Parallel()
	seen := make(map[int]Kind)
	for k := InvalidInput; k <= WriteFailed; k++ {
		code := k.ExitCode()
		if code == 0 {
			t.Errorf("%s maps to exit code 0", k)
		}
		if prev, ok := seen[code]; ok {
			t.Errorf("%s and %s share exit code %d", prev, k, code)
		}
		seen[code] = k
	}
	if InvalidInput.ExitCode() != 1 {
		t.Errorf("InvalidInput exit code = %d, want 1", InvalidInput.ExitCode())
	}
	if Kind(99).ExitCode() != 1 {
		t.Error("unknown kinds should exit 1")
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()
	native := &keychain.StatusError{Op: "SecKeychainUnlock", Code: keychain.CodeAuthFailed}
	err := &Error{Kind: UnlockFailed, Stage: StageUnlock, Err: native}

	want := "unlock: UnlockFailed: SecKeychainUnlock: status -25293"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if code, ok := err.Code(); !ok || code != keychain.CodeAuthFailed {
		t.Errorf("Code() = %d, %v", code, ok)
	}
	if !errors.Is(err, native) {
		t.Error("expected Error to unwrap to the native error")
	}
}

func TestKindOfWrapped(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("cli: %w", &Error{Kind: NoKeyFound, Stage: StageLocate})
	if KindOf(err) != NoKeyFound {
		t.Errorf("KindOf = %s, want NoKeyFound", KindOf(err))
	}
	if ExitCode(err) != NoKeyFound.ExitCode() {
		t.Errorf("ExitCode = %d", ExitCode(err))
	}
	if ExitCode(nil) != 0 {
		t.Error("nil error should exit 0")
	}
	if ExitCode(errors.New("usage")) != 1 {
		t.Error("plain errors should exit 1")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("plain errors have no kind")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	if VerifiedUnlocked.String() != "verified-unlocked" {
		t.Errorf("got %q", VerifiedUnlocked.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("got %q", State(42).String())
	}
	if Kind(42).String() != "Kind(42)" {
		t.Errorf("got %q", Kind(42).String())
	}
}
