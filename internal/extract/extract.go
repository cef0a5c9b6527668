// Package extract runs the key extraction pipeline: decode the keychain
// password, open and unlock the keychain, verify the unlock, locate the
// first private key, export it wrapped with a passphrase and write it out.
//
// Stages run strictly in order and every failure is fatal. Nothing is written
// to the output path unless all earlier stages succeeded, and every native
// handle acquired along the way is released on all exit paths.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/benaskins/keyextract/internal/audit"
	"github.com/benaskins/keyextract/internal/keychain"
	"github.com/benaskins/keyextract/internal/output"
	"github.com/benaskins/keyextract/internal/password"
	"github.com/benaskins/keyextract/internal/pkcs8"
	"github.com/benaskins/keyextract/internal/report"
)

var (
	errNoPassphrase = errors.New("wrap passphrase is required")
	errNoKey        = errors.New("no private key in keychain")
	errEmptyExport  = errors.New("export returned no data")
)

// State is a position in the pipeline.
type State int

const (
	Start State = iota
	Decoded
	Opened
	Unlocked
	VerifiedUnlocked
	Located
	Exported
	Written
	Done
	Failed
)

var stateNames = [...]string{
	Start:            "start",
	Decoded:          "decoded",
	Opened:           "opened",
	Unlocked:         "unlocked",
	VerifiedUnlocked: "verified-unlocked",
	Located:          "located",
	Exported:         "exported",
	Written:          "written",
	Done:             "done",
	Failed:           "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stage names used in diagnostics and errors.
const (
	StageInput  = "input"
	StageDecode = "decode"
	StageOpen   = "open"
	StageUnlock = "unlock"
	StageVerify = "verify"
	StageLocate = "locate"
	StageExport = "export"
	StageWrite  = "write"
	StageRelock = "relock"
)

// Options are fixed for the lifetime of an Extractor.
type Options struct {
	// Passphrase wraps the exported key. Required for Run.
	Passphrase string
	// PEM armors the output instead of writing raw DER.
	PEM bool
	// Relock locks the keychain again once it is no longer needed.
	Relock bool
	// WorkOnCopy copies the keychain file to TempDir and operates on the
	// copy, leaving the original untouched.
	WorkOnCopy bool
	TempDir    string
	// Actor is recorded in audit entries.
	Actor string
}

// Request names the inputs of a single run.
type Request struct {
	StorePath   string
	HexPassword string
	OutputPath  string
}

// Result describes how far a run got and what it produced.
type Result struct {
	// State is Done or Failed once a run returns.
	State State
	// Reached is the last state the run advanced to before finishing.
	Reached State
	// OpenedPath is the keychain file actually opened; it differs from the
	// requested path when working on a copy.
	OpenedPath string
	Status     keychain.Status
	// Candidates is the number of private keys the search returned. Only
	// the first, in store-defined enumeration order, is exported.
	Candidates int
	Bytes      int
	SHA256     string
	Wrapping   *pkcs8.Info
}

// Extractor runs the pipeline against keychains from an Opener.
type Extractor struct {
	opener keychain.Opener
	audit  *audit.Logger
	report *report.Reporter
	opts   Options
	logger *slog.Logger
}

// New creates an Extractor. auditLog and rep may be nil.
func New(opener keychain.Opener, auditLog *audit.Logger, rep *report.Reporter, opts Options) *Extractor {
	if opts.Actor == "" {
		opts.Actor = "cli"
	}
	return &Extractor{
		opener: opener,
		audit:  auditLog,
		report: rep,
		opts:   opts,
		logger: slog.With("component", "extract"),
	}
}

// run carries the state of a single pipeline execution.
type run struct {
	*Extractor
	req Request
	res *Result
}

// Run executes the full pipeline. On failure the returned error is an
// *Error and the Result's Reached field names the last state before Failed.
func (e *Extractor) Run(req Request) (*Result, error) {
	r := &run{Extractor: e, req: req, res: &Result{State: Start}}
	if err := r.execute(true); err != nil {
		return r.res, err
	}
	r.advance(Done)
	return r.res, nil
}

// Check runs the pipeline up to and including locating the key, without
// exporting or writing anything.
func (e *Extractor) Check(req Request) (*Result, error) {
	r := &run{Extractor: e, req: req, res: &Result{State: Start}}
	if err := r.execute(false); err != nil {
		return r.res, err
	}
	return r.res, nil
}

func (r *run) advance(s State) {
	r.res.State = s
	r.res.Reached = s
	r.logger.Debug("pipeline state", "state", s.String(), "store", r.req.StorePath)
}

func (r *run) fail(kind Kind, stage string, err error) error {
	e := &Error{Kind: kind, Stage: stage, Err: err}
	r.res.State = Failed
	r.report.Fail(stage, e)
	r.logger.Debug("pipeline failed", "stage", stage, "kind", kind.String(), "reached", r.res.Reached.String(), "error", err)
	return e
}

func (r *run) record(entry audit.Entry, err error) {
	entry.Store = r.req.StorePath
	entry.Actor = r.opts.Actor
	if err != nil {
		entry.Error = err.Error()
		if code, ok := keychain.CodeOf(err); ok {
			entry.Code = code
		}
	}
	// Audit logging is best-effort; a failed write never changes the outcome.
	if logErr := r.audit.Log(entry); logErr != nil {
		r.logger.Warn("audit log write failed", "action", entry.Action, "error", logErr)
	}
}

func (r *run) execute(export bool) error {
	if r.req.StorePath == "" {
		return r.fail(InvalidInput, StageInput, errors.New("keychain path is required"))
	}
	if export && r.req.OutputPath == "" {
		return r.fail(InvalidInput, StageInput, errors.New("output path is required"))
	}
	if export && r.opts.Passphrase == "" {
		return r.fail(InvalidInput, StageInput, errNoPassphrase)
	}

	pw, err := password.Decode(r.req.HexPassword)
	if err != nil {
		return r.fail(InvalidInput, StageDecode, err)
	}
	defer pw.Destroy()
	r.advance(Decoded)
	r.report.OK(StageDecode, "password decoded (%d bytes)", pw.Len())

	path := r.req.StorePath
	if r.opts.WorkOnCopy {
		cp, cleanup, err := copyStore(path, r.opts.TempDir)
		if err != nil {
			return r.fail(OpenFailed, StageOpen, err)
		}
		defer cleanup()
		r.report.OK(StageOpen, "working on copy %s", cp)
		path = cp
	}

	kc, err := r.opener.Open(path)
	r.record(audit.Entry{Action: audit.ActionStoreOpen}, err)
	if err != nil {
		return r.fail(OpenFailed, StageOpen, err)
	}
	defer kc.Close()
	r.res.OpenedPath = path
	r.advance(Opened)
	r.report.OK(StageOpen, "opened %s", path)

	err = kc.Unlock(pw.Bytes())
	pw.Destroy()
	r.record(audit.Entry{Action: audit.ActionStoreUnlock}, err)
	if err != nil {
		return r.fail(UnlockFailed, StageUnlock, err)
	}
	r.advance(Unlocked)
	if r.opts.Relock {
		defer r.relock(kc)
	}

	status, err := kc.Status()
	if err != nil {
		return r.fail(UnlockVerificationFailed, StageVerify, err)
	}
	r.res.Status = status
	if status != keychain.StatusUnlockedReadWrite {
		return r.fail(UnlockVerificationFailed, StageVerify,
			fmt.Errorf("keychain status is %s, want %s", status, keychain.StatusUnlockedReadWrite))
	}
	r.advance(VerifiedUnlocked)
	r.report.OK(StageUnlock, "keychain unlocked (%s)", status)

	item, err := r.locate(kc)
	if err != nil {
		return err
	}
	defer item.Close()
	r.advance(Located)

	if !export {
		return nil
	}
	return r.exportAndWrite(item)
}

// locate returns the first private key and counts any further candidates.
func (r *run) locate(kc keychain.Keychain) (keychain.Item, error) {
	search, err := kc.Search(keychain.ClassPrivateKey)
	if err != nil {
		r.record(audit.Entry{Action: audit.ActionKeySearch}, err)
		return nil, r.fail(NoKeyFound, StageLocate, err)
	}
	defer search.Close()

	item, err := search.Next()
	if err != nil {
		if errors.Is(err, keychain.ErrNoMoreItems) {
			err = errNoKey
		}
		r.record(audit.Entry{Action: audit.ActionKeySearch}, err)
		return nil, r.fail(NoKeyFound, StageLocate, err)
	}

	count := 1
	for {
		extra, err := search.Next()
		if err != nil {
			if !errors.Is(err, keychain.ErrNoMoreItems) {
				r.logger.Debug("stopped counting candidates", "error", err)
			}
			break
		}
		extra.Close()
		count++
	}
	r.res.Candidates = count
	r.record(audit.Entry{Action: audit.ActionKeySearch, Count: count}, nil)

	if count > 1 {
		r.logger.Warn("multiple private keys found, using the first in keychain order", "count", count)
		r.report.Warn(StageLocate, "%d private keys found; using the first in keychain order", count)
	} else {
		r.report.OK(StageLocate, "private key found")
	}
	return item, nil
}

func (r *run) exportAndWrite(item keychain.Item) error {
	params := keychain.ExportParams{
		Format:     keychain.FormatWrappedPKCS8,
		Passphrase: r.opts.Passphrase,
	}
	blob, err := item.Export(params)
	if err == nil && len(blob) == 0 {
		err = errEmptyExport
	}
	r.record(audit.Entry{Action: audit.ActionKeyExport, Bytes: len(blob)}, err)
	if err != nil {
		return r.fail(ExportFailed, StageExport, err)
	}
	defer memguard.WipeBytes(blob)
	r.advance(Exported)

	sum := sha256.Sum256(blob)
	r.res.Bytes = len(blob)
	r.res.SHA256 = hex.EncodeToString(sum[:])

	if info, err := pkcs8.Inspect(blob); err != nil {
		r.logger.Warn("exported blob is not a recognised EncryptedPrivateKeyInfo", "error", err)
		r.report.Warn(StageExport, "exported %d bytes, wrapping not recognised: %v", len(blob), err)
	} else {
		r.res.Wrapping = &info
		r.report.OK(StageExport, "exported %d bytes (%s, %d iterations)", len(blob), info.Scheme(), info.Iterations)
	}

	err = output.Write(r.req.OutputPath, blob, output.Options{PEM: r.opts.PEM})
	r.record(audit.Entry{Action: audit.ActionKeyWrite, Output: r.req.OutputPath, Bytes: len(blob), SHA256: r.res.SHA256}, err)
	if err != nil {
		return r.fail(WriteFailed, StageWrite, err)
	}
	r.advance(Written)
	r.report.OK(StageWrite, "wrote %s (sha256 %s)", r.req.OutputPath, r.res.SHA256)
	return nil
}

func (r *run) relock(kc keychain.Keychain) {
	err := kc.Lock()
	r.record(audit.Entry{Action: audit.ActionStoreLock}, err)
	if err != nil {
		r.logger.Warn("relocking keychain failed", "error", err)
		r.report.Warn(StageRelock, "could not lock keychain again: %v", err)
		return
	}
	r.report.OK(StageRelock, "keychain locked")
}

// copyStore copies the keychain at path into dir and returns the copy's
// path and a func that removes it.
func copyStore(path, dir string) (string, func(), error) {
	src, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("opening keychain for copy: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(dir, "keyextract-*.keychain")
	if err != nil {
		return "", nil, fmt.Errorf("creating keychain copy: %w", err)
	}
	cleanup := func() { os.Remove(dst.Name()) }

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		return "", nil, fmt.Errorf("copying keychain: %w", err)
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("copying keychain: %w", err)
	}
	return dst.Name(), cleanup, nil
}
