package main

import (
	"fmt"
	"log/slog"

	"github.com/benaskins/keyextract/internal/audit"
	"github.com/benaskins/keyextract/internal/config"
	"github.com/benaskins/keyextract/internal/extract"
	"github.com/benaskins/keyextract/internal/keychain"
	"github.com/benaskins/keyextract/internal/password"
	"github.com/benaskins/keyextract/internal/report"
	"github.com/spf13/cobra"
)

// newOpener is replaced in tests.
var newOpener = keychain.NewSystemOpener

var flags struct {
	configPath     string
	auditLog       string
	passphraseFile string
	passphraseEnv  string
	pem            bool
	relock         bool
	workOnCopy     bool
	logLevel       string
	quiet          bool
}

var rootCmd = &cobra.Command{
	Use:   "keyextract <keychain-file> <hex-password> <output-file>",
	Short: "Extract a private key from a keychain file as wrapped PKCS#8",
	Long: `Unlock a keychain file with a hex-encoded password, locate the first
private key in it and write that key to <output-file> as a passphrase-wrapped
PKCS#8 container (DER, or PEM with --pem).

The wrap passphrase is read from --passphrase-file, the environment variable
named by --passphrase-env (default $KEYEXTRACT_PASSPHRASE), or a terminal prompt.`,
	Args:              cobra.ExactArgs(3),
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	RunE:              runExtract,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", config.DefaultPath(), "Config file")
	pf.StringVar(&flags.auditLog, "audit-log", "", "Append an audit record of every keychain operation to this file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress per-stage output")
	pf.BoolVar(&flags.workOnCopy, "work-on-copy", false, "Operate on a temporary copy of the keychain file")
	pf.BoolVar(&flags.relock, "relock", false, "Lock the keychain again when done")

	f := rootCmd.Flags()
	f.StringVar(&flags.passphraseFile, "passphrase-file", "", "Read the wrap passphrase from this file")
	f.StringVar(&flags.passphraseEnv, "passphrase-env", "", "Environment variable holding the wrap passphrase")
	f.BoolVar(&flags.pem, "pem", false, "Write PEM instead of raw DER")
}

// loadConfig merges the config file with flags explicitly set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	changed := cmd.Flags().Changed
	if changed("audit-log") {
		cfg.AuditLog = flags.auditLog
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("work-on-copy") {
		cfg.WorkOnCopy = flags.workOnCopy
	}
	if changed("passphrase-file") {
		cfg.PassphraseFile = flags.passphraseFile
	}
	if changed("passphrase-env") {
		cfg.PassphraseEnv = flags.passphraseEnv
	}
	if changed("pem") {
		cfg.PEM = flags.pem
	}
	if changed("relock") {
		cfg.Relock = flags.relock
	}
	return cfg, nil
}

func setupLogging(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

func newReporter(cmd *cobra.Command) *report.Reporter {
	if flags.quiet {
		return nil
	}
	return report.New(cmd.OutOrStdout())
}

func openAudit(cfg *config.Config) (*audit.Logger, error) {
	if cfg.AuditLog == "" {
		return nil, nil
	}
	return audit.NewLogger(cfg.AuditLog)
}

func validatePassword(hexPassword string) error {
	pw, err := password.Decode(hexPassword)
	if err != nil {
		return &extract.Error{Kind: extract.InvalidInput, Stage: extract.StageDecode, Err: err}
	}
	pw.Destroy()
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Reject a malformed password before asking for the wrap passphrase.
	if err := validatePassword(args[1]); err != nil {
		return err
	}

	passphrase, err := config.ResolvePassphrase(config.PassphraseSource{
		File:   cfg.PassphraseFile,
		Env:    cfg.PassphraseEnv,
		Prompt: true,
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return &extract.Error{Kind: extract.InvalidInput, Stage: extract.StageInput, Err: err}
	}

	auditLog, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	e := extract.New(newOpener(), auditLog, newReporter(cmd), extract.Options{
		Passphrase: passphrase,
		PEM:        cfg.PEM,
		Relock:     cfg.Relock,
		WorkOnCopy: cfg.WorkOnCopy,
	})

	if !flags.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Unlocking '%s'...\n", args[0])
	}
	res, err := e.Run(extract.Request{
		StorePath:   args[0],
		HexPassword: args[1],
		OutputPath:  args[2],
	})
	if err != nil {
		slog.Debug("extraction failed", "reached", res.Reached.String(), "error", err)
		return err
	}

	slog.Info("key extracted", "output", args[2], "bytes", res.Bytes, "sha256", res.SHA256)
	if !flags.quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "Done.")
	}
	return nil
}
