package main

import (
	"fmt"

	"github.com/benaskins/keyextract/internal/extract"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <keychain-file> <hex-password>",
	Short: "Verify a keychain unlocks and holds a private key, without exporting",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	auditLog, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	e := extract.New(newOpener(), auditLog, newReporter(cmd), extract.Options{
		Relock:     cfg.Relock,
		WorkOnCopy: cfg.WorkOnCopy,
	})
	res, err := e.Check(extract.Request{StorePath: args[0], HexPassword: args[1]})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d private key(s)\n", args[0], res.Status, res.Candidates)
	return nil
}
