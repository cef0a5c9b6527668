package main

import (
	"fmt"
	"os"

	"github.com/benaskins/keyextract/internal/extract"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(extract.ExitCode(err))
	}
}
