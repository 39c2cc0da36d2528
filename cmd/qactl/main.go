package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/animus-labs/qadash/internal/platform/env"
)

var version = "dev"

func main() {
	if err := env.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid .env file: %v\n", err)
		os.Exit(2)
	}

	rootCmd := &cobra.Command{
		Use:           "qactl",
		Short:         "Operate the QA dashboard store",
		Long:          `Apply migrations, bulk-import test catalogs and inspect test runs against the QA dashboard database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	newCommands(openPostgresStore).register(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
