package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show rowsync version",
	Long:  "Display the current version of the rowsync CLI and its registered compilers",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rowsync v%s\n", version)

		if verbose {
			fmt.Println("\nComponents:")
			fmt.Printf("  CLI:       v%s\n", version)
			fmt.Printf("  Go:        %s\n", runtime.Version())
			fmt.Printf("  Compilers: %s\n", strings.Join(engine.RegisteredCompilers(), ", "))
			fmt.Printf("  Dialects:  %s, %s, %s\n", engine.DialectPostgres, engine.DialectMySQL, engine.DialectSQLite)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
