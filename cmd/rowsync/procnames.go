package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chameleon-db/rowsync/pkg/engine/mutation"
)

var procPrefix string

var procnamesCmd = &cobra.Command{
	Use:   "procnames <table> [key-field...]",
	Short: "Print the stored-procedure names used for a table",
	Long: `Print the procedure names the procedures compiler calls for a table.
Key fields add the matching GetBy procedure.

Examples:
  rowsync procnames Customers
  rowsync procnames Orders CustomerId Status --prefix app_`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := procPrefix
		if !cmd.Flags().Changed("prefix") {
			if cfg, err := loadConfig(); err == nil && cfg.Access.ProcedurePrefix != "" {
				prefix = cfg.Access.ProcedurePrefix
			}
		}
		for _, line := range procedureNames(prefix, args[0], args[1:]...) {
			fmt.Println(line)
		}
		return nil
	},
}

func procedureNames(prefix, table string, fields ...string) []string {
	names := mutation.NewProcedureNames(prefix)
	lines := []string{
		fmt.Sprintf("new:     %s", names.New(table)),
		fmt.Sprintf("update:  %s", names.Update(table)),
		fmt.Sprintf("delete:  %s", names.Delete(table)),
		fmt.Sprintf("get all: %s", names.GetAll(table)),
	}
	if len(fields) > 0 {
		lines = append(lines, fmt.Sprintf("get by:  %s", names.GetBy(table, fields...)))
	}
	return lines
}

func init() {
	procnamesCmd.Flags().StringVar(&procPrefix, "prefix", mutation.DefaultProcedurePrefix, "Procedure name prefix")
	rootCmd.AddCommand(procnamesCmd)
}
