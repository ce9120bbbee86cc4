package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xwb1989/sqlparser"

	"github.com/chameleon-db/rowsync/internal/config"
	"github.com/chameleon-db/rowsync/pkg/archive"
	"github.com/chameleon-db/rowsync/pkg/engine"
)

var (
	compileDialect  string
	compileCompiler string
	compileCheck    bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <snapshot.json>",
	Short: "Show the commands a save would send",
	Long: `Compile every pending change of an archived snapshot without connecting.

The dialect and compiler default to the configured driver and access
policy. --check parses generated MySQL statements to catch malformed SQL.

Examples:
  rowsync compile pending.json
  rowsync compile pending.json --dialect mysql --check
  rowsync compile pending.json --compiler procedures`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		snap, err := archive.Decode(data)
		if err != nil {
			return err
		}

		compiler, dialect, err := buildCompiler(cfg, compileDialect, compileCompiler)
		if err != nil {
			return err
		}
		plan, err := engine.Plan(snap, compiler, engine.SaveOptions{})
		if err != nil {
			return err
		}

		printInfo("%d change(s) for %s", len(plan), dialect.Name())
		for _, p := range plan {
			fmt.Println(describePlanned(p))
		}

		if compileCheck {
			if dialect.Name() != engine.DialectMySQL {
				printWarning("--check only understands MySQL syntax, skipped for %s", dialect.Name())
				return nil
			}
			if errs := checkStatements(plan); len(errs) > 0 {
				for _, e := range errs {
					printError("%v", e)
				}
				return fmt.Errorf("%d statement(s) failed to parse", len(errs))
			}
			printSuccess("All statements parse")
		}
		return nil
	},
}

// buildCompiler resolves the dialect and compiler, preferring explicit
// names over the configuration.
func buildCompiler(cfg *config.Config, dialectName, compilerName string) (engine.Compiler, engine.Dialect, error) {
	if dialectName == "" {
		name, err := cfg.Dialect()
		if err != nil {
			return nil, nil, err
		}
		dialectName = name
	}
	dialect, err := engine.DialectFor(dialectName)
	if err != nil {
		return nil, nil, err
	}
	opts := engine.CompilerOptions{Dialect: dialect, ProcedurePrefix: cfg.Access.ProcedurePrefix}

	if compilerName != "" {
		compiler, err := engine.NewCompiler(compilerName, opts)
		return compiler, dialect, err
	}
	method, err := engine.ParseAccessMethod(cfg.Access.AllowedAccessMethod)
	if err != nil {
		return nil, nil, err
	}
	compiler, err := engine.CompilerFor(method, opts)
	return compiler, dialect, err
}

func describePlanned(p engine.PlannedCommand) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s %s] ", p.Table, p.Row.ID())
	if p.Command == nil {
		b.WriteString("nothing to send")
		return b.String()
	}
	fmt.Fprintf(&b, "%s %s: %s", p.Command.Operation, p.Command.Kind, p.Command.Text)
	for _, param := range p.Command.Parameters {
		fmt.Fprintf(&b, "\n    %s = %v", param.Name, param.Value)
	}
	return b.String()
}

// checkStatements parses every ad-hoc statement of the plan
func checkStatements(plan []engine.PlannedCommand) []error {
	var errs []error
	for _, p := range plan {
		if p.Command == nil || p.Command.Kind != engine.CommandText {
			continue
		}
		if _, err := sqlparser.Parse(p.Command.Text); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", p.Table, p.Command.Operation, err))
		}
	}
	return errs
}

func init() {
	compileCmd.Flags().StringVar(&compileDialect, "dialect", "", "Target dialect (postgres, mysql, sqlite)")
	compileCmd.Flags().StringVar(&compileCompiler, "compiler", "", "Compiler name (adhoc, procedures)")
	compileCmd.Flags().BoolVar(&compileCheck, "check", false, "Parse generated MySQL statements")
	rootCmd.AddCommand(compileCmd)
}
