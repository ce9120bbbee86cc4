package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chameleon-db/rowsync/internal/config"
	"github.com/chameleon-db/rowsync/pkg/archive"
	"github.com/chameleon-db/rowsync/pkg/engine"
	"github.com/chameleon-db/rowsync/pkg/engine/introspect"
	"github.com/chameleon-db/rowsync/pkg/rules"
)

var (
	saveFromArchive string
	saveParkKey     string
	saveNoTx        bool
	saveRequired    []string
	saveMaxLength   []string
)

var saveCmd = &cobra.Command{
	Use:   "save [snapshot.json]",
	Short: "Write the pending changes of a snapshot to the database",
	Long: `Validate a snapshot, send its pending changes and accept them.

The accepted snapshot is written back where it came from. When the save
fails and --park is given, the snapshot is stored in the archive under that
key so it can be retried later.

Examples:
  rowsync save pending.json
  rowsync save --from-archive orders/2024-05-01
  rowsync save pending.json --require Customers.Name --max-length Customers.Name=80
  rowsync save pending.json --park retry/pending`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && saveFromArchive == "" {
			return fmt.Errorf("a snapshot file or --from-archive is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		validator, err := buildRules(saveRequired, saveMaxLength)
		if err != nil {
			return err
		}

		ctx := context.Background()
		var store archive.Store
		if saveFromArchive != "" || saveParkKey != "" {
			if store, err = openArchive(ctx, cfg); err != nil {
				return err
			}
		}

		var snap *engine.RecordSnapshot
		if saveFromArchive != "" {
			snap, err = store.Load(ctx, saveFromArchive)
		} else {
			snap, err = readSnapshot(args[0])
		}
		if err != nil {
			return err
		}
		if !snap.HasChanges() {
			printInfo("Nothing to save")
			return nil
		}

		reg := prometheus.NewRegistry()
		svc, err := newService(cfg, reg)
		if err != nil {
			return err
		}
		defer svc.Shutdown()

		result, saveErr := svc.Save(ctx, snap, engine.SaveOptions{
			Validator:     validator,
			Transactional: !saveNoTx,
		})
		if saveErr != nil {
			if saveParkKey != "" {
				if err := store.Save(ctx, saveParkKey, snap); err != nil {
					log.Error().Err(err).Str("key", saveParkKey).Msg("failed to park snapshot")
				} else {
					printWarning("Snapshot parked as %s", saveParkKey)
				}
			}
			return saveErr
		}

		if saveFromArchive != "" {
			err = store.Save(ctx, saveFromArchive, snap)
		} else {
			err = writeSnapshot(args[0], snap)
		}
		if err != nil {
			return err
		}

		printSuccess("Saved %d command(s), %d table(s) skipped", result.Commands, result.Skipped)
		if cfg.Metrics.Enabled {
			printMetrics(reg)
		}
		return nil
	},
}

// newService builds a service from the configuration. Every command is
// logged, and counted in reg when metrics are enabled.
func newService(cfg *config.Config, reg prometheus.Registerer) (*engine.Service, error) {
	svcCfg, err := cfg.ToServiceConfig()
	if err != nil {
		return nil, err
	}
	opts := []engine.ServiceOption{
		engine.WithLogger(log.Logger),
		engine.WithObserver(engine.NewLogObserver(log.Logger)),
	}
	if cfg.Database.AutoSchemaDiscovery {
		opts = append(opts, engine.WithSchemaSource(introspect.SchemaSource{}))
	}
	if cfg.Metrics.Enabled {
		metrics, err := engine.NewMetricsObserver(reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		opts = append(opts, engine.WithObserver(metrics))
	}
	return engine.NewService(svcCfg, opts...)
}

// buildRules turns Table.Field and Table.Field=N flags into a rule engine
func buildRules(required, maxLength []string) (*rules.Engine, error) {
	eng := rules.New(rules.WithLogger(log.Logger))
	for _, arg := range required {
		table, field, err := splitTableField(arg)
		if err != nil {
			return nil, err
		}
		eng.Register(rules.Required(table, field, rules.Error))
	}
	for _, arg := range maxLength {
		target, limit, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid max length %q (want Table.Field=N)", arg)
		}
		n, err := strconv.Atoi(strings.TrimSpace(limit))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid max length %q (want a positive number)", arg)
		}
		table, field, err := splitTableField(target)
		if err != nil {
			return nil, err
		}
		eng.Register(rules.MaxLength(table, field, n, rules.Error))
	}
	return eng, nil
}

func splitTableField(arg string) (string, string, error) {
	table, field, ok := strings.Cut(strings.TrimSpace(arg), ".")
	if !ok || table == "" || field == "" {
		return "", "", fmt.Errorf("invalid field %q (want Table.Field)", arg)
	}
	return table, field, nil
}

func readSnapshot(path string) (*engine.RecordSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return archive.Decode(data)
}

func writeSnapshot(path string, snap *engine.RecordSnapshot) error {
	data, err := archive.Encode(snap)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// printMetrics prints the command counters gathered during the run
func printMetrics(g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("failed to gather metrics")
		return
	}
	var lines []string
	for _, mf := range families {
		if mf.GetName() != "rowsync_commands_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("  %-48s %.0f", strings.Join(labels, " "), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	if len(lines) > 0 {
		fmt.Println("Commands:")
		fmt.Println(strings.Join(lines, "\n"))
	}
}

func init() {
	saveCmd.Flags().StringVar(&saveFromArchive, "from-archive", "", "Load the snapshot from the archive under this key")
	saveCmd.Flags().StringVar(&saveParkKey, "park", "", "Archive key to park the snapshot under when the save fails")
	saveCmd.Flags().BoolVar(&saveNoTx, "no-transaction", false, "Send commands without a wrapping transaction")
	saveCmd.Flags().StringSliceVar(&saveRequired, "require", nil, "Required field as Table.Field (repeatable)")
	saveCmd.Flags().StringSliceVar(&saveMaxLength, "max-length", nil, "Length limit as Table.Field=N (repeatable)")
	rootCmd.AddCommand(saveCmd)
}
