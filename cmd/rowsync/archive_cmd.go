package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chameleon-db/rowsync/internal/config"
	"github.com/chameleon-db/rowsync/pkg/archive"
)

var archiveOutput string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage parked snapshots",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived snapshot keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := archiveFromConfig(ctx)
		if err != nil {
			return err
		}
		keys, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			printInfo("Archive is empty")
			return nil
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var archivePutCmd = &cobra.Command{
	Use:   "put <key> <snapshot.json>",
	Short: "Park a snapshot file in the archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := archiveFromConfig(ctx)
		if err != nil {
			return err
		}
		snap, err := readSnapshot(args[1])
		if err != nil {
			return err
		}
		if err := store.Save(ctx, args[0], snap); err != nil {
			return err
		}
		printSuccess("Archived %s as %s", args[1], args[0])
		return nil
	},
}

var archiveGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Restore an archived snapshot to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := archiveFromConfig(ctx)
		if err != nil {
			return err
		}
		snap, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		out := archiveOutput
		if out == "" {
			out = strings.ReplaceAll(args[0], "/", "_") + ".json"
		}
		if err := writeSnapshot(out, snap); err != nil {
			return err
		}
		printSuccess("Restored %s to %s", args[0], out)
		return nil
	},
}

var archiveDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove an archived snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := archiveFromConfig(ctx)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, args[0]); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func archiveFromConfig(ctx context.Context) (archive.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openArchive(ctx, cfg)
}

// openArchive builds the store the archive section selects
func openArchive(ctx context.Context, cfg *config.Config) (archive.Store, error) {
	if strings.EqualFold(cfg.Archive.Driver, "s3") {
		store, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := archive.NewFileStore(cfg.Archive.Dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func init() {
	archiveGetCmd.Flags().StringVarP(&archiveOutput, "output", "o", "", "Output file (default: <key>.json)")

	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archivePutCmd)
	archiveCmd.AddCommand(archiveGetCmd)
	archiveCmd.AddCommand(archiveDeleteCmd)
	rootCmd.AddCommand(archiveCmd)
}
