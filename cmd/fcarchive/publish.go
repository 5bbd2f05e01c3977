package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fcarchive"
)

func newPublishCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <archive> <name>",
		Short: "Upload an archive and its indexes to the configured blob store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			compression := a.cfg.Blob.Compression
			if cmd.Flags().Changed("compression") {
				compression, _ = cmd.Flags().GetString("compression")
			}
			c, err := fcarchive.ParseCompression(compression)
			if err != nil {
				return err
			}

			store, err := a.cfg.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if b, ok := store.(interface{ EnsureBucket(context.Context) error }); ok {
				if err := b.EnsureBucket(cmd.Context()); err != nil {
					return err
				}
			}

			arc, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInto(&err, arc)

			m, err := arc.Publish(cmd.Context(), store, args[1], fcarchive.WithCompression(c))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s: %d records, publish id %s\n", m.Name, m.Records, m.PublishID)
			return err
		},
	}
	cmd.Flags().String("compression", "", "transfer compression (none, lz4, zstd), overrides blob.compression")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <name> <archive>",
		Short: "Download a published archive and its indexes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.cfg.openStore(cmd.Context())
			if err != nil {
				return err
			}
			m, err := fcarchive.Fetch(cmd.Context(), store, args[0], args[1], a.cfg.archiveOptions(cmd.ErrOrStderr())...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "fetched %s: %d records, publish id %s\n", m.Name, m.Records, m.PublishID)
			return err
		},
	}
}
