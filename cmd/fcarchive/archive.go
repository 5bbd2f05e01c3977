package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fcarchive"
	"github.com/hupe1980/fcarchive/record"

	// Registers the feature collector codec.
	_ "github.com/hupe1980/fcarchive/feature"
)

func newCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <archive>",
		Short: "Create an empty archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codecName, _ := cmd.Flags().GetString("codec")
			idName, _ := cmd.Flags().GetString("id-type")

			codecType, ok := record.TypeByName(codecName)
			if !ok {
				return fmt.Errorf("unknown codec %q", codecName)
			}
			idType, err := record.ParseIDType(idName)
			if err != nil {
				return err
			}

			arc, err := fcarchive.Create(args[0], codecType, idType, a.cfg.archiveOptions(cmd.ErrOrStderr())...)
			if err != nil {
				return err
			}
			if err := arc.Close(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s, %s identifiers)\n", args[0], codecType, idType)
			return err
		},
	}

	cmd.Flags().String("codec", "feature-collector", "record codec")
	cmd.Flags().String("id-type", "string", "identifier kind (none, string, int64, uuid)")

	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <archive>...",
		Short: "Print a summary of one or more archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				if err := printInfo(cmd, a, p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printInfo(cmd *cobra.Command, a *app, path string) (err error) {
	arc, err := a.open(cmd, path)
	if err != nil {
		return err
	}
	defer closeInto(&err, arc)

	info := arc.Info()
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprint(out, info); err != nil {
		return err
	}
	if info.Rebuilt {
		_, err = fmt.Fprintln(out, "--> indexes were rebuilt")
	}
	return err
}
