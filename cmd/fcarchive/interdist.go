package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fcarchive/similarity"
)

func newInterDistCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interdist <archive> <out>",
		Short: "Write the matrix of distances between all records",
		Long: `Interdist writes size*size big-endian float64 distances in row-major
order. All records are held in memory while the matrix is computed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			name, _ := cmd.Flags().GetString("similarity")
			sim, err := similarity.Parse(name)
			if err != nil {
				return err
			}

			arc, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInto(&err, arc)

			if err := arc.WriteInterDistances(cmd.Context(), args[1], sim); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %dx%d %s distances to %s\n", arc.Size(), arc.Size(), sim, args[1])
			return err
		},
	}
	cmd.Flags().String("similarity", "l2:floats", "similarity as <metric>:<kind> or orb")
	return cmd
}
