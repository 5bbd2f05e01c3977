package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fcarchive"
	"github.com/hupe1980/fcarchive/queue"
	"github.com/hupe1980/fcarchive/similarity"
)

func newSearchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <archive> <queries>",
		Short: "Search an archive with every record of a query archive",
		Long: `Search compares every record of the query archive with every record of
the archive and prints one tab separated line per result:

  similarity  query-id  rank  id  position  distance

By default the k nearest records are reported. With --radius all records
within the radius are reported, with --all every comparable record is.
Several --similarity flags run all of them in a single pass.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, a, args[0], args[1])
		},
	}

	cmd.Flags().StringSlice("similarity", []string{"l2:floats"}, "similarity as <metric>:<kind> or orb, repeatable")
	cmd.Flags().Int("k", 10, "number of nearest records per query")
	cmd.Flags().Float64("radius", 0, "report all records within this distance instead of the k nearest")
	cmd.Flags().Bool("all", false, "report every comparable record in distance order")
	cmd.Flags().Bool("only-id", false, "do not keep matched records in memory")

	return cmd
}

func runSearch(cmd *cobra.Command, a *app, path, queryPath string) (err error) {
	flags := cmd.Flags()
	simNames, _ := flags.GetStringSlice("similarity")
	k, _ := flags.GetInt("k")
	radius, _ := flags.GetFloat64("radius")
	all, _ := flags.GetBool("all")
	onlyID, _ := flags.GetBool("only-id")

	sims := make([]similarity.Similarity, len(simNames))
	for i, s := range simNames {
		if sims[i], err = similarity.Parse(s); err != nil {
			return err
		}
	}

	var newQueue func() *fcarchive.Queue
	switch {
	case all:
		newQueue = queue.NewOrdered[fcarchive.Hit]
	case flags.Changed("radius"):
		if !(radius >= 0) {
			return fmt.Errorf("%w: --radius must be non-negative, got %v", fcarchive.ErrInvalidArgument, radius)
		}
		newQueue = func() *fcarchive.Queue { return queue.NewRange[fcarchive.Hit](radius) }
	default:
		if k <= 0 {
			return fmt.Errorf("%w: --k must be positive, got %d", fcarchive.ErrInvalidArgument, k)
		}
		newQueue = func() *fcarchive.Queue { return queue.NewKNN[fcarchive.Hit](k) }
	}

	arc, err := a.open(cmd, path)
	if err != nil {
		return err
	}
	defer closeInto(&err, arc)

	qarc, err := a.open(cmd, queryPath)
	if err != nil {
		return err
	}
	defer closeInto(&err, qarc)

	queries, err := qarc.All(cmd.Context())
	if err != nil {
		return err
	}

	queues := make([][]*fcarchive.Queue, len(sims))
	for m := range sims {
		queues[m] = make([]*fcarchive.Queue, len(queries))
		for i := range queries {
			queues[m][i] = newQueue()
		}
	}

	opts := a.searchOptions()
	if onlyID {
		opts = append(opts, fcarchive.WithOnlyID())
	}
	if err := arc.SearchMulti(cmd.Context(), queries, queues, sims, opts...); err != nil {
		return err
	}

	w := bufio.NewWriter(cmd.OutOrStdout())
	for m, sim := range sims {
		for i, q := range queries {
			for rank, r := range queues[m][i].Results() {
				fmt.Fprintf(w, "%v\t%v\t%d\t%v\t%d\t%g\n", sim, q.ID(), rank+1, r.Value.ID, r.Value.Position, r.Distance)
			}
		}
	}
	return w.Flush()
}
