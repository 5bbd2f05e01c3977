package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fcarchive"
	"github.com/hupe1980/fcarchive/feature"
	"github.com/hupe1980/fcarchive/record"
)

func addSeedFlag(cmd *cobra.Command) {
	cmd.Flags().Uint64("seed", 0, "random seed (0 = random)")
}

func sampleOptions(cmd *cobra.Command) []fcarchive.SampleOption {
	var opts []fcarchive.SampleOption
	if seed, _ := cmd.Flags().GetUint64("seed"); seed != 0 {
		opts = append(opts, fcarchive.WithRand(rand.New(rand.NewPCG(seed, seed))))
	}
	if strip, _ := cmd.Flags().GetBool("without-keypoints"); strip {
		opts = append(opts, fcarchive.WithoutKeyPoints())
	}
	return opts
}

func parseGroup(s string) (record.GroupKind, error) {
	k, err := feature.ParseKind(s)
	if err != nil {
		return 0, err
	}
	if k != feature.KindORB {
		return 0, fmt.Errorf("%s is not a local feature group", k)
	}
	return record.GroupKind(k), nil
}

func parseGlobalFeature(s string) (record.FeatureKind, error) {
	k, err := feature.ParseKind(s)
	if err != nil {
		return 0, err
	}
	if k == feature.KindORB {
		return 0, fmt.Errorf("%s is a local feature group, use --group", k)
	}
	return record.FeatureKind(k), nil
}

func newShuffleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shuffle <src> <dst>",
		Short: "Write the records of an archive in random order to a new archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			src, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInto(&err, src)

			dst, err := src.Shuffle(cmd.Context(), args[1], sampleOptions(cmd)...)
			if err != nil {
				return err
			}
			defer closeInto(&err, dst)

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "shuffled %d records into %s\n", dst.Size(), args[1])
			return err
		},
	}
	addSeedFlag(cmd)
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <archive>",
		Short: "Count the local features of a group across all records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			name, _ := cmd.Flags().GetString("group")
			kind, err := parseGroup(name)
			if err != nil {
				return err
			}

			arc, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInto(&err, arc)

			n, err := arc.CountGroupItems(cmd.Context(), kind)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
	cmd.Flags().String("group", "orb", "local feature group")
	return cmd
}

func newSampleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample <src> <dst>",
		Short: "Sample records or local features into a new archive",
		Long: `Sample keeps every record, or with --group every local feature of that
group, independently with probability --p. With --feature each kept record
is reduced to that global feature and records without it are skipped. With
--max the probability is derived from the population so that roughly max
items are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			flags := cmd.Flags()
			group, _ := flags.GetString("group")
			global, _ := flags.GetString("feature")
			p, _ := flags.GetFloat64("p")
			maxItems, _ := flags.GetInt("max")
			useMax := flags.Changed("max")
			if useMax == flags.Changed("p") {
				return fmt.Errorf("exactly one of --p and --max is required")
			}
			if group != "" && global != "" {
				return fmt.Errorf("--group and --feature are mutually exclusive")
			}

			src, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInto(&err, src)

			dst, err := src.SameType(args[1])
			if err != nil {
				return err
			}
			defer closeInto(&err, dst)

			ctx := cmd.Context()
			opts := append(sampleOptions(cmd), fcarchive.SampleTo(dst))
			var s *fcarchive.Sample
			switch {
			case group != "":
				kind, perr := parseGroup(group)
				if perr != nil {
					return perr
				}
				if useMax {
					s, err = src.SampleGroupItemsMax(ctx, kind, maxItems, opts...)
				} else {
					s, err = src.SampleGroupItems(ctx, kind, p, opts...)
				}
			case global != "":
				kind, perr := parseGlobalFeature(global)
				if perr != nil {
					return perr
				}
				if useMax {
					s, err = src.SampleFeaturesMax(ctx, kind, maxItems, opts...)
				} else {
					s, err = src.SampleFeatures(ctx, kind, p, opts...)
				}
			case useMax:
				s, err = src.SampleRecordsMax(ctx, maxItems, opts...)
			default:
				s, err = src.SampleRecords(ctx, p, opts...)
			}
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sampled %d items from %d records (p=%g) into %s\n",
				s.Items, s.Positions.GetCardinality(), s.Probability, args[1])
			return err
		},
	}

	cmd.Flags().String("group", "", "sample local features of this group instead of whole records")
	cmd.Flags().String("feature", "", "reduce sampled records to this global feature (floats or vlad)")
	cmd.Flags().Float64("p", 0, "keep probability in [0, 1]")
	cmd.Flags().Int("max", 0, "approximate number of items to keep (negative keeps all)")
	cmd.Flags().Bool("without-keypoints", false, "drop key points from sampled features")
	addSeedFlag(cmd)

	return cmd
}
