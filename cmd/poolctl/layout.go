package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joshuapare/devpool/pool/tiling"
)

var layoutOpts = poolFlags{poolSize: "1m", geometry: tiling.DefaultGeometry()}

func init() {
	cmd := newLayoutCmd()
	addPoolFlags(cmd, &layoutOpts)
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout <trace>",
		Short: "Replay a trace silently and print the final chunk table",
		Long: `The layout command replays a trace without per-step output and prints
only the resulting chunk list.

Example:
  poolctl layout model.trace --pool-size 64m
  poolctl layout model.trace --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.Context(), args, layoutOpts)
		},
	}
}

func runLayout(ctx context.Context, args []string, o poolFlags) error {
	r, err := replayFile(ctx, args[0], o, nil)
	if err != nil {
		return err
	}
	defer r.dev.Close()

	if jsonOut {
		if err := printJSON(newReport(args[0], r).Chunks); err != nil {
			return err
		}
		return r.err
	}

	printLayout(r.dev.Chunks())
	return r.err
}
