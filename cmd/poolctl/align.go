package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/devpool/pool/tiling"
)

var alignGeometry = tiling.DefaultGeometry()

func init() {
	cmd := newAlignCmd()
	addGeometryFlags(cmd, &alignGeometry)
	rootCmd.AddCommand(cmd)
}

func newAlignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "align",
		Short: "Show the allocation alignment for a tile geometry",
		Long: `The align command derives the extent alignment from the accelerator's
tile geometry: lcm(BlockIn*BlockOut, lcm(BlockIn, BlockOut*AccBytes)*Batch).

Example:
  poolctl align
  poolctl align --batch 8 --block-in 16 --block-out 16
  poolctl align --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlign(alignGeometry)
		},
	}
}

type alignResult struct {
	Batch     uint64 `json:"batch"`
	BlockIn   uint64 `json:"block_in"`
	BlockOut  uint64 `json:"block_out"`
	AccBytes  uint64 `json:"acc_bytes"`
	Alignment uint64 `json:"alignment"`
}

func runAlign(g tiling.Geometry) error {
	a, err := g.Alignment()
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(alignResult{
			Batch:     g.Batch,
			BlockIn:   g.BlockIn,
			BlockOut:  g.BlockOut,
			AccBytes:  g.AccBytes,
			Alignment: a,
		})
	}

	printVerbose("Geometry: batch=%d block_in=%d block_out=%d acc_bytes=%d\n",
		g.Batch, g.BlockIn, g.BlockOut, g.AccBytes)
	printInfo("Alignment: %s bytes\n", formatNumber(a))
	return nil
}

// addGeometryFlags binds the tile geometry flags to g.
func addGeometryFlags(cmd *cobra.Command, g *tiling.Geometry) {
	cmd.Flags().Uint64Var(&g.Batch, "batch", g.Batch, "Rows per input/accumulator tile")
	cmd.Flags().Uint64Var(&g.BlockIn, "block-in", g.BlockIn, "Input channels per tile")
	cmd.Flags().Uint64Var(&g.BlockOut, "block-out", g.BlockOut, "Output channels per tile")
	cmd.Flags().Uint64Var(&g.AccBytes, "acc-bytes", g.AccBytes, "Accumulator element width in bytes")
}
