package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/devpool/device"
	"github.com/joshuapare/devpool/internal/logger"
	"github.com/joshuapare/devpool/internal/trace"
	"github.com/joshuapare/devpool/pool/extent"
	"github.com/joshuapare/devpool/pool/tiling"
)

// poolFlags are shared by replay and layout.
type poolFlags struct {
	poolSize  string
	alignment string
	geometry  tiling.Geometry
	backing   string
	strict    bool
}

var replayOpts = poolFlags{poolSize: "1m", geometry: tiling.DefaultGeometry()}

func init() {
	cmd := newReplayCmd()
	addPoolFlags(cmd, &replayOpts)
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay an allocation trace and report each step",
		Long: `The replay command opens a pool, runs every operation in the trace
file and prints the outcome of each step followed by the final chunk layout
and usage. Failed steps are reported but do not stop the replay.

Example:
  poolctl replay model.trace --pool-size 64m
  poolctl replay model.trace --pool-size 1m --alignment 4k --strict
  poolctl replay model.trace --backing pool.bin --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), args, replayOpts)
		},
	}
}

func addPoolFlags(cmd *cobra.Command, o *poolFlags) {
	cmd.Flags().StringVar(&o.poolSize, "pool-size", o.poolSize, "Pool size (accepts k/m/g suffixes)")
	cmd.Flags().StringVar(&o.alignment, "alignment", "", "Override the geometry-derived alignment")
	cmd.Flags().StringVar(&o.backing, "backing", "", "Map the pool onto this file")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "Confine transfers to the addressed extent")
	addGeometryFlags(cmd, &o.geometry)
}

func (o poolFlags) config() (device.Config, error) {
	size, err := trace.ParseSize(o.poolSize)
	if err != nil {
		return device.Config{}, fmt.Errorf("--pool-size: %w", err)
	}
	cfg := device.Config{
		PoolSize:        size,
		Geometry:        o.geometry,
		BackingFile:     o.backing,
		StrictTransfers: o.strict,
		Logger:          logger.L,
	}
	if o.alignment != "" {
		if cfg.Alignment, err = trace.ParseSize(o.alignment); err != nil {
			return device.Config{}, fmt.Errorf("--alignment: %w", err)
		}
	}
	return cfg, nil
}

type replayed struct {
	dev *device.Device
	res *trace.Result
	err error // context error that cut the replay short
}

// replayFile parses path and replays it against a fresh device. The caller
// closes dev.
func replayFile(ctx context.Context, path string, o poolFlags, onStep func(trace.Step)) (*replayed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	ops, err := trace.Parse(f)
	if err != nil {
		return nil, err
	}
	printVerbose("Parsed %d operations from %s\n", len(ops), path)

	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	dev, err := device.Open(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("replay start", "trace", path, "ops", len(ops),
		"pool_size", dev.PoolSize(), "alignment", dev.Alignment())

	res, runErr := trace.Run(ctx, dev, ops, func(s trace.Step) {
		logStep(s)
		if onStep != nil {
			onStep(s)
		}
	})
	if runErr == nil && cfg.BackingFile != "" {
		if err := dev.Sync(ctx); err != nil {
			_ = dev.Close()
			return nil, err
		}
	}
	logger.Info("replay done", "steps", len(res.Steps), "failures", res.Failures)
	return &replayed{dev: dev, res: res, err: runErr}, nil
}

func logStep(s trace.Step) {
	if s.Err != nil {
		logger.Warn("replay step failed", "line", s.Op.Line, "op", s.Op.String(), "err", s.Err)
		return
	}
	logger.Debug("replay step", "line", s.Op.Line, "op", s.Op.String(), "offset", s.Offset)
}

type stepView struct {
	Index  int    `json:"index"`
	Line   int    `json:"line"`
	Op     string `json:"op"`
	Offset uint64 `json:"offset"`
	Error  string `json:"error,omitempty"`
}

type chunkView struct {
	Offset   uint64 `json:"offset"`
	Size     uint64 `json:"size"`
	Occupied bool   `json:"occupied"`
}

type replayReport struct {
	Trace     string            `json:"trace"`
	PoolSize  uint64            `json:"pool_size"`
	Alignment uint64            `json:"alignment"`
	Steps     []stepView        `json:"steps,omitempty"`
	Failures  int               `json:"failures"`
	Chunks    []chunkView       `json:"chunks"`
	Usage     extent.Usage      `json:"usage"`
	Stats     extent.Stats      `json:"stats"`
	Live      map[string]uint64 `json:"live,omitempty"`
}

func runReplay(ctx context.Context, args []string, o poolFlags) error {
	path := args[0]

	var onStep func(trace.Step)
	if !jsonOut {
		printInfo("Replaying %s\n\n", path)
		onStep = printStep
	}

	r, err := replayFile(ctx, path, o, onStep)
	if err != nil {
		return err
	}
	defer r.dev.Close()

	if jsonOut {
		rep := newReport(path, r)
		for _, s := range r.res.Steps {
			rep.Steps = append(rep.Steps, newStepView(s))
		}
		if err := printJSON(rep); err != nil {
			return err
		}
		return r.err
	}

	printInfo("\n")
	printLayout(r.dev.Chunks())
	printInfo("\n")
	printUsage(r.dev.Usage(), r.res)
	return r.err
}

func newReport(path string, r *replayed) replayReport {
	rep := replayReport{
		Trace:     path,
		PoolSize:  r.dev.PoolSize(),
		Alignment: r.dev.Alignment(),
		Failures:  r.res.Failures,
		Usage:     r.dev.Usage(),
		Stats:     r.dev.Stats(),
		Live:      r.res.Live,
	}
	for _, c := range r.dev.Chunks() {
		rep.Chunks = append(rep.Chunks, chunkView(c))
	}
	return rep
}

func newStepView(s trace.Step) stepView {
	v := stepView{Index: s.Index, Line: s.Op.Line, Op: s.Op.String(), Offset: s.Offset}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

func printStep(s trace.Step) {
	if s.Err != nil {
		printInfo("%4d  %-28s  FAIL  %v\n", s.Op.Line, s.Op, s.Err)
		return
	}
	printInfo("%4d  %-28s  0x%08X\n", s.Op.Line, s.Op, s.Offset)
}

func printLayout(chunks []extent.Chunk) {
	printInfo("%-12s  %-12s  %s\n", "OFFSET", "SIZE", "STATE")
	printInfo("%s\n", strings.Repeat("-", 36))
	for _, c := range chunks {
		state := "free"
		if c.Occupied {
			state = "used"
		}
		printInfo("0x%010X  %12s  %s\n", c.Offset, formatNumber(c.Size), state)
	}
}

func printUsage(u extent.Usage, res *trace.Result) {
	printInfo("Usage:\n")
	printInfo("  Used: %s in %d extents\n", formatBytes(u.UsedBytes), u.UsedChunks)
	printInfo("  Free: %s in %d chunks (largest %s)\n",
		formatBytes(u.FreeBytes), u.FreeChunks, formatBytes(u.LargestFree))
	printInfo("  Fragmentation: %s\n", formatPercent(u.Fragmentation()))
	printInfo("  Steps: %d (%d allocs, %d frees, %d failed)\n",
		len(res.Steps), res.Allocs, res.Frees, res.Failures)
}
