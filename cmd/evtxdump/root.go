// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/datawire/dlib/dlog"
	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/evtxlab/evtxcore/internal/cliutil"
	"github.com/evtxlab/evtxcore/internal/profile"
	"github.com/evtxlab/evtxcore/internal/textui"
	"github.com/evtxlab/evtxcore/pkg/evtx"
)

// parseStats is the progress value logged while a parse runs, fed
// from the decoder's progress callback and rendered per
// internal/textui's coalesce-identical-lines policy.
type parseStats struct {
	RecordsSoFar     uint64
	FractionComplete float64
}

func (s parseStats) String() string {
	return fmt.Sprintf("%s records decoded, %.1f%% complete",
		humanize.Comma(int64(s.RecordsSoFar)), s.FractionComplete*100)
}

func newRootCommand() *cobra.Command {
	logLevel := cliutil.LogLevelFlag{Level: logrus.InfoLevel}

	var (
		formatFlag            string
		workersFlag           int
		batchSizeFlag         int
		verifyChecksumsFlag   bool
		stopOnErrorFlag       bool
		recursionLimitFlag    int
		templateCacheSizeFlag int
		configFileFlag        string
		outputFlag            string
		debugDumpFlag         bool
	)

	cmd := &cobra.Command{
		Use:   "evtxdump FILE",
		Short: "Decode a Windows Event Log (.evtx) file to XML or JSON",
		Args:  cobra.ExactArgs(1),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetLevel(logLevel.Level)
			ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))

			cfg := evtx.DefaultConfig()
			if configFileFlag != "" {
				fc, err := loadFileConfig(configFileFlag)
				if err != nil {
					return fmt.Errorf("--config: %w", err)
				}
				cfg = fc.toEVTXConfig()
			}
			applyFlags(&cfg, cmd.Flags(), formatFlag, workersFlag, batchSizeFlag,
				verifyChecksumsFlag, stopOnErrorFlag, recursionLimitFlag, templateCacheSizeFlag)

			out := cmd.OutOrStdout()
			if outputFlag != "" {
				f, err := os.Create(outputFlag)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			return run(ctx, args[0], cfg, out, debugDumpFlag)
		},
	}

	cmd.PersistentFlags().Var(&logLevel, "verbosity", "set the log verbosity")
	flags := cmd.Flags()
	flags.StringVar(&formatFlag, "format", "xml", `output format, "xml" or "json"`)
	flags.IntVar(&workersFlag, "workers", 1, "number of chunks decoded concurrently (1 = sequential)")
	flags.IntVar(&batchSizeFlag, "batch-size", evtx.DefaultBatchSize, "records decoded between progress updates")
	flags.BoolVar(&verifyChecksumsFlag, "verify-checksums", false, "run advisory CRC32 verification")
	flags.BoolVar(&stopOnErrorFlag, "stop-on-error", false, "stop decoding at the first error and exit non-zero")
	flags.IntVar(&recursionLimitFlag, "recursion-limit", evtx.DefaultRecursionLimit, "BinXml nesting depth limit")
	flags.IntVar(&templateCacheSizeFlag, "template-cache-size", evtx.DefaultTemplateCacheSize, "bound on the rendered-instance cache")
	flags.StringVar(&configFileFlag, "config", "", "load defaults from `file` (YAML); flags override it")
	_ = cmd.MarkFlagFilename("config")
	flags.StringVarP(&outputFlag, "output", "o", "", "write records to `file` instead of stdout")
	_ = cmd.MarkFlagFilename("output")
	flags.BoolVar(&debugDumpFlag, "debug-dump", false, "spew the final Diagnostics value to stderr")

	stopProfiling := profile.AddFlags(flags, "")
	origRunE := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		defer func() {
			if err := stopProfiling(); err != nil {
				dlog.Errorf(cmd.Context(), "stopping profile: %v", err)
			}
		}()
		return origRunE(cmd, args)
	}

	return cmd
}

// applyFlags overlays any flag the user actually set on the command
// line atop whatever --config already produced, so an explicit flag
// always wins over a loaded file's default.
func applyFlags(cfg *evtx.Config, flags *pflag.FlagSet, format string, workers, batchSize int,
	verifyChecksums, stopOnError bool, recursionLimit, templateCacheSize int,
) {
	if flags.Changed("format") {
		if format == "json" {
			cfg.OutputFormat = evtx.FormatJSON
		} else {
			cfg.OutputFormat = evtx.FormatXML
		}
	}
	if flags.Changed("workers") {
		cfg.WorkerCount = workers
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = batchSize
	}
	if flags.Changed("verify-checksums") {
		cfg.VerifyChecksums = verifyChecksums
	}
	if flags.Changed("stop-on-error") {
		cfg.StopOnError = stopOnError
	}
	if flags.Changed("recursion-limit") {
		cfg.RecursionLimit = recursionLimit
	}
	if flags.Changed("template-cache-size") {
		cfg.TemplateCacheSize = templateCacheSize
	}
}

func run(ctx context.Context, path string, cfg evtx.Config, out io.Writer, debugDump bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", path, err)
	}
	defer m.Unmap()

	progress := textui.NewProgress[parseStats](ctx, dlog.LogLevelInfo, 500*time.Millisecond)
	defer progress.Done()
	cfg.ProgressCallback = func(recordsSoFar uint64, fractionComplete float64) {
		progress.Set(parseStats{RecordsSoFar: recordsSoFar, FractionComplete: fractionComplete})
	}

	start := time.Now()
	records, diag, totals, err := evtx.Parse(ctx, []byte(m), cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for r := range records {
		if _, err := out.Write(r.Payload); err != nil {
			return err
		}
		if _, err := out.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	textui.Fprintf(os.Stderr, "%s: %v chunks, %v records parsed in %v (%v warnings, %v errors)\n",
		path, totals.NumChunks, diag.RecordsParsed, elapsed.Round(time.Millisecond),
		diag.WarningCount(), diag.ErrorCount())

	if debugDump {
		spew.Fdump(os.Stderr, diag)
	}

	if cfg.StopOnError && diag.ErrorCount() > 0 {
		return fmt.Errorf("%s: %d record error(s)", path, diag.ErrorCount())
	}
	return nil
}
