// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evtxlab/evtxcore/pkg/evtx"
)

// fileConfig is the shape of the optional --config YAML file: the
// subset of evtx.Config that's worth setting once and reusing, plus
// the CLI-only knobs. Flags set on the command line always win over
// a loaded file (see applyFlags in root.go).
type fileConfig struct {
	Format            string `yaml:"format"`
	Workers           int    `yaml:"workers"`
	BatchSize         int    `yaml:"batch_size"`
	VerifyChecksums   bool   `yaml:"verify_checksums"`
	StopOnError       bool   `yaml:"stop_on_error"`
	RecursionLimit    int    `yaml:"recursion_limit"`
	TemplateCacheSize int    `yaml:"template_cache_size"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	bs, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(bs, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func (fc fileConfig) toEVTXConfig() evtx.Config {
	cfg := evtx.DefaultConfig()
	if fc.Format == "json" {
		cfg.OutputFormat = evtx.FormatJSON
	}
	if fc.Workers > 0 {
		cfg.WorkerCount = fc.Workers
	}
	if fc.BatchSize > 0 {
		cfg.BatchSize = fc.BatchSize
	}
	cfg.VerifyChecksums = fc.VerifyChecksums
	cfg.StopOnError = fc.StopOnError
	if fc.RecursionLimit > 0 {
		cfg.RecursionLimit = fc.RecursionLimit
	}
	if fc.TemplateCacheSize > 0 {
		cfg.TemplateCacheSize = fc.TemplateCacheSize
	}
	return cfg
}
