// Copyright (C) 2019-2022  Ambassador Labs
// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: Apache-2.0
//
// Package cliutil holds small pflag/cobra glue shared by the CLI.
package cliutil

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// LogLevelFlag is a pflag.Value for --verbosity, accepting the usual
// logrus level names.
type LogLevelFlag struct {
	Level logrus.Level
}

var _ pflag.Value = (*LogLevelFlag)(nil)

func (f *LogLevelFlag) Type() string { return "loglevel" }

func (f *LogLevelFlag) Set(str string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(str))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", str, err)
	}
	f.Level = lvl
	return nil
}

func (f *LogLevelFlag) String() string {
	return f.Level.String()
}
