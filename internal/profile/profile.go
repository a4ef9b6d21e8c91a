// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package profile wires the Go runtime's profiling facilities to a
// set of pflag flags, so cmd/evtxdump can be asked to write a CPU,
// trace, or named runtime profile while decoding a large archive.
package profile

import (
	"io"
	"os"
	"runtime/pprof"
	"runtime/trace"

	"github.com/datawire/dlib/derror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// StopFunc ends whatever profile/trace was started and flushes it.
type StopFunc = func() error

type startFunc = func(io.Writer) (StopFunc, error)

// CPU writes a CPU profile to w until the returned StopFunc is called.
func CPU(w io.Writer) (StopFunc, error) {
	if err := pprof.StartCPUProfile(w); err != nil {
		return nil, err
	}
	return func() error {
		pprof.StopCPUProfile()
		return nil
	}, nil
}

// Trace writes an execution trace to w until the returned StopFunc is
// called.
func Trace(w io.Writer) (StopFunc, error) {
	if err := trace.Start(w); err != nil {
		return nil, err
	}
	return func() error {
		trace.Stop()
		return nil
	}, nil
}

// Named writes one of the Go runtime's built-in named profiles (see
// the ProfileXXX constants) to w when the returned StopFunc is
// called — unlike CPU/Trace, named profiles are snapshotted at stop
// time, not streamed.
func Named(name string) startFunc {
	return func(w io.Writer) (StopFunc, error) {
		return func() error {
			if prof := pprof.Lookup(name); prof != nil {
				return prof.WriteTo(w, 0)
			}
			return nil
		}, nil
	}
}

// The Go runtime's built-in named profiles.
const (
	ProfileGoroutine    = "goroutine"
	ProfileThreadCreate = "threadcreate"
	ProfileHeap         = "heap"
	ProfileAllocs       = "allocs"
	ProfileBlock        = "block"
	ProfileMutex        = "mutex"
)

type flagSet struct {
	shutdown []StopFunc
}

func (fs *flagSet) Stop() error {
	var errs derror.MultiError
	for _, fn := range fs.shutdown {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type flagValue struct {
	parent *flagSet
	start  startFunc
	curVal string
}

var _ pflag.Value = (*flagValue)(nil)

func (fv *flagValue) String() string { return fv.curVal }

func (fv *flagValue) Set(filename string) error {
	if filename == "" {
		return nil
	}
	w, err := os.Create(filename)
	if err != nil {
		return err
	}
	shutdown, err := fv.start(w)
	if err != nil {
		return err
	}
	fv.curVal = filename
	fv.parent.shutdown = append(fv.parent.shutdown, func() error {
		err1 := shutdown()
		err2 := w.Close()
		if err1 != nil {
			return err1
		}
		return err2
	})
	return nil
}

func (*flagValue) Type() string { return "filename" }

// AddFlags adds --<prefix>cpu, --<prefix>trace, and
// --<prefix>{goroutine,threadcreate,heap,allocs,block,mutex} flags to
// flags, each taking a destination filename, and returns a function
// to be called at program shutdown to flush and close whatever was
// started.
func AddFlags(flags *pflag.FlagSet, prefix string) StopFunc {
	var root flagSet

	add := func(name string, start startFunc, help string) {
		flags.Var(&flagValue{parent: &root, start: start}, prefix+name, help)
		_ = cobra.MarkFlagFilename(flags, prefix+name)
	}

	add("cpu", CPU, "Write a CPU profile to `file`")
	add("trace", Trace, "Write an execution trace to `file`")
	add(ProfileGoroutine, Named(ProfileGoroutine), "Write a goroutine profile to `file`")
	add(ProfileThreadCreate, Named(ProfileThreadCreate), "Write a threadcreate profile to `file`")
	add(ProfileHeap, Named(ProfileHeap), "Write a heap profile to `file`")
	add(ProfileAllocs, Named(ProfileAllocs), "Write an allocs profile to `file`")
	add(ProfileBlock, Named(ProfileBlock), "Write a block profile to `file`")
	add(ProfileMutex, Named(ProfileMutex), "Write a mutex profile to `file`")

	return root.Stop
}
