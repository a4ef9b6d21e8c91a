// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package textui provides the humanized progress and summary
// formatting used by cmd/evtxdump's CLI output (its Progress is fed
// from pkg/evtx's progress callback there).
package textui

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
)

// Stats is anything that can be periodically logged as a progress
// line: comparable so repeated identical values are coalesced away,
// and a fmt.Stringer so the line itself is cheap to produce.
type Stats interface {
	comparable
	fmt.Stringer
}

// Progress periodically logs the most recent value Set on it, at
// most once per interval, and coalesces consecutive identical values
// (by both equality and by rendered string) so a fast parse that
// doesn't change the visible line doesn't spam the log.
type Progress[T Stats] struct {
	ctx      context.Context
	lvl      dlog.LogLevel
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	cur     atomic.Value // T
	oldStat T
	oldLine string
}

// NewProgress starts no goroutine until the first Set; Done is always
// safe to call even if Set was never called.
func NewProgress[T Stats](ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &Progress[T]{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Set records the latest stats value, starting the background
// flusher on the first call.
func (p *Progress[T]) Set(val T) {
	if p.cur.Swap(val) == nil {
		go p.run()
	}
}

// Done stops the flusher and blocks until a final flush has run.
func (p *Progress[T]) Done() {
	p.cancel()
	if p.started() {
		<-p.done
	} else {
		close(p.done)
	}
}

func (p *Progress[T]) started() bool {
	_, ok := p.cur.Load().(T)
	return ok
}

func (p *Progress[T]) flush(force bool) {
	cur, ok := p.cur.Load().(T)
	if !ok {
		return
	}
	if !force && cur == p.oldStat {
		return
	}
	p.oldStat = cur

	line := cur.String()
	if !force && line == p.oldLine {
		return
	}
	p.oldLine = line

	dlog.Log(p.ctx, p.lvl, line)
}

func (p *Progress[T]) run() {
	p.flush(true)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.flush(false)
			close(p.done)
			return
		case <-ticker.C:
			p.flush(false)
		}
	}
}
