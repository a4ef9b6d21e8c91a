// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/datawire/dlib/dgroup"
	"github.com/evtxlab/evtxcore/internal/crc32evtx"
)

// Record is one decoded event record: Payload is already rendered in
// cfg.OutputFormat.
type Record struct {
	RecordID       uint64
	WrittenTimeISO string
	ChunkIndex     uint32
	Payload        []byte
}

// Totals is the size information known before the first record is
// delivered.
type Totals struct {
	NumChunks int
}

// Parse decodes buf (an immutable byte range holding a whole EVTX
// file) per cfg, returning a channel of Records in file order, a
// Diagnostics value that accumulates as chunks complete (safe to read
// once the channel is closed; racy before that), and the chunk count.
// A non-nil error means the file header itself was unreadable, the
// one unconditionally fatal case; everything past that point is
// downgraded to a diagnostic instead of failing the whole parse,
// unless cfg.StopOnError is set.
//
// Cancelling ctx is noticed at chunk boundaries in both modes, and in
// sequential mode (WorkerCount==1) also at every cfg.BatchSize-record
// check within a chunk; Diagnostics.Cancelled is set, records decoded
// before that point are still delivered, and the channel is closed.
func Parse(ctx context.Context, buf []byte, cfg Config) (<-chan Record, *Diagnostics, Totals, error) {
	cfg = cfg.normalized()
	diag := NewDiagnostics()

	header, err := parseFileHeader(buf, cfg.VerifyChecksums)
	if err != nil {
		return nil, diag, Totals{}, err
	}
	if header.ChecksumChecked && !header.ChecksumOK {
		diag.ChecksumMismatches++
	}
	if cfg.VerifyChecksums && header.NoCRC() {
		diag.ChecksumsSkippedNoCRC++
	}

	offsets := chunkOffsets(buf, header)
	totals := Totals{NumChunks: len(offsets)}

	out := make(chan Record, cfg.BatchSize)
	go runParse(ctx, buf, offsets, cfg, diag, out)
	return out, diag, totals, nil
}

// runParse owns out: it always closes it, whether it ran to
// completion, stopped early on cfg.StopOnError, or was cancelled.
func runParse(ctx context.Context, buf []byte, offsets []int, cfg Config, diag *Diagnostics, out chan<- Record) {
	defer close(out)
	var recordsSoFar uint64

	if cfg.WorkerCount <= 1 {
		runSequential(ctx, buf, offsets, cfg, diag, out, &recordsSoFar)
		return
	}
	runParallel(ctx, buf, offsets, cfg, diag, out, &recordsSoFar)
}

// runSequential is the single-worker model: chunks and, within a
// chunk, records are visited strictly in file order, and the progress
// callback and cancellation check both fire at every cfg.BatchSize
// record boundary, not just at chunk completion.
func runSequential(ctx context.Context, buf []byte, offsets []int, cfg Config, diag *Diagnostics, out chan<- Record, recordsSoFar *uint64) {
	for idx, off := range offsets {
		if ctx.Err() != nil {
			diag.Cancelled = true
			return
		}

		local, records := decodeChunk(ctx, buf, idx, off, cfg, recordsSoFar, true)
		diag.Merge(local)
		for _, r := range records {
			out <- r
		}
		if local.Cancelled || local.StopRequested {
			return
		}
		if cfg.ProgressCallback != nil {
			cfg.ProgressCallback(atomic.LoadUint64(recordsSoFar), fractionOf(idx+1, len(offsets)))
		}
	}
}

// runParallel is the concurrent decode model: up to cfg.WorkerCount
// chunks decode at once, one dgroup goroutine per chunk, bounded by a
// semaphore since the chunk count can be far larger than the worker
// count. Each chunk accumulates its own Diagnostics and record slice
// locally — no cross-chunk synchronization needed during decode — and
// results are only handed to out, in file order, after every chunk
// has finished, preserving the ordering guarantee. Within a chunk
// there are no suspension points in this mode: the progress callback
// fires once per chunk completion instead of per cfg.BatchSize
// records.
func runParallel(ctx context.Context, buf []byte, offsets []int, cfg Config, diag *Diagnostics, out chan<- Record, recordsSoFar *uint64) {
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	results := make([][]Record, len(offsets))
	sem := make(chan struct{}, cfg.WorkerCount)
	var mu sync.Mutex
	completed := 0
	var stopRequested atomic.Bool

	for idx, off := range offsets {
		idx, off := idx, off
		if stopRequested.Load() {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			diag.mu.Lock()
			diag.Cancelled = true
			diag.mu.Unlock()
		}
		if ctx.Err() != nil {
			break
		}
		if stopRequested.Load() {
			<-sem
			break
		}
		grp.Go(fmt.Sprintf("chunk-%d", idx), func(ctx context.Context) error {
			defer func() { <-sem }()
			if ctx.Err() != nil || stopRequested.Load() {
				return nil
			}
			local, records := decodeChunk(ctx, buf, idx, off, cfg, recordsSoFar, false)

			mu.Lock()
			results[idx] = records
			completed++
			n := completed
			mu.Unlock()

			diag.Merge(local)
			if local.StopRequested {
				stopRequested.Store(true)
			}
			if cfg.ProgressCallback != nil {
				cfg.ProgressCallback(atomic.LoadUint64(recordsSoFar), fractionOf(n, len(offsets)))
			}
			return nil
		})
	}
	_ = grp.Wait()

	if ctx.Err() != nil {
		diag.Cancelled = true
	}
	for _, records := range results {
		for _, r := range records {
			out <- r
		}
	}
}

func fractionOf(n, total int) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(n) / float64(total)
	if f > 1 {
		f = 1
	}
	return f
}

// decodeChunk parses and renders every record in the chunk at
// absOffset, returning a local Diagnostics (to be Merged by the
// caller) and the chunk's records in frame order. A chunk with a bad
// header, or one that can't even be sliced out of buf, contributes
// zero records and a ChunksSkipped diagnostic rather than failing the
// whole parse.
//
// checkSuspensionPoints is true only for the sequential caller: that
// is the one place a progress/cancellation check happens every
// cfg.BatchSize records, rather than only at chunk boundaries.
func decodeChunk(ctx context.Context, buf []byte, chunkIndex, absOffset int, cfg Config, recordsSoFar *uint64, checkSuspensionPoints bool) (*Diagnostics, []Record) {
	local := NewDiagnostics()

	if absOffset+chunkSize > len(buf) {
		local.ChunksSkipped++
		local.addChunkWarning(chunkIndex, "chunk truncated at end of file")
		return local, nil
	}
	chunk := buf[absOffset : absOffset+chunkSize]

	header, err := parseChunkHeader(chunk, cfg.VerifyChecksums)
	if err != nil {
		local.ChunksSkipped++
		evErr, ok := err.(*Error)
		if !ok || evErr.Kind != KindBadChunkMagic {
			local.addChunkWarning(chunkIndex, err.Error())
			if cfg.StopOnError || (ok && evErr.Kind.alwaysFatal()) {
				local.StopRequested = true
			}
		}
		return local, nil
	}
	if header.ChecksumChecked && !header.ChecksumOK {
		local.ChecksumMismatches++
		local.addChunkWarning(chunkIndex, "chunk header checksum mismatch")
	}
	if cfg.VerifyChecksums && header.NoCRC() {
		local.ChecksumsSkippedNoCRC++
	}
	if cfg.VerifyChecksums && !header.NoCRC() {
		if ok, err := crc32evtx.VerifyRanges(chunk, []crc32evtx.Range{{Start: chunkHeaderSize, End: int(header.FreeSpaceOffset)}}, header.RecordsCRC32); err == nil && !ok {
			local.ChecksumMismatches++
			local.addChunkWarning(chunkIndex, "chunk record area checksum mismatch")
		}
	}
	local.ChunksParsed++

	names := newNameTable(chunk, header)
	cat := newCatalogue(chunk)
	cat.preload(header, local)

	frames := walkRecords(chunk, header, func(msg string) {
		if strings.Contains(msg, "bad magic") {
			local.BadMagicWarnings++
		}
		local.addChunkWarning(chunkIndex, msg)
	})

	records := make([]Record, 0, len(frames))
	havePrev := false
	var prevID uint64
	for i, f := range frames {
		if checkSuspensionPoints && i > 0 && i%cfg.BatchSize == 0 {
			if ctx.Err() != nil {
				local.Cancelled = true
				return local, records
			}
			if cfg.ProgressCallback != nil {
				cfg.ProgressCallback(atomic.LoadUint64(recordsSoFar), fractionOf(i, len(frames)))
			}
		}

		errsBefore := len(local.RecordErrors)
		missesBefore := len(local.MissingTemplates)
		fatal := false

		if havePrev && f.recordID != prevID+1 {
			local.NonSequentialRecordIDs++
		}
		havePrev, prevID = true, f.recordID

		if !f.sizeOK {
			local.SizeMismatchWarnings++
		}
		if f.recordID < header.FirstRecordID || f.recordID > header.LastRecordID {
			local.addRecordError(f.recordID, "record id outside chunk's declared [first,last] range")
		}

		nodes := decodeRecordPayload(chunk, names, cat, f.payloadStart, cfg, local, f.recordID)

		payload, err := encodePayload(cfg.OutputFormat, nodes)
		if err != nil {
			local.addRecordError(f.recordID, fmt.Sprintf("encode: %v", err))
			if evErr, ok := err.(*Error); ok && evErr.Kind.alwaysFatal() {
				fatal = true
			}
		} else {
			records = append(records, Record{
				RecordID:       f.recordID,
				WrittenTimeISO: FormatFILETIME(f.filetime),
				ChunkIndex:     uint32(chunkIndex),
				Payload:        payload,
			})
			local.RecordsParsed++
			atomic.AddUint64(recordsSoFar, 1)
		}

		newErrors := len(local.RecordErrors) > errsBefore || len(local.MissingTemplates) > missesBefore
		if fatal || (cfg.StopOnError && newErrors) {
			local.StopRequested = true
			return local, records
		}
	}

	return local, records
}

func encodePayload(format OutputFormat, nodes []*Node) ([]byte, error) {
	if format == FormatJSON {
		return EncodeJSON(nodes)
	}
	s, err := EncodeXML(nodes)
	return []byte(s), err
}
