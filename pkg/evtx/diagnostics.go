// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import "sync"

// MissingTemplateRef records a template-instance back-reference that
// the catalogue could not resolve.
type MissingTemplateRef struct {
	RecordID uint64
	GUID     GUID
	DefOffset uint32
}

// RecordError records a per-record parse failure.
type RecordError struct {
	RecordID uint64
	Message  string
}

// ChunkWarning records a chunk-level advisory.
type ChunkWarning struct {
	ChunkIndex int
	Message    string
}

// Diagnostics is the parse-time sink for warnings and non-fatal
// errors: it never causes a parse to fail on its own (failures are
// represented by the returned error from Parse), it only accumulates
// counts and annotated lists for the caller to inspect afterward.
//
// A Diagnostics value is safe for concurrent use: per-chunk workers
// each accumulate into a local diagnostics value and Merge it in at
// chunk completion under mutual exclusion.
type Diagnostics struct {
	mu sync.Mutex

	TemplateDefinitionsSeen  int
	TemplateReferencesSeen   int
	TemplateReferencesMissed int
	NonSequentialRecordIDs   int
	BadMagicWarnings         int
	SizeMismatchWarnings     int
	ChecksumMismatches       int
	ChecksumsSkippedNoCRC    int
	RecordsParsed            int
	ChunksParsed             int
	ChunksSkipped            int
	Cancelled                bool
	StopRequested            bool

	MissingTemplates []MissingTemplateRef
	RecordErrors     []RecordError
	ChunkWarnings    []ChunkWarning
}

// NewDiagnostics returns an empty Diagnostics ready to accumulate.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

func (d *Diagnostics) addMissingTemplate(recordID uint64, guid GUID, defOffset uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TemplateReferencesMissed++
	d.MissingTemplates = append(d.MissingTemplates, MissingTemplateRef{RecordID: recordID, GUID: guid, DefOffset: defOffset})
}

func (d *Diagnostics) addRecordError(recordID uint64, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RecordErrors = append(d.RecordErrors, RecordError{RecordID: recordID, Message: message})
}

func (d *Diagnostics) addChunkWarning(chunkIndex int, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ChunkWarnings = append(d.ChunkWarnings, ChunkWarning{ChunkIndex: chunkIndex, Message: message})
}

// Merge folds a per-chunk local Diagnostics (built without locking,
// since it is owned by a single worker until completion) into d.
func (d *Diagnostics) Merge(local *Diagnostics) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.TemplateDefinitionsSeen += local.TemplateDefinitionsSeen
	d.TemplateReferencesSeen += local.TemplateReferencesSeen
	d.TemplateReferencesMissed += local.TemplateReferencesMissed
	d.NonSequentialRecordIDs += local.NonSequentialRecordIDs
	d.BadMagicWarnings += local.BadMagicWarnings
	d.SizeMismatchWarnings += local.SizeMismatchWarnings
	d.ChecksumMismatches += local.ChecksumMismatches
	d.ChecksumsSkippedNoCRC += local.ChecksumsSkippedNoCRC
	d.RecordsParsed += local.RecordsParsed
	d.ChunksParsed += local.ChunksParsed
	d.ChunksSkipped += local.ChunksSkipped
	d.Cancelled = d.Cancelled || local.Cancelled
	d.StopRequested = d.StopRequested || local.StopRequested

	d.MissingTemplates = append(d.MissingTemplates, local.MissingTemplates...)
	d.RecordErrors = append(d.RecordErrors, local.RecordErrors...)
	d.ChunkWarnings = append(d.ChunkWarnings, local.ChunkWarnings...)
}

// WarningCount and ErrorCount back the "N records parsed, M warnings,
// K errors" summary line callers typically present.
func (d *Diagnostics) WarningCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.NonSequentialRecordIDs + d.BadMagicWarnings + d.SizeMismatchWarnings +
		d.ChecksumMismatches + len(d.ChunkWarnings)
}

func (d *Diagnostics) ErrorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.RecordErrors) + d.TemplateReferencesMissed
}
