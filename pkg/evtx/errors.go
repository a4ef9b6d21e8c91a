// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package evtx

import "fmt"

// Kind identifies the category of a decode error. It is attached to
// every error the decoder produces so that the error policy (fatal /
// per-chunk / per-record / per-template / cancellation) can be driven
// generically off of it.
type Kind int

const (
	KindBadFileMagic Kind = iota
	KindTruncated
	KindBadChunkMagic
	KindBadRecordMagic
	KindSizeMismatch
	KindChecksumMismatch
	KindUnknownToken
	KindMissingTemplate
	KindMalformedName
	KindCancelRequested
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBadFileMagic:
		return "BadFileMagic"
	case KindTruncated:
		return "Truncated"
	case KindBadChunkMagic:
		return "BadChunkMagic"
	case KindBadRecordMagic:
		return "BadRecordMagic"
	case KindSizeMismatch:
		return "SizeMismatch"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindUnknownToken:
		return "UnknownToken"
	case KindMissingTemplate:
		return "MissingTemplate"
	case KindMalformedName:
		return "MalformedName"
	case KindCancelRequested:
		return "CancelRequested"
	case KindInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the decoder's uniform error type: a Kind plus context.
// Whether an Error is fatal, per-chunk advisory, per-record advisory,
// per-template advisory, or a cancellation marker is decided by the
// policy below, driven off Kind and the caller's StopOnError setting.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, err error, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Err: err}
}

// alwaysFatal reports whether an error of kind k aborts the parse
// regardless of StopOnError.
func (k Kind) alwaysFatal() bool {
	return k == KindBadFileMagic || k == KindInternal
}
