// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package amio is a portable asynchronous I/O reactor: pollers (readiness
// and completion), transports, a cross-thread task queue, and the event
// loop that fuses them into one run loop.
package amio

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind int

// Error kinds.
const (
	// KindSystem wraps a platform errno / GetLastError.
	KindSystem Kind = iota
	// KindLibrary is an amio-defined condition not tied to a syscall, e.g.
	// out of memory, incompatible transport, already attached.
	KindLibrary
	// KindResolution comes from address resolution (getaddrinfo and
	// friends); reported under this kind, carrying the resolver's
	// message.
	KindResolution
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindLibrary:
		return "library"
	case KindResolution:
		return "resolution"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Library error conditions. These are returned wrapped in an *Error with
// Kind() == KindLibrary.
var (
	ErrOutOfMemory              = errors.New("amio: out of memory")
	ErrIncompatibleTransport     = errors.New("amio: incompatible transport")
	ErrTransportAlreadyAttached = errors.New("amio: transport already attached")
	ErrTransportClosed          = errors.New("amio: transport closed")
	ErrUnknownHangup            = errors.New("amio: unknown hangup")
	ErrEdgeTriggeringUnsupported = errors.New("amio: edge-triggering unsupported")
	ErrIncompatibleContext      = errors.New("amio: incompatible context")
	ErrLengthOutOfRange         = errors.New("amio: length out of range")
	ErrContextAlreadyAssociated = errors.New("amio: context already associated with an operation")
	ErrImmediateDeliveryUnsupported = errors.New("amio: immediate delivery unsupported on this platform")
)

// Error is the uniform error type returned by amio's structural APIs and
// delivered to listeners for asynchronous failures.
type Error struct {
	kind Kind
	err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.err }

// Kind reports which of System/Library/Resolution this error is.
func (e *Error) Kind() Kind { return e.kind }

// NewSystemError wraps a syscall/OS error (errno on POSIX, GetLastError on
// Windows) as a KindSystem *Error.
func NewSystemError(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindSystem, err: err}
}

// NewLibraryError wraps an amio-defined condition (see the Err* vars above,
// or any other sentinel) as a KindLibrary *Error.
func NewLibraryError(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindLibrary, err: err}
}

// NewResolutionError wraps a name-resolution failure as a KindResolution
// *Error.
func NewResolutionError(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindResolution, err: errors.Wrap(err, "amio: resolution failed")}
}

// Severity classifies how fatal a non-blocking warning delivered through a
// server listener's OnError is.
type Severity int

// Severities, least to most fatal.
const (
	// SeverityWarning is informational; no resource became unusable.
	SeverityWarning Severity = iota
	// SeveritySevere means a single operation (e.g. one accepted
	// connection) failed but the parent resource is still usable.
	SeveritySevere
	// SeverityFatal means the resource (e.g. the listening socket) is no
	// longer usable and should be closed.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeveritySevere:
		return "severe"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}
