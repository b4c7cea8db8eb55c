package amio

import "github.com/loopworks/amio/internal/reactor"

// EventMask is a subset of {Read, Write} describing which readiness a
// transport is interested in.
type EventMask = reactor.Event

// Interest bits for Attach/ChangeEvents/AddEvents/RemoveEvents.
const (
	EventRead  = reactor.Read
	EventWrite = reactor.Write
)

// TriggerMode selects level-triggered, edge-triggered, or
// edge-if-supported-else-level delivery for a readiness attachment.
type TriggerMode = reactor.TriggerMode

// Trigger modes.
const (
	Level       = reactor.Level
	Edge        = reactor.Edge
	EdgeOrLevel = reactor.EdgeOrLevel
)
