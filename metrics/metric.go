//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package metrics provides a handful of process-wide counters useful for
// tuning a reactor: poll-wait frequency, event throughput, and connection
// churn. Intentionally small compared to a full metrics library — amio is
// embedded, not a standalone service, so it exposes counters rather than
// owning an exporter.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// PollWait counts calls into the backend's blocking wait.
	PollWait = iota
	// PollNoWait counts calls into the backend's wait with a zero timeout.
	PollNoWait
	// PollEvents counts total readiness/completion entries delivered.
	PollEvents
	// TaskAssigned counts tasks posted to any TaskQueue.
	TaskAssigned
	// ConnsAccepted counts connections accepted by a netio.Server.
	ConnsAccepted
	// ConnsClosed counts connections closed (server- or client-side).
	ConnsClosed
	// AcceptErrors counts failed Accept calls.
	AcceptErrors
	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	new := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = new[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	fmt.Println("######### amio metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	fmt.Printf("%-59s: %d\n", "# number of blocking backend waits", m[PollWait])
	fmt.Printf("%-59s: %d\n", "# number of zero-timeout backend waits", m[PollNoWait])
	fmt.Printf("%-59s: %d\n", "# total readiness/completion entries delivered", m[PollEvents])
	if m[PollWait]+m[PollNoWait] > 0 {
		fmt.Printf("%-59s: %.2f\n", "# average entries per wait",
			float64(m[PollEvents])/float64(m[PollWait]+m[PollNoWait]))
	}
	fmt.Printf("%-59s: %d\n", "# number of tasks posted", m[TaskAssigned])
	fmt.Printf("%-59s: %d\n", "# number of connections accepted", m[ConnsAccepted])
	fmt.Printf("%-59s: %d\n", "# number of connections closed", m[ConnsClosed])
	fmt.Printf("%-59s: %d\n", "# number of failed accepts", m[AcceptErrors])
	fmt.Printf("\n")
}
