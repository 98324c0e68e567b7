// perf_monitor.go - Wall-clock and instruction-count bookkeeping per VM

package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// PerfSample accumulates measurement intervals for one VM.
type PerfSample struct {
	VmID         uint32
	Intervals    int
	TotalElapsed time.Duration
	Instructions uint64
}

// PerfMonitor brackets VM execution with Begin/End pairs and accumulates
// per-VM totals. Pure bookkeeping; it never touches VM state beyond reading
// the instruction counter.
type PerfMonitor struct {
	mu      sync.Mutex
	open    map[uint32]openInterval
	samples map[uint32]*PerfSample
}

type openInterval struct {
	startedAt time.Time
	startedN  uint32
}

func NewPerfMonitor() *PerfMonitor {
	return &PerfMonitor{
		open:    make(map[uint32]openInterval),
		samples: make(map[uint32]*PerfSample),
	}
}

// Begin opens a measurement interval for the VM. A second Begin without an
// End restarts the interval.
func (m *PerfMonitor) Begin(vm VmInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[vm.VmID()] = openInterval{startedAt: time.Now(), startedN: vm.ResourceUsage()}
}

// End closes the VM's open interval and folds it into the totals. An End
// without a matching Begin is ignored.
func (m *PerfMonitor) End(vm VmInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := vm.VmID()
	iv, ok := m.open[id]
	if !ok {
		return
	}
	delete(m.open, id)

	s := m.samples[id]
	if s == nil {
		s = &PerfSample{VmID: id}
		m.samples[id] = s
	}
	s.Intervals++
	s.TotalElapsed += time.Since(iv.startedAt)
	s.Instructions += uint64(vm.ResourceUsage() - iv.startedN)
}

// Samples returns accumulated totals ordered by VM id.
func (m *PerfMonitor) Samples() []PerfSample {
	m.mu.Lock()
	out := make([]PerfSample, 0, len(m.samples))
	for _, s := range m.samples {
		out = append(out, *s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VmID < out[j].VmID })
	return out
}

// Report formats the totals as a plain table for the console.
func (m *PerfMonitor) Report() string {
	samples := m.Samples()
	if len(samples) == 0 {
		return "no measurements\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-10s %-14s %s\n", "vm", "intervals", "elapsed", "instructions")
	for _, s := range samples {
		fmt.Fprintf(&b, "%-6d %-10d %-14v %d\n", s.VmID, s.Intervals, s.TotalElapsed, s.Instructions)
	}
	return b.String()
}

// Reset drops all open intervals and totals.
func (m *PerfMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = make(map[uint32]openInterval)
	m.samples = make(map[uint32]*PerfSample)
}
