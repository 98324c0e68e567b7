// scheduler.go - Core pool and core-affinity VM scheduler

package main

import (
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var schedLog = commonlog.GetLogger("vmkern.scheduler")

var (
	ErrNilVm           = errors.New("nil vm handle")
	ErrCoreOutOfRange  = errors.New("core id out of schedulable range")
	ErrCoreLocked      = errors.New("core already locked")
	ErrVmNotScheduled  = errors.New("vm not found in scheduler")
	ErrSchedulerActive = errors.New("scheduler already running")
)

// CoreStatus is one host core's slot in the pool. A locked core has exactly
// one occupant: either a static binding or a dynamic entry mid-slice.
type CoreStatus struct {
	CoreID    int
	Locked    bool
	BoundVmID uint32
}

// VmScheduleInfo is a plain value record. Records move between the dynamic
// queue and the static list by copy; nothing ever holds a pointer into
// either collection.
type VmScheduleInfo struct {
	Vm            VmInstance
	Priority      int
	BoundCoreID   int // -1 while dynamically admitted
	LastExecution time.Time
}

// SchedulerStats is a point-in-time snapshot taken under the scheduler lock.
type SchedulerStats struct {
	TotalCores  int
	UsableCores int
	StaticCount int
	QueueDepth  int
	Cores       []CoreStatus
}

// Scheduler admits VMs for periodic execution slices and guarantees that no
// two VMs occupy the same host core at once. One mutex serializes every
// touch of the core pool, the dynamic queue, and the static-binding list;
// a full scheduling pass holds it end to end, so passes are atomic with
// respect to admission and binding calls.
type Scheduler struct {
	mu     sync.Mutex
	cores  []CoreStatus
	static []VmScheduleInfo
	queue  []VmScheduleInfo

	coreStart     int
	sliceInterval time.Duration
	timeout       time.Duration

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler builds a scheduler from config. Core pool sizing happens in
// Initialize so tests can pick a fixed pool.
func NewScheduler(cfg *Config) *Scheduler {
	return &Scheduler{
		coreStart:     cfg.CoreStartIndex,
		sliceInterval: time.Duration(cfg.SliceIntervalMs) * time.Millisecond,
		timeout:       time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
}

// Initialize sizes the core pool. totalCores <= 0 means use the host core
// count. Cores below the configured start index stay reserved for the host
// and are never schedulable.
func (s *Scheduler) Initialize(totalCores int) {
	if totalCores <= 0 {
		totalCores = runtime.NumCPU()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cores = make([]CoreStatus, totalCores)
	for i := range s.cores {
		s.cores[i].CoreID = i
	}
	schedLog.Infof("core pool initialized: %d cores, %d usable (start index %d)",
		totalCores, s.usableCores(), s.coreStart)
}

func (s *Scheduler) usableCores() int {
	n := len(s.cores) - s.coreStart
	if n < 0 {
		n = 0
	}
	return n
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerActive
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop()
	schedLog.Info("scheduler started")
	return nil
}

// Stop wakes and joins the loop, then force-stops every admitted VM,
// draining both collections. Safe to call when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	victims := make([]VmInstance, 0, len(s.static)+len(s.queue))
	for _, info := range s.static {
		s.cores[info.BoundCoreID].Locked = false
		s.cores[info.BoundCoreID].BoundVmID = 0
		victims = append(victims, info.Vm)
	}
	for _, info := range s.queue {
		victims = append(victims, info.Vm)
	}
	s.static = nil
	s.queue = nil
	s.mu.Unlock()

	for _, vm := range victims {
		vm.ForceStop()
	}
	schedLog.Infof("scheduler stopped, %d vms force stopped", len(victims))
}

func (s *Scheduler) loop() {
	defer close(s.done)

	// Affinity applies to the calling thread, so the loop pins itself to
	// one OS thread for the lifetime of the scheduler.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-s.stop:
			return
		case <-time.After(s.sliceInterval):
		}
		s.runPass()
	}
}

// runPass performs one full scheduling pass: static bindings, then the
// dynamic queue, then the static timeout check.
func (s *Scheduler) runPass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	for i := range s.static {
		info := &s.static[i]
		core := info.BoundCoreID
		if !s.cores[core].Locked || s.cores[core].BoundVmID != info.Vm.VmID() {
			schedLog.Errorf("core %d lock state inconsistent with binding of vm %d",
				core, info.Vm.VmID())
			continue
		}
		s.executeSlice(info, core, now)
	}

	s.runDynamicPass(now)

	for i := range s.static {
		info := &s.static[i]
		if info.LastExecution.IsZero() {
			continue
		}
		if stale := now.Sub(info.LastExecution); stale > s.timeout {
			schedLog.Warningf("vm %d on core %d has not executed for %v",
				info.Vm.VmID(), info.BoundCoreID, stale)
		}
	}
}

// runDynamicPass drains the queue into a working copy, orders it by
// ascending priority (stable, so equal priorities keep arrival order), and
// grants each entry a slice on any free core. Entries always return to the
// queue: at the tail after executing, unchanged in place when no core was
// free this pass.
func (s *Scheduler) runDynamicPass(now time.Time) {
	if len(s.queue) == 0 {
		return
	}
	work := s.queue
	s.queue = make([]VmScheduleInfo, 0, len(work))

	sort.SliceStable(work, func(i, j int) bool {
		return work[i].Priority < work[j].Priority
	})

	for _, info := range work {
		core := s.claimFreeCore(info.Vm.VmID())
		if core < 0 {
			s.queue = append(s.queue, info)
			continue
		}
		s.executeSlice(&info, core, now)
		s.cores[core].Locked = false
		s.cores[core].BoundVmID = 0
		s.queue = append(s.queue, info)
	}
}

// claimFreeCore locks the first unlocked schedulable core for vmID and
// returns its id, or -1 when every core is taken.
func (s *Scheduler) claimFreeCore(vmID uint32) int {
	for i := s.coreStart; i < len(s.cores); i++ {
		if !s.cores[i].Locked {
			s.cores[i].Locked = true
			s.cores[i].BoundVmID = vmID
			return i
		}
	}
	return -1
}

// executeSlice pins the loop thread to core, makes sure the VM is running
// (a fresh VM starts, a resource-paused VM resumes with its saved context),
// runs one slice, and stamps the execution time.
func (s *Scheduler) executeSlice(info *VmScheduleInfo, core int, now time.Time) {
	if err := setThreadAffinity(core); err != nil {
		schedLog.Warningf("cannot pin to core %d: %v", core, err)
	}
	vm := info.Vm
	if !vm.Running() {
		if err := vm.Start(); err != nil {
			schedLog.Debugf("vm %d not startable: %v", vm.VmID(), err)
			return
		}
	}
	vm.RunOneSlice()
	info.LastExecution = now
}

// AddVm appends a dynamic admission record. Per the admission contract this
// fails only on a nil handle.
func (s *Scheduler) AddVm(vm VmInstance, priority int) error {
	if vm == nil {
		return ErrNilVm
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, VmScheduleInfo{Vm: vm, Priority: priority, BoundCoreID: -1})
	schedLog.Infof("vm %d admitted dynamically, priority %d", vm.VmID(), priority)
	return nil
}

// ApplyStaticCore pins vmID to coreID. The record is found in the static
// list (a rebind releases the old core) or lifted out of the dynamic queue;
// either way a value copy lands in the static list and the core locks.
// On any failure nothing is mutated.
func (s *Scheduler) ApplyStaticCore(vmID uint32, coreID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coreID < s.coreStart || coreID >= len(s.cores) {
		return ErrCoreOutOfRange
	}
	if s.cores[coreID].Locked {
		return ErrCoreLocked
	}

	if i := s.staticIndex(vmID); i >= 0 {
		info := s.static[i]
		s.cores[info.BoundCoreID].Locked = false
		s.cores[info.BoundCoreID].BoundVmID = 0
		s.static = append(s.static[:i], s.static[i+1:]...)
		info.BoundCoreID = coreID
		s.bindStatic(info, coreID)
		return nil
	}

	for i, info := range s.queue {
		if info.Vm.VmID() != vmID {
			continue
		}
		// Rebuild the queue without this entry, preserving order.
		rest := make([]VmScheduleInfo, 0, len(s.queue)-1)
		rest = append(rest, s.queue[:i]...)
		rest = append(rest, s.queue[i+1:]...)
		s.queue = rest

		info.BoundCoreID = coreID
		s.bindStatic(info, coreID)
		return nil
	}

	return ErrVmNotScheduled
}

func (s *Scheduler) bindStatic(info VmScheduleInfo, coreID int) {
	s.cores[coreID].Locked = true
	s.cores[coreID].BoundVmID = info.Vm.VmID()
	s.static = append(s.static, info)
	schedLog.Infof("vm %d bound to core %d", info.Vm.VmID(), coreID)
}

func (s *Scheduler) staticIndex(vmID uint32) int {
	for i, info := range s.static {
		if info.Vm.VmID() == vmID {
			return i
		}
	}
	return -1
}

// ReleaseStaticCore unbinds vmID, unlocks its core, and stops the VM. Only
// static bindings qualify; an unknown or already-released id is an error so
// core-lock state can never be corrupted by a double release.
func (s *Scheduler) ReleaseStaticCore(vmID uint32) error {
	s.mu.Lock()
	i := s.staticIndex(vmID)
	if i < 0 {
		s.mu.Unlock()
		return ErrVmNotScheduled
	}
	info := s.static[i]
	s.cores[info.BoundCoreID].Locked = false
	s.cores[info.BoundCoreID].BoundVmID = 0
	s.static = append(s.static[:i], s.static[i+1:]...)
	s.mu.Unlock()

	if info.Vm.Running() {
		info.Vm.Stop()
	}
	schedLog.Infof("vm %d released from core %d", vmID, info.BoundCoreID)
	return nil
}

// CoreStatusOf returns one core's record.
func (s *Scheduler) CoreStatusOf(coreID int) (CoreStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if coreID < 0 || coreID >= len(s.cores) {
		return CoreStatus{}, ErrCoreOutOfRange
	}
	return s.cores[coreID], nil
}

// Statistics snapshots pool and queue state under the scheduler lock.
func (s *Scheduler) Statistics() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := SchedulerStats{
		TotalCores:  len(s.cores),
		UsableCores: s.usableCores(),
		StaticCount: len(s.static),
		QueueDepth:  len(s.queue),
		Cores:       append([]CoreStatus(nil), s.cores...),
	}
	return stats
}
