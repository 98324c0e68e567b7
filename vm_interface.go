// vm_interface.go - Common VM variant interface and shared lifecycle state

package main

import (
	"errors"

	"github.com/tliron/commonlog"
)

const (
	// SliceInstructions is the instruction cap for one scheduling slice.
	SliceInstructions = 10

	// DefaultVmResourceLimit caps instruction execution until the owner
	// raises it with SetResourceLimit.
	DefaultVmResourceLimit = 10000
)

// Architecture labels, used by the registry and the context snapshot codec.
const (
	ArchX86 = "x86"
	ArchArm = "arm"
	ArchX64 = "x64"
)

var (
	ErrVmRunning    = errors.New("vm already running")
	ErrVmNotRunning = errors.New("vm not running")
	ErrVmNotPaused  = errors.New("vm not paused")
	ErrVmStopped    = errors.New("vm stopped")
)

var vmLog = commonlog.GetLogger("vmkern.vm")

// VmInstance is the capability set shared by all VM variants. The scheduler
// and registry hold VmInstance handles and never assume a concrete variant;
// anything variant-specific happens behind an explicit type assertion at the
// boundary that needs it.
type VmInstance interface {
	Start() error
	Pause() error
	Resume() error
	Stop()
	ForceStop()

	SaveContext()
	LoadContext()
	Context() VmContext
	SetContext(ctx VmContext)

	RunOneInstruction() bool
	RunOneSlice() bool

	ResourceUsage() uint32
	SetResourceLimit(limit uint32)

	VmID() uint32
	Arch() string
	Running() bool
	Stopped() bool

	SetPayload(data []byte)
	Payload() []byte
	SetExceptionHook(hook ExceptionHook)
}

// baseVm carries the state every variant shares: identity, lifecycle flags,
// the borrowed payload view, resource accounting, and the persisted context.
// Lifecycle methods stay on the variants because pause/resume must call the
// variant's own SaveContext/LoadContext; baseVm only provides the guards.
type baseVm struct {
	id      uint32
	running bool
	paused  bool
	stopped bool

	payload []byte
	ctx     VmContext

	instructionCount uint32
	resourceLimit    uint32

	hook ExceptionHook
}

func newBaseVm(id uint32) baseVm {
	return baseVm{id: id, resourceLimit: DefaultVmResourceLimit}
}

// guardStart validates the NotRunning|Paused -> Running transition.
// The returned flag tells the caller whether a context load is due
// (starting from the paused state resumes saved register state).
func (b *baseVm) guardStart() (needLoad bool, err error) {
	if b.stopped {
		return false, ErrVmStopped
	}
	if b.running {
		return false, ErrVmRunning
	}
	return b.paused, nil
}

// guardPause validates the Running -> Paused transition.
func (b *baseVm) guardPause() error {
	if !b.running {
		return ErrVmNotRunning
	}
	return nil
}

// guardResume validates the Paused -> Running transition.
func (b *baseVm) guardResume() error {
	if b.stopped {
		return ErrVmStopped
	}
	if b.running {
		return ErrVmRunning
	}
	if !b.paused {
		return ErrVmNotPaused
	}
	return nil
}

// halt is the terminal transition shared by Stop and ForceStop.
func (b *baseVm) halt() {
	b.running = false
	b.paused = false
	b.stopped = true
}

// stepAllowed reports whether RunOneInstruction may proceed at all:
// the VM must be running, have a payload, and be under its resource limit.
func (b *baseVm) stepAllowed() bool {
	return b.running && b.payload != nil && b.instructionCount < b.resourceLimit
}

func (b *baseVm) raise(ev ExceptionEvent) {
	if b.hook != nil {
		b.hook(b.id, ev)
	}
}

func (b *baseVm) VmID() uint32 { return b.id }

func (b *baseVm) Running() bool { return b.running }

func (b *baseVm) Stopped() bool { return b.stopped }

func (b *baseVm) Context() VmContext { return b.ctx }

func (b *baseVm) SetContext(c VmContext) { b.ctx = c }

func (b *baseVm) ResourceUsage() uint32 { return b.instructionCount }

func (b *baseVm) SetResourceLimit(limit uint32) { b.resourceLimit = limit }

// SetPayload attaches the instruction payload. The buffer is borrowed, not
// copied; callers must not mutate it while the VM runs.
func (b *baseVm) SetPayload(data []byte) { b.payload = data }
func (b *baseVm) Payload() []byte        { return b.payload }

func (b *baseVm) SetExceptionHook(hook ExceptionHook) { b.hook = hook }

// runOneSlice executes up to SliceInstructions instructions and reports
// whether at least one executed. Shared by all variants.
func runOneSlice(v VmInstance) bool {
	executed := 0
	for i := 0; i < SliceInstructions; i++ {
		if !v.RunOneInstruction() {
			break
		}
		executed++
	}
	return executed > 0
}
