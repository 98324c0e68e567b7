// exception.go - VM exception notification hook

package main

import "github.com/tliron/commonlog"

// ExceptionKind classifies the conditions a VM can report through its hook.
// This is detection and logging only; no delivery or unwinding semantics.
type ExceptionKind int

const (
	// ExceptionUnknownOpcode fires when decode meets an opcode outside the
	// modeled subset. The instruction is skipped.
	ExceptionUnknownOpcode ExceptionKind = iota

	// ExceptionPayloadEnd fires when the instruction pointer runs off the
	// end of the payload and the VM stops.
	ExceptionPayloadEnd
)

func (k ExceptionKind) String() string {
	switch k {
	case ExceptionUnknownOpcode:
		return "unknown-opcode"
	case ExceptionPayloadEnd:
		return "payload-end"
	default:
		return "unknown"
	}
}

// ExceptionEvent describes a single notification from a VM engine.
type ExceptionEvent struct {
	Kind   ExceptionKind
	PC     uint64
	Opcode uint32
}

// ExceptionHook receives exception notifications from a VM engine.
// Hooks run on the thread driving the VM and must not block.
type ExceptionHook func(vmID uint32, ev ExceptionEvent)

var excLog = commonlog.GetLogger("vmkern.exceptions")

// LogExceptionHook is the default hook: it records the event and moves on.
func LogExceptionHook(vmID uint32, ev ExceptionEvent) {
	excLog.Warningf("vm %d: %s at pc=0x%x opcode=0x%x", vmID, ev.Kind, ev.PC, ev.Opcode)
}
