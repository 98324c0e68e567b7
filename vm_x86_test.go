// vm_x86_test.go - Narrow variant execution and lifecycle tests

package main

import (
	"errors"
	"testing"
)

func newRunningX86(t *testing.T, payload []byte) *X86Vm {
	t.Helper()
	vm := NewX86Vm(1)
	vm.SetPayload(payload)
	if err := vm.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return vm
}

func TestX86Vm_Arithmetic(t *testing.T) {
	vm := newRunningX86(t, []byte{X86OpMov, X86OpAdd, X86OpInc, X86OpSub, X86OpDec})
	vm.regs.Ebx = 10

	vm.RunOneInstruction() // mov: eax=10
	vm.RunOneInstruction() // add: eax=20
	vm.RunOneInstruction() // inc: eax=21
	if vm.regs.Eax != 21 {
		t.Fatalf("eax = %d, want 21", vm.regs.Eax)
	}
	vm.RunOneInstruction() // sub: eax=11
	vm.RunOneInstruction() // dec: eax=10
	if vm.regs.Eax != 10 {
		t.Fatalf("eax = %d, want 10", vm.regs.Eax)
	}
}

func TestX86Vm_Flags(t *testing.T) {
	vm := newRunningX86(t, []byte{X86OpSub, X86OpDec})
	vm.regs.Eax = 5
	vm.regs.Ebx = 5

	vm.RunOneInstruction() // eax = 0
	if vm.regs.Eflags&FlagZF == 0 {
		t.Fatalf("ZF not set after zero result, eflags=%#x", vm.regs.Eflags)
	}
	vm.RunOneInstruction() // eax = 0xFFFFFFFF
	if vm.regs.Eflags&FlagSF == 0 {
		t.Fatalf("SF not set after negative result, eflags=%#x", vm.regs.Eflags)
	}
	if vm.regs.Eflags&FlagZF != 0 {
		t.Fatalf("ZF still set after nonzero result, eflags=%#x", vm.regs.Eflags)
	}
}

func TestX86Vm_StackPushPop(t *testing.T) {
	vm := newRunningX86(t, []byte{X86OpPush, X86OpInc, X86OpPop})
	vm.regs.Eax = 0xDEAD
	vm.regs.Esp = ContextStackBytes

	vm.RunOneInstruction() // push
	if vm.regs.Esp != ContextStackBytes-4 {
		t.Fatalf("esp = %d after push, want %d", vm.regs.Esp, ContextStackBytes-4)
	}
	vm.RunOneInstruction() // inc
	vm.RunOneInstruction() // pop
	if vm.regs.Eax != 0xDEAD {
		t.Fatalf("eax = %#x after pop, want 0xDEAD", vm.regs.Eax)
	}
	if vm.regs.Esp != ContextStackBytes {
		t.Fatalf("esp = %d after pop, want %d", vm.regs.Esp, ContextStackBytes)
	}
}

func TestX86Vm_StackBounds(t *testing.T) {
	vm := newRunningX86(t, []byte{X86OpPush, X86OpPush})
	vm.regs.Eax = 7
	vm.regs.Esp = ContextWordBytes

	vm.RunOneInstruction() // push lands in stack[0], esp -> 0
	if vm.regs.Esp != 0 || vm.regs.Stack[0] != 7 {
		t.Fatalf("esp=%d stack[0]=%d, want 0 and 7", vm.regs.Esp, vm.regs.Stack[0])
	}
	vm.RunOneInstruction() // push with esp=0 drops silently
	if vm.regs.Esp != 0 {
		t.Fatalf("esp = %d after out-of-range push, want 0", vm.regs.Esp)
	}
}

func TestX86Vm_ContextRoundTrip(t *testing.T) {
	vm := NewX86Vm(1)
	vm.regs.Eax = 0x11111111
	vm.regs.Ebx = 0x22222222
	vm.regs.Eip = 42
	vm.regs.Stack[1023] = 0xCAFEBABE

	vm.SaveContext()
	vm.regs = VmContext{}
	vm.LoadContext()

	if vm.regs.Eax != 0x11111111 || vm.regs.Ebx != 0x22222222 || vm.regs.Eip != 42 {
		t.Fatalf("registers not restored: %+v", vm.regs)
	}
	if vm.regs.Stack[1023] != 0xCAFEBABE {
		t.Fatalf("stack not restored: %#x", vm.regs.Stack[1023])
	}
}

func TestX86Vm_ResourceLimitPauses(t *testing.T) {
	payload := make([]byte, 10)
	vm := NewX86Vm(1)
	vm.SetPayload(payload)
	vm.SetResourceLimit(3)
	if err := vm.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	vm.RunOneInstruction()
	vm.RunOneInstruction()
	if vm.RunOneInstruction() {
		t.Fatalf("third instruction should report the limit pause")
	}
	if vm.Running() {
		t.Fatalf("vm still running after hitting limit")
	}
	if vm.Stopped() {
		t.Fatalf("limit exhaustion must pause, not stop")
	}
	if got := vm.ResourceUsage(); got != 3 {
		t.Fatalf("ResourceUsage = %d, want 3", got)
	}
	if err := vm.Resume(); err != nil {
		t.Fatalf("Resume after limit pause: %v", err)
	}
}

func TestX86Vm_LifecycleErrors(t *testing.T) {
	vm := NewX86Vm(1)
	if err := vm.Pause(); !errors.Is(err, ErrVmNotRunning) {
		t.Fatalf("Pause idle vm: got %v, want ErrVmNotRunning", err)
	}
	if err := vm.Resume(); !errors.Is(err, ErrVmNotPaused) {
		t.Fatalf("Resume idle vm: got %v, want ErrVmNotPaused", err)
	}
	if err := vm.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := vm.Start(); !errors.Is(err, ErrVmRunning) {
		t.Fatalf("double Start: got %v, want ErrVmRunning", err)
	}
	vm.Stop()
	if err := vm.Start(); !errors.Is(err, ErrVmStopped) {
		t.Fatalf("Start after Stop: got %v, want ErrVmStopped", err)
	}
}

func TestX86Vm_PauseResumePreservesState(t *testing.T) {
	vm := newRunningX86(t, []byte{X86OpInc, X86OpInc, X86OpInc})
	vm.RunOneInstruction()
	if err := vm.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := vm.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	vm.RunOneInstruction()
	if vm.regs.Eax != 2 {
		t.Fatalf("eax = %d after pause/resume, want 2", vm.regs.Eax)
	}
	if vm.regs.Eip != 2 {
		t.Fatalf("eip = %d after pause/resume, want 2", vm.regs.Eip)
	}
}

func TestX86Vm_UnknownOpcodeNotifies(t *testing.T) {
	var events []ExceptionEvent
	vm := NewX86Vm(1)
	vm.SetExceptionHook(func(id uint32, ev ExceptionEvent) { events = append(events, ev) })
	vm.SetPayload([]byte{0xEE, X86OpInc})
	if err := vm.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	vm.RunOneInstruction()
	if len(events) != 1 || events[0].Kind != ExceptionUnknownOpcode || events[0].Opcode != 0xEE {
		t.Fatalf("unexpected events: %+v", events)
	}
	// The bad opcode is skipped, execution continues.
	vm.RunOneInstruction()
	if vm.regs.Eax != 1 {
		t.Fatalf("eax = %d, want 1", vm.regs.Eax)
	}
}

func TestX86Vm_PayloadEndStops(t *testing.T) {
	var events []ExceptionEvent
	vm := NewX86Vm(1)
	vm.SetExceptionHook(func(id uint32, ev ExceptionEvent) { events = append(events, ev) })
	vm.SetPayload([]byte{X86OpNop})
	if err := vm.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	vm.RunOneInstruction()
	if vm.RunOneInstruction() {
		t.Fatalf("execution past payload end")
	}
	if !vm.Stopped() {
		t.Fatalf("vm not stopped at payload end")
	}
	if len(events) != 1 || events[0].Kind != ExceptionPayloadEnd {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestX86Vm_SliceCap(t *testing.T) {
	vm := newRunningX86(t, make([]byte, 64))
	if !vm.RunOneSlice() {
		t.Fatalf("slice did not execute")
	}
	if got := vm.ResourceUsage(); got != SliceInstructions {
		t.Fatalf("slice executed %d instructions, want %d", got, SliceInstructions)
	}
}
