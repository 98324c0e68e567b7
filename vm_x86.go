// vm_x86.go - Narrow 32-bit accumulator-style VM variant

package main

// EFLAGS bit masks (narrow variant recomputes ZF and SF only).
const (
	FlagCF = 1 << 0
	FlagPF = 1 << 2
	FlagAF = 1 << 4
	FlagZF = 1 << 6
	FlagSF = 1 << 7
	FlagOF = 1 << 11
)

// Narrow variant opcode subset. One byte per instruction, operating on the
// two fixed registers eax/ebx and the context-embedded stack.
const (
	X86OpNop  = 0x00
	X86OpMov  = 0x01 // eax <- ebx
	X86OpAdd  = 0x02 // eax += ebx
	X86OpSub  = 0x03 // eax -= ebx
	X86OpInc  = 0x04
	X86OpDec  = 0x05
	X86OpPush = 0x06
	X86OpPop  = 0x07
)

// X86Vm models the narrow 32-bit variant. Its native register file has the
// same shape as VmContext, so transcoding is a whole-struct copy; the stack
// buffer rides along in the same copy.
type X86Vm struct {
	baseVm
	regs VmContext
}

func NewX86Vm(id uint32) *X86Vm {
	return &X86Vm{baseVm: newBaseVm(id)}
}

func (v *X86Vm) Arch() string { return ArchX86 }

func (v *X86Vm) Start() error {
	needLoad, err := v.guardStart()
	if err != nil {
		return err
	}
	if needLoad {
		v.LoadContext()
	}
	v.paused = false
	v.running = true
	vmLog.Debugf("x86 vm %d started", v.id)
	return nil
}

func (v *X86Vm) Pause() error {
	if err := v.guardPause(); err != nil {
		return err
	}
	v.pauseAndSave()
	vmLog.Debugf("x86 vm %d paused", v.id)
	return nil
}

func (v *X86Vm) Resume() error {
	if err := v.guardResume(); err != nil {
		return err
	}
	v.LoadContext()
	v.paused = false
	v.running = true
	vmLog.Debugf("x86 vm %d resumed", v.id)
	return nil
}

func (v *X86Vm) Stop() {
	v.halt()
	vmLog.Debugf("x86 vm %d stopped", v.id)
}

func (v *X86Vm) ForceStop() {
	v.halt()
	vmLog.Infof("x86 vm %d force stopped", v.id)
}

func (v *X86Vm) pauseAndSave() {
	v.running = false
	v.paused = true
	v.SaveContext()
}

// SaveContext captures the whole native register file, stack included.
// Narrow registers map 1:1 into the context slots.
func (v *X86Vm) SaveContext() { v.ctx = v.regs }

// LoadContext restores the whole native register file from the context.
func (v *X86Vm) LoadContext() { v.regs = v.ctx }

func (v *X86Vm) RunOneInstruction() bool {
	if !v.stepAllowed() {
		return false
	}
	if v.regs.Eip >= uint32(len(v.payload)) {
		v.raise(ExceptionEvent{Kind: ExceptionPayloadEnd, PC: uint64(v.regs.Eip)})
		v.Stop()
		return false
	}

	opcode := v.payload[v.regs.Eip]
	v.execute(opcode)

	v.regs.Eip++
	v.instructionCount++

	if v.instructionCount >= v.resourceLimit {
		vmLog.Infof("x86 vm %d reached resource limit %d", v.id, v.resourceLimit)
		v.pauseAndSave()
		return false
	}
	return true
}

func (v *X86Vm) RunOneSlice() bool { return runOneSlice(v) }

func (v *X86Vm) execute(opcode byte) {
	switch opcode {
	case X86OpNop:

	case X86OpMov:
		v.regs.Eax = v.regs.Ebx

	case X86OpAdd:
		v.regs.Eax += v.regs.Ebx
		v.updateFlags(v.regs.Eax)

	case X86OpSub:
		v.regs.Eax -= v.regs.Ebx
		v.updateFlags(v.regs.Eax)

	case X86OpInc:
		v.regs.Eax++
		v.updateFlags(v.regs.Eax)

	case X86OpDec:
		v.regs.Eax--
		v.updateFlags(v.regs.Eax)

	case X86OpPush:
		// Stack grows down from ContextStackBytes. Out-of-range pushes are
		// silently dropped; payloads are untrusted and must not panic us.
		if v.regs.Esp >= ContextWordBytes && v.regs.Esp <= ContextStackBytes {
			v.regs.Stack[(v.regs.Esp-ContextWordBytes)/ContextWordBytes] = v.regs.Eax
			v.regs.Esp -= ContextWordBytes
		}

	case X86OpPop:
		if v.regs.Esp < ContextStackBytes {
			v.regs.Eax = v.regs.Stack[v.regs.Esp/ContextWordBytes]
			v.regs.Esp += ContextWordBytes
		}

	default:
		v.raise(ExceptionEvent{Kind: ExceptionUnknownOpcode, PC: uint64(v.regs.Eip), Opcode: uint32(opcode)})
	}
}

// updateFlags recomputes ZF and SF from an arithmetic result.
func (v *X86Vm) updateFlags(result uint32) {
	v.regs.Eflags &^= FlagZF | FlagSF
	if result == 0 {
		v.regs.Eflags |= FlagZF
	}
	if result&0x80000000 != 0 {
		v.regs.Eflags |= FlagSF
	}
}
