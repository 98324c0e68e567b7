// vm_x64.go - Wide 64-bit VM variant with lossless context transcoding

package main

// RFLAGS bit masks (64-bit variant recomputes ZF and SF only).
const (
	Flag64CF = uint64(1) << 0
	Flag64PF = uint64(1) << 2
	Flag64AF = uint64(1) << 4
	Flag64ZF = uint64(1) << 6
	Flag64SF = uint64(1) << 7
	Flag64OF = uint64(1) << 11
)

// Wide variant opcode subset: one byte per instruction, simplified
// register-pair arithmetic and stack ops on rax/rbx. The REX.W prefix is
// recognized but carries no further decoding effect in this model.
const (
	X64OpRexW = 0x48
	X64OpMov  = 0x89
	X64OpAdd  = 0x01 // rax += rbx
	X64OpSub  = 0x29 // rax -= rbx
	X64OpInc  = 0xFF
	X64OpDec  = 0xFE
	X64OpPush = 0x50
	X64OpPop  = 0x58
)

// X64Vm models the wide variant: sixteen 64-bit registers plus a 64-bit
// instruction pointer and flags register. The demonstrative opcode subset
// mutates rax, rbx, rsp, rip and rflags; those five are exactly the state
// SaveContext packs into the ten 32-bit context slots as lo/hi pairs.
type X64Vm struct {
	baseVm
	rax, rbx, rcx, rdx uint64
	rsi, rdi, rbp, rsp uint64
	r8, r9, r10, r11   uint64
	r12, r13, r14, r15 uint64
	rip                uint64
	rflags             uint64
}

func NewX64Vm(id uint32) *X64Vm {
	return &X64Vm{baseVm: newBaseVm(id)}
}

func (v *X64Vm) Arch() string { return ArchX64 }

func (v *X64Vm) Start() error {
	needLoad, err := v.guardStart()
	if err != nil {
		return err
	}
	if needLoad {
		v.LoadContext()
	}
	v.paused = false
	v.running = true
	vmLog.Debugf("x64 vm %d started", v.id)
	return nil
}

func (v *X64Vm) Pause() error {
	if err := v.guardPause(); err != nil {
		return err
	}
	v.pauseAndSave()
	vmLog.Debugf("x64 vm %d paused", v.id)
	return nil
}

func (v *X64Vm) Resume() error {
	if err := v.guardResume(); err != nil {
		return err
	}
	v.LoadContext()
	v.paused = false
	v.running = true
	vmLog.Debugf("x64 vm %d resumed", v.id)
	return nil
}

func (v *X64Vm) Stop() {
	v.halt()
	vmLog.Debugf("x64 vm %d stopped", v.id)
}

func (v *X64Vm) ForceStop() {
	v.halt()
	vmLog.Infof("x64 vm %d force stopped", v.id)
}

func (v *X64Vm) pauseAndSave() {
	v.running = false
	v.paused = true
	v.SaveContext()
}

// SaveContext packs each visible 64-bit register's low and high halves into
// two distinct context slots. The pairing is fixed and reversible:
//
//	rax    -> (Eax, Ecx)    rsp -> (Esp, Ebp)
//	rbx    -> (Ebx, Edx)    rip -> (Eip, Esi)
//	rflags -> (Eflags, Edi)
//
// Truncating to the low halves here would lose the high 32 bits on every
// pause; the paired layout keeps the round trip exact.
func (v *X64Vm) SaveContext() {
	v.ctx.Eax = uint32(v.rax)
	v.ctx.Ecx = uint32(v.rax >> 32)
	v.ctx.Ebx = uint32(v.rbx)
	v.ctx.Edx = uint32(v.rbx >> 32)
	v.ctx.Esp = uint32(v.rsp)
	v.ctx.Ebp = uint32(v.rsp >> 32)
	v.ctx.Eip = uint32(v.rip)
	v.ctx.Esi = uint32(v.rip >> 32)
	v.ctx.Eflags = uint32(v.rflags)
	v.ctx.Edi = uint32(v.rflags >> 32)
}

// LoadContext reassembles each 64-bit register as (high << 32) | low using
// the same slot pairing as SaveContext.
func (v *X64Vm) LoadContext() {
	v.rax = uint64(v.ctx.Ecx)<<32 | uint64(v.ctx.Eax)
	v.rbx = uint64(v.ctx.Edx)<<32 | uint64(v.ctx.Ebx)
	v.rsp = uint64(v.ctx.Ebp)<<32 | uint64(v.ctx.Esp)
	v.rip = uint64(v.ctx.Esi)<<32 | uint64(v.ctx.Eip)
	v.rflags = uint64(v.ctx.Edi)<<32 | uint64(v.ctx.Eflags)
}

func (v *X64Vm) RunOneInstruction() bool {
	if !v.stepAllowed() {
		return false
	}
	if v.rip >= uint64(len(v.payload)) {
		v.raise(ExceptionEvent{Kind: ExceptionPayloadEnd, PC: v.rip})
		v.Stop()
		return false
	}

	opcode := v.payload[v.rip]
	v.execute(opcode)

	v.rip++
	v.instructionCount++

	if v.instructionCount >= v.resourceLimit {
		vmLog.Infof("x64 vm %d reached resource limit %d", v.id, v.resourceLimit)
		v.pauseAndSave()
		return false
	}
	return true
}

func (v *X64Vm) RunOneSlice() bool { return runOneSlice(v) }

func (v *X64Vm) execute(opcode byte) {
	switch opcode {
	case X64OpRexW, X64OpMov:
		// Prefix and register-move forms carry no effect in this model.

	case X64OpAdd:
		v.rax += v.rbx
		v.updateFlags64(v.rax)

	case X64OpSub:
		v.rax -= v.rbx
		v.updateFlags64(v.rax)

	case X64OpInc:
		v.rax++
		v.updateFlags64(v.rax)

	case X64OpDec:
		v.rax--
		v.updateFlags64(v.rax)

	case X64OpPush:
		// The simplified model keeps no stack memory; only rsp moves.
		v.rsp -= 8

	case X64OpPop:
		v.rax = 0
		v.rsp += 8

	default:
		v.raise(ExceptionEvent{Kind: ExceptionUnknownOpcode, PC: v.rip, Opcode: uint32(opcode)})
	}
}

// updateFlags64 recomputes ZF and SF from a 64-bit result.
func (v *X64Vm) updateFlags64(result uint64) {
	v.rflags &^= Flag64ZF | Flag64SF | Flag64OF
	if result == 0 {
		v.rflags |= Flag64ZF
	}
	if result&0x8000000000000000 != 0 {
		v.rflags |= Flag64SF
	}
}

// Register64 returns a named 64-bit register; ok is false for unknown names.
func (v *X64Vm) Register64(name string) (uint64, bool) {
	switch name {
	case "rax":
		return v.rax, true
	case "rbx":
		return v.rbx, true
	case "rcx":
		return v.rcx, true
	case "rdx":
		return v.rdx, true
	case "rsi":
		return v.rsi, true
	case "rdi":
		return v.rdi, true
	case "rbp":
		return v.rbp, true
	case "rsp":
		return v.rsp, true
	case "r8":
		return v.r8, true
	case "r9":
		return v.r9, true
	case "r10":
		return v.r10, true
	case "r11":
		return v.r11, true
	case "r12":
		return v.r12, true
	case "r13":
		return v.r13, true
	case "r14":
		return v.r14, true
	case "r15":
		return v.r15, true
	case "rip":
		return v.rip, true
	case "rflags":
		return v.rflags, true
	}
	return 0, false
}

// SetRegister64 assigns a named 64-bit register; ok is false for unknown names.
func (v *X64Vm) SetRegister64(name string, value uint64) bool {
	switch name {
	case "rax":
		v.rax = value
	case "rbx":
		v.rbx = value
	case "rcx":
		v.rcx = value
	case "rdx":
		v.rdx = value
	case "rsi":
		v.rsi = value
	case "rdi":
		v.rdi = value
	case "rbp":
		v.rbp = value
	case "rsp":
		v.rsp = value
	case "r8":
		v.r8 = value
	case "r9":
		v.r9 = value
	case "r10":
		v.r10 = value
	case "r11":
		v.r11 = value
	case "r12":
		v.r12 = value
	case "r13":
		v.r13 = value
	case "r14":
		v.r14 = value
	case "r15":
		v.r15 = value
	case "rip":
		v.rip = value
	case "rflags":
		v.rflags = value
	default:
		return false
	}
	return true
}
