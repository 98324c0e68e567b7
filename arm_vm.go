// vm_arm.go - ARM VM variant with selectable endianness

package main

import "encoding/binary"

// CPSR condition flag masks.
const (
	CpsrN = 1 << 31
	CpsrZ = 1 << 30
	CpsrC = 1 << 29
	CpsrV = 1 << 28
)

// Data-processing opcode field values (instruction bits 24-21).
const (
	ArmOpAnd = 0x0
	ArmOpEor = 0x1
	ArmOpSub = 0x2
	ArmOpAdd = 0x4
	ArmOpAdc = 0x5
	ArmOpMov = 0xD
)

const (
	// ArmInstrSize: ARM instructions are word-aligned and fixed-length.
	ArmInstrSize = 4

	// armBranchClass is the value of instruction bits 27-25 that selects
	// the branch encoding rather than a data-processing instruction.
	armBranchClass = 0x5
)

// ARM register file indices. r0-r12 are general purpose; the last three
// alias the stack pointer, link register and program counter.
const (
	ArmRegSP = 13
	ArmRegLR = 14
	ArmRegPC = 15
)

// ArmVm models a sixteen-register ARM variant. Instructions are fetched as
// 32-bit words with selectable endianness and decoded into a 4-bit opcode
// field, source/destination register fields and a 12-bit immediate — except
// branches, whose offset is the sign-extended low 24 bits of the whole word.
type ArmVm struct {
	baseVm
	regs      [16]uint32
	cpsr      uint32
	bigEndian bool
}

func NewArmVm(id uint32, bigEndian bool) *ArmVm {
	return &ArmVm{baseVm: newBaseVm(id), bigEndian: bigEndian}
}

func (v *ArmVm) Arch() string { return ArchArm }

// SetEndianness selects big- or little-endian instruction fetch.
func (v *ArmVm) SetEndianness(bigEndian bool) { v.bigEndian = bigEndian }

func (v *ArmVm) BigEndian() bool { return v.bigEndian }

func (v *ArmVm) Start() error {
	needLoad, err := v.guardStart()
	if err != nil {
		return err
	}
	if needLoad {
		v.LoadContext()
	}
	v.paused = false
	v.running = true
	vmLog.Debugf("arm vm %d started (big-endian=%v)", v.id, v.bigEndian)
	return nil
}

func (v *ArmVm) Pause() error {
	if err := v.guardPause(); err != nil {
		return err
	}
	v.pauseAndSave()
	vmLog.Debugf("arm vm %d paused", v.id)
	return nil
}

func (v *ArmVm) Resume() error {
	if err := v.guardResume(); err != nil {
		return err
	}
	v.LoadContext()
	v.paused = false
	v.running = true
	vmLog.Debugf("arm vm %d resumed", v.id)
	return nil
}

func (v *ArmVm) Stop() {
	v.halt()
	vmLog.Debugf("arm vm %d stopped", v.id)
}

func (v *ArmVm) ForceStop() {
	v.halt()
	vmLog.Infof("arm vm %d force stopped", v.id)
}

func (v *ArmVm) pauseAndSave() {
	v.running = false
	v.paused = true
	v.SaveContext()
}

// SaveContext maps the ARM register file into the 32-bit context slots.
// r11 aliases the base-pointer slot and CPSR the flags slot; both widths
// are 32 bits, so the mapping is lossless.
func (v *ArmVm) SaveContext() {
	v.ctx.Eax = v.regs[0]
	v.ctx.Ebx = v.regs[1]
	v.ctx.Ecx = v.regs[2]
	v.ctx.Edx = v.regs[3]
	v.ctx.Esi = v.regs[4]
	v.ctx.Edi = v.regs[5]
	v.ctx.Ebp = v.regs[11]
	v.ctx.Esp = v.regs[ArmRegSP]
	v.ctx.Eip = v.regs[ArmRegPC]
	v.ctx.Eflags = v.cpsr
}

func (v *ArmVm) LoadContext() {
	v.regs[0] = v.ctx.Eax
	v.regs[1] = v.ctx.Ebx
	v.regs[2] = v.ctx.Ecx
	v.regs[3] = v.ctx.Edx
	v.regs[4] = v.ctx.Esi
	v.regs[5] = v.ctx.Edi
	v.regs[11] = v.ctx.Ebp
	v.regs[ArmRegSP] = v.ctx.Esp
	v.regs[ArmRegPC] = v.ctx.Eip
	v.cpsr = v.ctx.Eflags
}

func (v *ArmVm) RunOneInstruction() bool {
	if !v.stepAllowed() {
		return false
	}
	// A partial trailing word counts as end of payload too.
	pc := v.regs[ArmRegPC]
	if pc >= uint32(len(v.payload)) || uint32(len(v.payload))-pc < ArmInstrSize {
		v.raise(ExceptionEvent{Kind: ExceptionPayloadEnd, PC: uint64(pc)})
		v.Stop()
		return false
	}

	instr := v.readInstruction(pc)
	v.execute(instr)

	v.regs[ArmRegPC] += ArmInstrSize
	v.instructionCount++

	if v.instructionCount >= v.resourceLimit {
		vmLog.Infof("arm vm %d reached resource limit %d", v.id, v.resourceLimit)
		v.pauseAndSave()
		return false
	}
	return true
}

func (v *ArmVm) RunOneSlice() bool { return runOneSlice(v) }

// readInstruction fetches one endianness-aware 32-bit word. The caller has
// already checked that a full word is available.
func (v *ArmVm) readInstruction(addr uint32) uint32 {
	word := v.payload[addr : addr+ArmInstrSize]
	if v.bigEndian {
		return binary.BigEndian.Uint32(word)
	}
	return binary.LittleEndian.Uint32(word)
}

func (v *ArmVm) execute(instr uint32) {
	if (instr>>25)&0x7 == armBranchClass {
		// The branch target is NOT the 12-bit immediate field: the offset
		// occupies the low 24 bits of the whole instruction word, as a
		// signed word count. The fixed +4 advance still applies afterwards.
		v.regs[ArmRegPC] += uint32(armBranchByteOffset(instr))
		return
	}

	opcode := (instr >> 21) & 0xF
	rn := (instr >> 16) & 0xF
	rd := (instr >> 12) & 0xF
	imm := instr & 0xFFF

	switch opcode {
	case ArmOpAnd:
		v.setRegister(rd, v.register(rn)&imm)
		v.updateCpsr(v.register(rd))
	case ArmOpEor:
		v.setRegister(rd, v.register(rn)^imm)
		v.updateCpsr(v.register(rd))
	case ArmOpSub:
		v.setRegister(rd, v.register(rn)-imm)
		v.updateCpsr(v.register(rd))
	case ArmOpAdd:
		v.setRegister(rd, v.register(rn)+imm)
		v.updateCpsr(v.register(rd))
	case ArmOpAdc:
		carry := uint32(0)
		if v.cpsr&CpsrC != 0 {
			carry = 1
		}
		v.setRegister(rd, v.register(rn)+imm+carry)
		v.updateCpsr(v.register(rd))
	case ArmOpMov:
		v.setRegister(rd, imm)
		v.updateCpsr(v.register(rd))
	default:
		v.raise(ExceptionEvent{Kind: ExceptionUnknownOpcode, PC: uint64(v.regs[ArmRegPC]), Opcode: instr})
	}
}

// armBranchByteOffset sign-extends the low 24 bits of the full instruction
// word and converts the word count to a byte count.
func armBranchByteOffset(instr uint32) int32 {
	return (int32(instr<<8) >> 8) * ArmInstrSize
}

func (v *ArmVm) register(n uint32) uint32 {
	return v.regs[n&0xF]
}

func (v *ArmVm) setRegister(n, value uint32) {
	v.regs[n&0xF] = value
}

// updateCpsr recomputes the negative and zero flags from a result.
// Carry and overflow are not modeled for the immediate-only subset.
func (v *ArmVm) updateCpsr(result uint32) {
	v.cpsr &^= uint32(CpsrN | CpsrZ | CpsrC | CpsrV)
	if result&0x80000000 != 0 {
		v.cpsr |= CpsrN
	}
	if result == 0 {
		v.cpsr |= CpsrZ
	}
}
