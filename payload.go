// payload.go - Payload loading and instruction stream builders

package main

import (
	"encoding/binary"
	"fmt"
	"os"
)

// LoadPayload reads an instruction payload file.
func LoadPayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading payload %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("payload %s is empty", path)
	}
	return data, nil
}

// X86Payload builds a narrow-variant instruction stream from opcode bytes.
type X86Payload struct {
	buf []byte
}

func (p *X86Payload) Op(opcode byte) *X86Payload {
	p.buf = append(p.buf, opcode)
	return p
}

func (p *X86Payload) Bytes() []byte { return p.buf }

// BuildX86Payload emits the stock demo stream: load, arithmetic, stack
// traffic, then counter ops.
func BuildX86Payload() []byte {
	var p X86Payload
	p.Op(X86OpMov).
		Op(X86OpAdd).
		Op(X86OpPush).
		Op(X86OpInc).
		Op(X86OpPop).
		Op(X86OpSub).
		Op(X86OpDec).
		Op(X86OpNop)
	return p.Bytes()
}

// ArmPayload builds an instruction stream of 32-bit words with selectable
// byte order, matching what ArmVm.readInstruction expects.
type ArmPayload struct {
	buf       []byte
	bigEndian bool
}

func NewArmPayload(bigEndian bool) *ArmPayload {
	return &ArmPayload{bigEndian: bigEndian}
}

func (p *ArmPayload) Word(instr uint32) *ArmPayload {
	var w [4]byte
	if p.bigEndian {
		binary.BigEndian.PutUint32(w[:], instr)
	} else {
		binary.LittleEndian.PutUint32(w[:], instr)
	}
	p.buf = append(p.buf, w[:]...)
	return p
}

func (p *ArmPayload) Bytes() []byte { return p.buf }

// ArmDataProc encodes an always-condition immediate data-processing
// instruction: opcode in bits 24-21, rn in 19-16, rd in 15-12, imm12.
func ArmDataProc(opcode, rn, rd uint32, imm12 uint32) uint32 {
	return 0xE<<28 | 1<<25 | (opcode&0xF)<<21 | (rn&0xF)<<16 | (rd&0xF)<<12 | imm12&0xFFF
}

// ArmMovImm encodes MOV rd, #imm.
func ArmMovImm(rd uint32, imm12 uint32) uint32 {
	return ArmDataProc(ArmOpMov, 0, rd, imm12)
}

// ArmBranch encodes B with a signed word offset in the 24-bit field. The
// engine multiplies the field by the instruction size, so a field of 2
// branches 8 bytes forward.
func ArmBranch(wordOffset int32) uint32 {
	return 0xEA000000 | uint32(wordOffset)&0xFFFFFF
}

// BuildArmPayload emits the stock demo stream: set up r0/r1, add into r2,
// branch over two instructions, then a final move.
func BuildArmPayload(bigEndian bool) []byte {
	return NewArmPayload(bigEndian).
		Word(ArmMovImm(0, 1)).
		Word(ArmMovImm(1, 2)).
		Word(ArmDataProc(ArmOpAdd, 0, 2, 3)).
		Word(ArmBranch(2)).
		Word(ArmMovImm(4, 0xAA)).
		Word(ArmMovImm(5, 0xBB)).
		Word(ArmMovImm(6, 0xCC)).
		Bytes()
}

// BuildX64Payload emits the stock demo stream for the wide variant.
func BuildX64Payload() []byte {
	return []byte{
		X64OpRexW, X64OpMov,
		X64OpAdd,
		X64OpPush,
		X64OpInc,
		X64OpPop,
		X64OpSub,
		X64OpDec,
	}
}

// BuildPayload dispatches on architecture label.
func BuildPayload(arch string, bigEndian bool) ([]byte, error) {
	switch arch {
	case ArchX86:
		return BuildX86Payload(), nil
	case ArchArm:
		return BuildArmPayload(bigEndian), nil
	case ArchX64:
		return BuildX64Payload(), nil
	}
	return nil, fmt.Errorf("unknown architecture %q", arch)
}
