// vm_context.go - Shared architectural context used to pause/resume VM variants

package main

const (
	// ContextStackWords is the size of the context-embedded stack buffer.
	ContextStackWords = 1024

	// ContextWordBytes is the width of one context slot in bytes.
	ContextWordBytes = 4

	// ContextStackBytes is the byte span addressable through Esp.
	ContextStackBytes = ContextStackWords * ContextWordBytes
)

// VmContext is the fixed-shape register snapshot shared by every VM variant.
// It is the only format used to move register state across a pause/resume
// boundary, regardless of which architecture produced it. The slot names
// follow the narrow variant's register file; other architectures define a
// total, reversible mapping into these ten 32-bit slots (see each variant's
// SaveContext/LoadContext). The struct is a plain value: whole-struct
// assignment copies the stack buffer too, which is exactly the semantics
// SaveContext/LoadContext need.
type VmContext struct {
	Eax    uint32
	Ebx    uint32
	Ecx    uint32
	Edx    uint32
	Esi    uint32
	Edi    uint32
	Ebp    uint32
	Esp    uint32
	Eip    uint32
	Eflags uint32

	Stack [ContextStackWords]uint32
}
