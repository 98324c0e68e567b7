// context_snapshot_test.go

package main

import "testing"

func TestContextSnapshot_RoundTrip(t *testing.T) {
	vm := NewArmVm(7, false)
	vm.regs[0] = 0xAABBCCDD
	vm.regs[ArmRegPC] = 0x40
	vm.cpsr = CpsrZ
	vm.SaveContext()

	data, err := MarshalContext(SnapshotOf(vm))
	if err != nil {
		t.Fatalf("MarshalContext: %v", err)
	}
	snap, err := UnmarshalContext(data)
	if err != nil {
		t.Fatalf("UnmarshalContext: %v", err)
	}

	if snap.VmID != 7 || snap.Arch != ArchArm {
		t.Fatalf("identity wrong: id=%d arch=%s", snap.VmID, snap.Arch)
	}
	if snap.Context.Eax != 0xAABBCCDD || snap.Context.Eip != 0x40 || snap.Context.Eflags != CpsrZ {
		t.Fatalf("context wrong: %+v", snap.Context)
	}
}

func TestContextSnapshot_CrossVariantImport(t *testing.T) {
	src := NewX86Vm(1)
	src.regs.Eax = 0x11223344
	src.regs.Stack[0] = 0x99
	src.SaveContext()

	data, err := MarshalContext(SnapshotOf(src))
	if err != nil {
		t.Fatalf("MarshalContext: %v", err)
	}
	snap, err := UnmarshalContext(data)
	if err != nil {
		t.Fatalf("UnmarshalContext: %v", err)
	}

	dst := NewArmVm(2, false)
	dst.SetContext(snap.Context)
	dst.LoadContext()
	if dst.regs[0] != 0x11223344 {
		t.Fatalf("r0 = %#x after import, want 0x11223344", dst.regs[0])
	}
}

func TestContextSnapshot_Deterministic(t *testing.T) {
	vm := NewX64Vm(3)
	vm.rax = 0x123456789ABCDEF0
	vm.SaveContext()

	a, err := MarshalContext(SnapshotOf(vm))
	if err != nil {
		t.Fatalf("MarshalContext: %v", err)
	}
	b, err := MarshalContext(SnapshotOf(vm))
	if err != nil {
		t.Fatalf("MarshalContext: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical encoding not deterministic")
	}
}

func TestContextSnapshot_BadInput(t *testing.T) {
	if _, err := UnmarshalContext([]byte{0xFF, 0x00}); err == nil {
		t.Fatalf("garbage bytes accepted")
	}

	snap := SnapshotOf(NewX86Vm(1))
	snap.Version = 99
	data, err := cborEncMode.Marshal(&snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := UnmarshalContext(data); err == nil {
		t.Fatalf("future snapshot version accepted")
	}
}
