// context_snapshot.go - CBOR wire format for architectural context snapshots

package main

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotVersion guards against decoding snapshots from a future layout.
const SnapshotVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ContextSnapshot is the exportable form of a VM's architectural context.
// It carries enough identity for a console session to export a context from
// one VM and import it into another of any architecture: the ten slots plus
// the stack are the common currency all three variants transcode through.
type ContextSnapshot struct {
	Version uint8     `cbor:"v"`
	VmID    uint32    `cbor:"id"`
	Arch    string    `cbor:"arch"`
	Context VmContext `cbor:"ctx"`
}

// SnapshotOf captures a VM's current persisted context. Callers that want
// live register state should SaveContext first.
func SnapshotOf(vm VmInstance) ContextSnapshot {
	return ContextSnapshot{
		Version: SnapshotVersion,
		VmID:    vm.VmID(),
		Arch:    vm.Arch(),
		Context: vm.Context(),
	}
}

// MarshalContext serializes a snapshot to canonical CBOR bytes.
func MarshalContext(s ContextSnapshot) ([]byte, error) {
	return cborEncMode.Marshal(&s)
}

// UnmarshalContext deserializes a snapshot from CBOR bytes.
func UnmarshalContext(data []byte) (ContextSnapshot, error) {
	var s ContextSnapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return ContextSnapshot{}, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	if s.Version != SnapshotVersion {
		return ContextSnapshot{}, fmt.Errorf("snapshot: unsupported version %d", s.Version)
	}
	return s, nil
}
