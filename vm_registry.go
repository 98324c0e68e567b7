// vm_registry.go - VM instance registry and id allocation

package main

import (
	"fmt"
	"sort"
	"sync"
)

// VmRegistry owns every VM instance created through it and hands out
// monotonically increasing ids starting at 1. The registry is the lookup
// authority for console commands; the scheduler holds its own references to
// admitted VMs and never consults the registry.
type VmRegistry struct {
	mu     sync.Mutex
	nextID uint32
	vms    map[uint32]VmInstance
}

func NewVmRegistry() *VmRegistry {
	return &VmRegistry{nextID: 1, vms: make(map[uint32]VmInstance)}
}

// Create instantiates a VM of the named architecture ("x86", "arm", "x64"),
// assigns it the next id, and registers it. ARM VMs default to little-endian;
// flip with SetEndianness on the concrete type.
func (r *VmRegistry) Create(arch string) (VmInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	var vm VmInstance
	switch arch {
	case ArchX86:
		vm = NewX86Vm(id)
	case ArchArm:
		vm = NewArmVm(id, false)
	case ArchX64:
		vm = NewX64Vm(id)
	default:
		return nil, fmt.Errorf("unknown architecture %q", arch)
	}
	vm.SetExceptionHook(LogExceptionHook)

	r.nextID++
	r.vms[id] = vm
	vmLog.Infof("created %s vm %d", arch, id)
	return vm, nil
}

// Get returns the VM with the given id, or nil when unknown.
func (r *VmRegistry) Get(id uint32) VmInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vms[id]
}

// Remove drops the VM from the registry, force-stopping it first so a
// forgotten handle cannot keep executing. Returns false when the id is
// unknown.
func (r *VmRegistry) Remove(id uint32) bool {
	r.mu.Lock()
	vm, ok := r.vms[id]
	if ok {
		delete(r.vms, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	vm.ForceStop()
	vmLog.Infof("removed vm %d", id)
	return true
}

// List returns the registered VMs ordered by id.
func (r *VmRegistry) List() []VmInstance {
	r.mu.Lock()
	out := make([]VmInstance, 0, len(r.vms))
	for _, vm := range r.vms {
		out = append(out, vm)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VmID() < out[j].VmID() })
	return out
}

// Count returns the number of registered VMs.
func (r *VmRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vms)
}

// StopAll force-stops every registered VM. Used on shutdown.
func (r *VmRegistry) StopAll() {
	for _, vm := range r.List() {
		vm.ForceStop()
	}
}
