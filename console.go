// console.go - Interactive shell driving the registry and scheduler

package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
)

var conLog = commonlog.GetLogger("vmkern.console")

// Console is a line-oriented shell over the registry, scheduler and
// performance monitor. It reads commands from in and writes results to out;
// the prompt is shown only in interactive mode so scripted input stays
// clean.
type Console struct {
	reg   *VmRegistry
	sched *Scheduler
	perf  *PerfMonitor
	cfg   *Config

	in          io.Reader
	out         io.Writer
	interactive bool
}

func NewConsole(reg *VmRegistry, sched *Scheduler, perf *PerfMonitor, cfg *Config, in io.Reader, out io.Writer, interactive bool) *Console {
	return &Console{reg: reg, sched: sched, perf: perf, cfg: cfg, in: in, out: out, interactive: interactive}
}

// Run processes commands until quit or end of input.
func (c *Console) Run() error {
	scanner := bufio.NewScanner(c.in)
	for {
		if c.interactive {
			fmt.Fprint(c.out, "vmkern> ")
		}
		if !scanner.Scan() {
			break
		}
		if c.Execute(scanner.Text()) {
			break
		}
	}
	return scanner.Err()
}

// Execute runs one command line and reports whether the session should end.
func (c *Console) Execute(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "create":
		err = c.cmdCreate(args)
	case "list":
		c.cmdList()
	case "remove":
		err = c.cmdRemove(args)
	case "load":
		err = c.cmdLoad(args)
	case "gen":
		err = c.cmdGen(args)
	case "start":
		err = c.withVm(args, func(vm VmInstance) error { return vm.Start() })
	case "pause":
		err = c.withVm(args, func(vm VmInstance) error { return vm.Pause() })
	case "resume":
		err = c.withVm(args, func(vm VmInstance) error { return vm.Resume() })
	case "stop":
		err = c.withVm(args, func(vm VmInstance) error { vm.Stop(); return nil })
	case "step":
		err = c.cmdStep(args)
	case "slice":
		err = c.cmdSlice(args)
	case "ctx":
		err = c.cmdCtx(args)
	case "limit":
		err = c.cmdLimit(args)
	case "usage":
		err = c.cmdUsage(args)
	case "perf":
		fmt.Fprint(c.out, c.perf.Report())
	case "sched":
		err = c.cmdSched(args)
	case "quit", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `commands:
  create <x86|arm|armbe|x64>         create a vm, print its id
  list                               list vms
  remove <id>                        force-stop and drop a vm
  load <id> <file>                   attach a payload file
  gen <id>                           attach a generated demo payload
  start|pause|resume|stop <id>       vm lifecycle
  step <id> [n]                      run n instructions (default 1)
  slice <id>                         run one slice
  ctx show <id>                      print register slots
  ctx export <id>                    print context snapshot as hex
  ctx import <id> <hex>              load a snapshot into a vm
  limit <id> <n>                     set resource limit
  usage <id>                         print instruction count
  perf                               print performance report
  sched start|stop                   scheduler loop control
  sched add <id> [prio]              dynamic admission
  sched bind <id> <core>             static core binding
  sched unbind <id>                  release static binding
  sched stats                        scheduler statistics
  sched core <id>                    one core's lock status
  quit
`)
}

func (c *Console) parseID(arg string) (uint32, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad vm id %q", arg)
	}
	return uint32(n), nil
}

func (c *Console) lookup(arg string) (VmInstance, error) {
	id, err := c.parseID(arg)
	if err != nil {
		return nil, err
	}
	vm := c.reg.Get(id)
	if vm == nil {
		return nil, fmt.Errorf("no vm %d", id)
	}
	return vm, nil
}

func (c *Console) withVm(args []string, fn func(VmInstance) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: <id>")
	}
	vm, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	return fn(vm)
}

func (c *Console) cmdCreate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: create <x86|arm|armbe|x64>")
	}
	arch, bigEndian := args[0], false
	if arch == "armbe" {
		arch, bigEndian = ArchArm, true
	}
	vm, err := c.reg.Create(arch)
	if err != nil {
		return err
	}
	if bigEndian {
		vm.(*ArmVm).SetEndianness(true)
	}
	vm.SetResourceLimit(c.cfg.DefaultResourceLimit)
	fmt.Fprintf(c.out, "vm %d (%s)\n", vm.VmID(), vm.Arch())
	return nil
}

func (c *Console) cmdList() {
	for _, vm := range c.reg.List() {
		state := "idle"
		switch {
		case vm.Running():
			state = "running"
		case vm.Stopped():
			state = "stopped"
		}
		fmt.Fprintf(c.out, "vm %d  %-4s %-8s payload=%d bytes  executed=%d\n",
			vm.VmID(), vm.Arch(), state, len(vm.Payload()), vm.ResourceUsage())
	}
}

func (c *Console) cmdRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: remove <id>")
	}
	id, err := c.parseID(args[0])
	if err != nil {
		return err
	}
	if !c.reg.Remove(id) {
		return fmt.Errorf("no vm %d", id)
	}
	return nil
}

func (c *Console) cmdLoad(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected: load <id> <file>")
	}
	vm, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	data, err := LoadPayload(args[1])
	if err != nil {
		return err
	}
	vm.SetPayload(data)
	fmt.Fprintf(c.out, "loaded %d bytes into vm %d\n", len(data), vm.VmID())
	return nil
}

func (c *Console) cmdGen(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected: gen <id>")
	}
	vm, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	bigEndian := false
	if arm, ok := vm.(*ArmVm); ok {
		bigEndian = arm.BigEndian()
	}
	data, err := BuildPayload(vm.Arch(), bigEndian)
	if err != nil {
		return err
	}
	vm.SetPayload(data)
	fmt.Fprintf(c.out, "generated %d bytes for vm %d\n", len(data), vm.VmID())
	return nil
}

func (c *Console) cmdStep(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("expected: step <id> [n]")
	}
	vm, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	n := 1
	if len(args) == 2 {
		if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
			return fmt.Errorf("bad count %q", args[1])
		}
	}
	executed := 0
	for i := 0; i < n; i++ {
		if !vm.RunOneInstruction() {
			break
		}
		executed++
	}
	fmt.Fprintf(c.out, "executed %d instruction(s)\n", executed)
	return nil
}

func (c *Console) cmdSlice(args []string) error {
	return c.withVm(args, func(vm VmInstance) error {
		c.perf.Begin(vm)
		ran := vm.RunOneSlice()
		c.perf.End(vm)
		fmt.Fprintf(c.out, "slice ran: %v\n", ran)
		return nil
	})
}

func (c *Console) cmdCtx(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("expected: ctx show|export|import <id> ...")
	}
	vm, err := c.lookup(args[1])
	if err != nil {
		return err
	}
	switch args[0] {
	case "show":
		vm.SaveContext()
		ctx := vm.Context()
		fmt.Fprintf(c.out, "eax=%08x ebx=%08x ecx=%08x edx=%08x\n", ctx.Eax, ctx.Ebx, ctx.Ecx, ctx.Edx)
		fmt.Fprintf(c.out, "esi=%08x edi=%08x ebp=%08x esp=%08x\n", ctx.Esi, ctx.Edi, ctx.Ebp, ctx.Esp)
		fmt.Fprintf(c.out, "eip=%08x eflags=%08x\n", ctx.Eip, ctx.Eflags)
		return nil
	case "export":
		vm.SaveContext()
		data, err := MarshalContext(SnapshotOf(vm))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s\n", hex.EncodeToString(data))
		return nil
	case "import":
		if len(args) != 3 {
			return fmt.Errorf("expected: ctx import <id> <hex>")
		}
		data, err := hex.DecodeString(args[2])
		if err != nil {
			return fmt.Errorf("bad hex snapshot: %w", err)
		}
		snap, err := UnmarshalContext(data)
		if err != nil {
			return err
		}
		vm.SetContext(snap.Context)
		vm.LoadContext()
		conLog.Infof("imported %s context from vm %d into vm %d", snap.Arch, snap.VmID, vm.VmID())
		return nil
	}
	return fmt.Errorf("unknown ctx subcommand %q", args[0])
}

func (c *Console) cmdLimit(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected: limit <id> <n>")
	}
	vm, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil || n == 0 {
		return fmt.Errorf("bad limit %q", args[1])
	}
	vm.SetResourceLimit(uint32(n))
	return nil
}

func (c *Console) cmdUsage(args []string) error {
	return c.withVm(args, func(vm VmInstance) error {
		fmt.Fprintf(c.out, "vm %d executed %d instruction(s)\n", vm.VmID(), vm.ResourceUsage())
		return nil
	})
}

func (c *Console) cmdSched(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected: sched start|stop|add|bind|unbind|stats|core ...")
	}
	switch args[0] {
	case "start":
		return c.sched.Start()
	case "stop":
		c.sched.Stop()
		return nil
	case "add":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("expected: sched add <id> [prio]")
		}
		vm, err := c.lookup(args[1])
		if err != nil {
			return err
		}
		prio := c.cfg.DefaultPriority
		if len(args) == 3 {
			if prio, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("bad priority %q", args[2])
			}
		}
		return c.sched.AddVm(vm, prio)
	case "bind":
		if len(args) != 3 {
			return fmt.Errorf("expected: sched bind <id> <core>")
		}
		id, err := c.parseID(args[1])
		if err != nil {
			return err
		}
		core, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad core %q", args[2])
		}
		return c.sched.ApplyStaticCore(id, core)
	case "unbind":
		if len(args) != 2 {
			return fmt.Errorf("expected: sched unbind <id>")
		}
		id, err := c.parseID(args[1])
		if err != nil {
			return err
		}
		return c.sched.ReleaseStaticCore(id)
	case "stats":
		stats := c.sched.Statistics()
		fmt.Fprintf(c.out, "cores=%d usable=%d static=%d queued=%d\n",
			stats.TotalCores, stats.UsableCores, stats.StaticCount, stats.QueueDepth)
		for _, core := range stats.Cores {
			if core.Locked {
				fmt.Fprintf(c.out, "core %d locked by vm %d\n", core.CoreID, core.BoundVmID)
			}
		}
		return nil
	case "core":
		if len(args) != 2 {
			return fmt.Errorf("expected: sched core <id>")
		}
		core, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad core %q", args[1])
		}
		st, err := c.sched.CoreStatusOf(core)
		if err != nil {
			return err
		}
		if st.Locked {
			fmt.Fprintf(c.out, "core %d locked by vm %d\n", st.CoreID, st.BoundVmID)
		} else {
			fmt.Fprintf(c.out, "core %d unlocked\n", st.CoreID)
		}
		return nil
	}
	return fmt.Errorf("unknown sched subcommand %q", args[0])
}
