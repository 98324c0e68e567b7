// main.go - vmkern entry point

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	"golang.org/x/term"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "vmkern.toml", "configuration file")
	script := flag.String("script", "", "command script to run instead of the interactive shell")
	cores := flag.Int("cores", 0, "core pool size (0 = host core count)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	commonlog.Configure(cfg.Verbosity, nil)

	reg := NewVmRegistry()
	sched := NewScheduler(cfg)
	sched.Initialize(*cores)
	perf := NewPerfMonitor()

	var in io.Reader = os.Stdin
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if *script != "" {
		f, err := os.Open(*script)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening script: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
		interactive = false
	}

	console := NewConsole(reg, sched, perf, cfg, in, os.Stdout, interactive)
	runErr := console.Run()

	sched.Stop()
	reg.StopAll()

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}
