package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/cockroachdb/errors"
)

type profiles struct {
	cpu, mem, block, mutex, trace string
}

// start enables the requested profilers and returns the function that writes
// the remaining profiles and stops the running ones.
func (p profiles) start() (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if p.block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if p.mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}

	if p.cpu != "" {
		f, err := os.Create(p.cpu)
		if err != nil {
			return stop, errors.Wrap(err, "could not create CPU profile")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return stop, errors.Wrap(err, "could not start CPU profile")
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
		fmt.Printf("🔍 CPU profiling enabled: %s\n", p.cpu)
	}

	if p.trace != "" {
		f, err := os.Create(p.trace)
		if err != nil {
			stop()
			return func() {}, errors.Wrap(err, "could not create trace file")
		}
		if err := trace.Start(f); err != nil {
			f.Close()
			stop()
			return func() {}, errors.Wrap(err, "could not start trace")
		}
		stops = append(stops, func() {
			trace.Stop()
			f.Close()
		})
		fmt.Printf("🔍 Execution trace enabled: %s\n", p.trace)
	}

	return func() {
		p.writeHeap()
		writeLookup("block", p.block)
		writeLookup("mutex", p.mutex)
		stop()
	}, nil
}

func (p profiles) writeHeap() {
	if p.mem == "" {
		return
	}
	f, err := os.Create(p.mem)
	if err != nil {
		fmt.Printf("❌ Could not create memory profile: %v\n", err)
		return
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		fmt.Printf("❌ Could not write memory profile: %v\n", err)
		return
	}
	fmt.Printf("📊 Memory profile written to: %s\n", p.mem)
}

func writeLookup(name, path string) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Printf("❌ Could not create %s profile: %v\n", name, err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		fmt.Printf("❌ Could not write %s profile: %v\n", name, err)
		return
	}
	fmt.Printf("📊 %s profile written to: %s\n", name, path)
}
