// Command pmlinit is the kernel's hosted entry point: the Go-level
// stand-in for kernel/chentry.go's role once control has already
// passed from boot glue into package boot's Boot sequence. It wires a
// real host file as the root device, a host-memory-backed Ram_i/
// Frames_i pair as physical memory, and runs the fork-of-init chain.
package main

import (
	"flag"
	"fmt"
	"os"

	"pml/src/boot"
	"pml/src/defs"
	"pml/src/physmem"
	"pml/src/proc"
	"pml/src/stats"
	"pml/src/vm"
)

// hostRam backs vm.Ram_i with a flat host byte slice standing in for
// identity-mapped physical RAM, the same role the teacher's boot-time
// huge-page identity map plays before any real MMU is involved.
type hostRam struct {
	mem []byte
}

func (r *hostRam) Dmap(pa physmem.Pa_t) []byte {
	off := int(pa)
	if off < 0 || off+physmem.PGSIZE > len(r.mem) {
		panic("hostRam: out of range")
	}
	return r.mem[off : off+physmem.PGSIZE]
}

// noopLoader stands in for boot.Loader_i until a real ELF loader is
// written against this kernel's own vm package; it always fails so
// Boot's candidate-path fallback chain is exercised end-to-end without
// claiming to execute anything.
type noopLoader struct{}

func (noopLoader) Exec(p *proc.Process_t, path string) defs.Err_t {
	return defs.ENOENT
}

func main() {
	rootImg := flag.String("root", "", "path to a root filesystem image built by mkfs")
	cmdline := flag.String("cmdline", "", "boot command line (root=name ...)")
	memMB := flag.Int("mem", 64, "simulated physical memory size in MiB")
	statsDump := flag.Bool("statsdump", false, "print a stats/limits/heap-profile dump before exiting")
	flag.Parse()

	if *rootImg == "" {
		fmt.Fprintln(os.Stderr, "pmlinit: -root is required")
		os.Exit(1)
	}

	cl := boot.ParseCmdline(*cmdline)
	if _, ok := cl["root"]; !ok {
		cl["root"] = "root"
	}

	devices := boot.NewDeviceTable(map[string]string{"root": *rootImg})
	seq := &boot.Sequence_t{Devices: devices, Loader: noopLoader{}}

	ramBytes := *memMB * 1024 * 1024
	ram := &hostRam{mem: make([]byte, ramBytes)}
	frames := physmem.MkAllocator(0, physmem.Pa_t(ramBytes), nil, ram.Dmap)

	init, err := boot.Boot(cl, seq, func() (vm.Ram_i, vm.Frames_i) {
		return ram, frames
	})
	if err != 0 {
		fmt.Fprintf(os.Stderr, "pmlinit: boot failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pmlinit: init running as pid %d\n", init.Pid)

	if *statsDump {
		fmt.Print(stats.Dump(nil))
	}
}
