// Package boot implements component L: command-line parsing, device
// enumeration into the mount table, and the fork-of-init/execve chain
// that hands control to userspace. GDT/IDT/APIC setup and the physical
// memory map are thin platform glue spec.md excludes outright (§1's
// "deliberately out of scope" list); this package picks up immediately
// after that glue has handed off a populated Frames_i/Ram_i pair and a
// boot command line, mirroring kernel/chentry.go's role as the
// hand-off point between a build-time/boot-time step and the kernel
// proper.
package boot

import (
	"strings"

	"pml/src/defs"
	"pml/src/ext2"
	"pml/src/fd"
	"pml/src/proc"
	"pml/src/ustr"
	"pml/src/vfs"
	"pml/src/vm"
)

// Cmdline_t is the parsed boot command line: a flat key=value map, as
// spec.md §4.L's "command-line parsing" names — root=<device> and
// init=<path> are the keys the boot sequence itself consults; any other key is passed
// through for init to read via /proc/cmdline-equivalent plumbing
// outside this package's scope.
type Cmdline_t map[string]string

// ParseCmdline splits a boot command line ("root=/dev/sda1 quiet
// init=/sbin/init") into key=value pairs. A bare token (no '=') maps
// to itself with an empty value, matching how the Linux kernel treats
// flag-only arguments.
func ParseCmdline(s string) Cmdline_t {
	out := make(Cmdline_t)
	for _, tok := range strings.Fields(s) {
		if i := strings.IndexByte(tok, '='); i >= 0 {
			out[tok[:i]] = tok[i+1:]
		} else {
			out[tok] = ""
		}
	}
	return out
}

// Device_t is one enumerated block device: a name (matching spec.md's
// device_name_map) and the path boot found it at. Real bus probing
// (ATA/PCI) is the excluded platform glue; this kernel's device
// enumeration is host-file-backed, so Enumerate just globs a devices
// directory for image files.
type Device_t struct {
	Name string
	Path string
}

// DeviceTable_t is the boot-time device_name_map/device_num_map pair
// from spec.md §5's global mutable state, flattened into one map since
// this kernel's devices are named, not numbered major/minor pairs.
type DeviceTable_t struct {
	byName map[string]*Device_t
}

// NewDeviceTable builds a device table from a name->path listing
// (produced by Enumerate or, in tests, supplied directly).
func NewDeviceTable(devices map[string]string) *DeviceTable_t {
	dt := &DeviceTable_t{byName: make(map[string]*Device_t)}
	for name, path := range devices {
		dt.byName[name] = &Device_t{Name: name, Path: path}
	}
	return dt
}

// Lookup returns the device registered under name, or nil.
func (dt *DeviceTable_t) Lookup(name string) *Device_t {
	return dt.byName[name]
}

// Loader_i performs the execve half of the boot chain: given an
// already-forked process and a path, it builds the initial user
// address space and entry state and returns the thread ready to run.
// Left as a seam rather than inlined here: loading an ELF image into a
// freshly cloned Vm_t is IDT/entry-trampoline plumbing (setting up the
// initial register state a `sysret`/`iretq` consumes) that has no
// meaning without the real mode-switch code spec.md places outside
// this kernel's scope, so boot only describes the chain's shape and
// lets a hosted entry point supply the concrete loader.
type Loader_i interface {
	Exec(p *proc.Process_t, path string) defs.Err_t
}

// Sequence holds everything Boot needs to mount root and start init.
type Sequence_t struct {
	Devices *DeviceTable_t
	Loader  Loader_i
}

// Boot implements spec.md §2's boot data/control flow from "root is
// mounted" onward: resolve root= from the command line, mount it as
// ext2, construct init's address space and fd table rooted there, and
// fork+exec init (falling back through a fixed list of candidate paths,
// matching a rescue-shell-style execve chain: the init= value first when
// it is set, then /sbin/init, /bin/init and /bin/sh).
func Boot(cl Cmdline_t, seq *Sequence_t, ramFactory func() (vm.Ram_i, vm.Frames_i)) (*proc.Process_t, defs.Err_t) {
	rootName, ok := cl["root"]
	if !ok {
		return nil, defs.EINVAL
	}
	dev := seq.Devices.Lookup(rootName)
	if dev == nil {
		return nil, defs.ENXIO
	}

	rootfs, err := ext2.Mount(dev.Path)
	if err != 0 {
		return nil, err
	}

	ram, frames := ramFactory()
	vmas, err := vm.MkAddrSpace(ram, frames)
	if err != 0 {
		return nil, err
	}

	mnt, err := vfs.Mount(rootfs, ustr.MkUstrRoot())
	if err != 0 {
		return nil, err
	}
	rootFile := vfs.Open(mnt.Root())
	cwd := fd.MkRootCwd(&fd.Fd_t{Fops: rootFile, Perms: fd.FD_READ})

	init, err := proc.MkProcess(vmas, cwd)
	if err != 0 {
		return nil, err
	}
	proc.AddProcess(init)

	initPath := cl["init"]
	candidates := []string{"/sbin/init", "/bin/init", "/bin/sh"}
	if initPath != "" {
		candidates = append([]string{initPath}, candidates...)
	}
	var execErr defs.Err_t = defs.ENOENT
	for _, c := range candidates {
		if execErr = seq.Loader.Exec(init, c); execErr == 0 {
			return init, 0
		}
	}
	return nil, execErr
}
