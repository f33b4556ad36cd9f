package stats

import "bytes"
import "fmt"
import "reflect"
import "runtime/pprof"
import "sync/atomic"
import "strconv"
import "strings"
import "time"
import "unsafe"

import gpprof "github.com/google/pprof/profile"

import "pml/src/limits"

const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

/// Rdtsc returns a monotonic counter standing in for a cycle count: the
/// teacher reads the TSC directly, which a hosted kernel has no access
/// to, so wall-clock nanoseconds serve the same "elapsed work" role for
/// the disabled-by-default stats this gates.
func Rdtsc() uint64 {
	if Stats {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds a cycle count.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed cycles to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}

	}
	return s + "\n"
}

// Dump renders the kernel-wide `/proc`-style stats dump: counter stats
// (if any were passed in), the current resource-limit budgets
// (component M's Syslimit), and a heap profile summary. Grounded on
// the teacher's Callerdump-adjacent debug dump commands, generalized
// from a single counters struct to the fuller picture a hosted kernel
// can actually gather.
func Dump(counters interface{}) string {
	var b strings.Builder
	b.WriteString("stats:\n")
	if counters != nil {
		b.WriteString(Stats2String(counters))
	}
	b.WriteString("limits:\n")
	fmt.Fprintf(&b, "\tsysprocs=%d vnodes=%d futexes=%d pipes=%d icache=%d blocks=%d\n",
		limits.Syslimit.Sysprocs, limits.Syslimit.Vnodes, limits.Syslimit.Futexes,
		limits.Syslimit.Pipes, limits.Syslimit.Icache, limits.Syslimit.Blocks)
	if prof, err := HeapProfileSummary(); err == nil {
		b.WriteString("heap profile:\n")
		b.WriteString(prof)
	}
	return b.String()
}

// HeapProfileSummary captures the current Go heap profile via the
// standard library's runtime/pprof and decodes it with
// github.com/google/pprof's profile package, the ecosystem's
// canonical reader/writer for the pprof wire format, rendering one
// line per sample type and its total value. This is the "pprof
// profile dump hook" the stats dump advertises: runtime/pprof does the
// capture, google/pprof does the parse-and-summarize.
func HeapProfileSummary() (string, error) {
	var buf bytes.Buffer
	if err := pprof.WriteHeapProfile(&buf); err != nil {
		return "", err
	}
	prof, err := gpprof.Parse(&buf)
	if err != nil {
		return "", err
	}
	var s strings.Builder
	for i, st := range prof.SampleType {
		var total int64
		for _, sample := range prof.Sample {
			if i < len(sample.Value) {
				total += sample.Value[i]
			}
		}
		fmt.Fprintf(&s, "\t%s/%s: %d\n", st.Type, st.Unit, total)
	}
	return s.String(), nil
}
