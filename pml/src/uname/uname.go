// Package uname implements the uname(2) surface named in component M:
// a fixed struct utsname image describing this kernel. Grounded on
// stat.Stat_t's fixed-width-field-behind-a-byte-buffer idiom.
package uname

// field width matches struct utsname's 65-byte, NUL-padded char
// arrays on Linux/amd64.
const fieldLen = 65

// Release and Version are var, not const, so a build can stamp them;
// otherwise they keep the defaults below.
var (
	Release = "1.0.0"
	Version = "#1"
)

func putField(buf []uint8, off int, s string) {
	n := copy(buf[off:off+fieldLen], s)
	for i := off + n; i < off+fieldLen; i++ {
		buf[i] = 0
	}
}

// Bytes renders struct utsname: sysname, nodename, release, version,
// machine, domainname, six fixed 65-byte fields.
func Bytes(nodename string) []uint8 {
	buf := make([]uint8, 6*fieldLen)
	putField(buf, 0*fieldLen, "PML")
	putField(buf, 1*fieldLen, nodename)
	putField(buf, 2*fieldLen, Release)
	putField(buf, 3*fieldLen, Version)
	putField(buf, 4*fieldLen, "x86_64")
	putField(buf, 5*fieldLen, "(none)")
	return buf
}
