package defs

// Err_t is the kernel-wide errno type. Kernel helpers return an Err_t
// (0 ok, a positive errno value on failure), alone or alongside a
// pointer/slice result; the value is passed back to callers as it is.
type Err_t int

// Errno values. Numeric assignments mirror the POSIX values a hosted
// Linux/amd64 errno.h uses so that a syscall shim can hand them to user
// code unchanged.
const (
	EPERM           Err_t = 1
	ENOENT          Err_t = 2
	ESRCH           Err_t = 3
	EINTR           Err_t = 4
	EIO             Err_t = 5
	ENXIO           Err_t = 6
	E2BIG           Err_t = 7
	EBADF           Err_t = 9
	ECHILD          Err_t = 10
	EAGAIN          Err_t = 11
	ENOMEM          Err_t = 12
	EACCES          Err_t = 13
	EFAULT          Err_t = 14
	ENOTBLK         Err_t = 15
	EBUSY           Err_t = 16
	EEXIST          Err_t = 17
	EXDEV           Err_t = 18
	ENOTDIR         Err_t = 20
	EISDIR          Err_t = 21
	EINVAL          Err_t = 22
	ENFILE          Err_t = 23
	EMFILE          Err_t = 24
	ENOTTY          Err_t = 25
	EFBIG           Err_t = 27
	ENOSPC          Err_t = 28
	ESPIPE          Err_t = 29
	EROFS           Err_t = 30
	EMLINK          Err_t = 31
	EPIPE           Err_t = 32
	ENAMETOOLONG    Err_t = 36
	ENOSYS          Err_t = 38
	ENOTEMPTY       Err_t = 39
	ELOOP           Err_t = 40
	ENOTSUP         Err_t = 95
	EDQUOT          Err_t = 122
	EUCLEAN         Err_t = 117
)

// String renders the error the way a kernel panic/log message would.
func (e Err_t) String() string {
	if n, ok := errnames[e]; ok {
		return n
	}
	return "unknown errno"
}

var errnames = map[Err_t]string{
	EPERM: "EPERM", ENOENT: "ENOENT", ESRCH: "ESRCH", EINTR: "EINTR",
	EIO: "EIO", ENXIO: "ENXIO", E2BIG: "E2BIG", EBADF: "EBADF",
	ECHILD: "ECHILD", EAGAIN: "EAGAIN", ENOMEM: "ENOMEM", EACCES: "EACCES",
	EFAULT: "EFAULT", ENOTBLK: "ENOTBLK", EBUSY: "EBUSY", EEXIST: "EEXIST",
	EXDEV: "EXDEV", ENOTDIR: "ENOTDIR", EISDIR: "EISDIR", EINVAL: "EINVAL",
	ENFILE: "ENFILE", EMFILE: "EMFILE", ENOTTY: "ENOTTY", EFBIG: "EFBIG",
	ENOSPC: "ENOSPC", ESPIPE: "ESPIPE", EROFS: "EROFS", EMLINK: "EMLINK",
	EPIPE: "EPIPE", ENAMETOOLONG: "ENAMETOOLONG", ENOSYS: "ENOSYS",
	ENOTEMPTY: "ENOTEMPTY", ELOOP: "ELOOP", ENOTSUP: "ENOTSUP",
	EDQUOT: "EDQUOT", EUCLEAN: "EUCLEAN",
}

// Pid_t, Tid_t identify processes and threads. The first thread of a
// process has a Tid_t numerically equal to its Pid_t.
type Pid_t int
type Tid_t int

// Open/mmap/wait flags named by the syscall surface in spec.md §6.
const (
	O_RDONLY    = 0x0
	O_WRONLY    = 0x1
	O_RDWR      = 0x2
	O_CREAT     = 0x40
	O_EXCL      = 0x80
	O_NOFOLLOW  = 0x100
	O_TRUNC     = 0x200
	O_APPEND    = 0x400
	O_DIRECTORY = 0x10000
	O_CLOEXEC   = 0x80000

	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2

	PROT_NONE  = 0x0
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4

	MAP_SHARED    = 0x1
	MAP_PRIVATE   = 0x2
	MAP_FIXED     = 0x10
	MAP_ANONYMOUS = 0x20

	MS_ASYNC = 0x1
	MS_SYNC  = 0x4

	WNOHANG = 0x1

	NSIG = 64
)

// Nice/priority bound used by getpriority/setpriority per §6.
const (
	PRIO_MIN = -20
	PRIO_MAX = 19
)
