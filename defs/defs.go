// Package defs holds the error-code and identifier conventions shared
// across the VM core, mirroring the teacher kernel's negative-int
// errno convention instead of idiomatic Go error values in the hot
// paths that must cross the page-fault/syscall boundary.
package defs

// Err_t is a syscall-style error code: zero is success, a negative
// value identifies the failure kind. The magnitude matches the
// errno-like constants below so call sites read as "-defs.EFAULT".
type Err_t int

// Error constants used by the VM core. Only the subset named in
// spec.md §7 is represented; values are arbitrary but stable within
// this module.
const (
	EFAULT        Err_t = 1
	ENOMEM        Err_t = 2
	ENOHEAP       Err_t = 3
	EINVAL        Err_t = 4
	ENAMETOOLONG  Err_t = 5
	EEXIST        Err_t = 6
	ENOSPC        Err_t = 7
	ESHORT        Err_t = 8
)

// MapFailed is the sentinel mapid returned by a failed mmap call.
const MapFailed int = -1

// Tid_t identifies the faulting thread/process for diagnostics.
type Tid_t int
