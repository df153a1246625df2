// Package errno defines the error codes returned by kernel entry points.
package errno

// Errno is a kernel error code. It implements error so entry points can
// return it directly; a nil error means success.
type Errno uint8

const (
	OK       Errno = iota
	EINVAL         // invalid argument
	EEXIST         // already exists
	ENOENT         // no such mailbox or task
	ENOMEM         // out of memory
	EFAULT         // bad address
	EMSGSIZE       // message does not fit
	ENOMSG         // no message available
	EPERM          // operation not permitted
	EAGAIN         // no free task slot
	ENOSPC         // buffer too small
)

func (e Errno) String() string {
	switch e {
	case OK:
		return "ok"
	case EINVAL:
		return "invalid argument"
	case EEXIST:
		return "already exists"
	case ENOENT:
		return "not found"
	case ENOMEM:
		return "out of memory"
	case EFAULT:
		return "bad address"
	case EMSGSIZE:
		return "message size mismatch"
	case ENOMSG:
		return "no message"
	case EPERM:
		return "permission denied"
	case EAGAIN:
		return "no free task slot"
	case ENOSPC:
		return "no space"
	default:
		return "unknown"
	}
}

func (e Errno) Error() string { return e.String() }

// Of extracts the code from an error returned by the kernel. nil maps to OK
// and foreign errors to EINVAL.
func Of(err error) Errno {
	if err == nil {
		return OK
	}
	if e, ok := err.(Errno); ok {
		return e
	}
	return EINVAL
}
