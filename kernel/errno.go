package kernel

import "rtx/kernel/errno"

// Errno re-exports the shared error code type so task code only needs this
// package.
type Errno = errno.Errno

const (
	EINVAL   = errno.EINVAL
	EEXIST   = errno.EEXIST
	ENOENT   = errno.ENOENT
	ENOMEM   = errno.ENOMEM
	EFAULT   = errno.EFAULT
	EMSGSIZE = errno.EMSGSIZE
	ENOMSG   = errno.ENOMSG
	EPERM    = errno.EPERM
	EAGAIN   = errno.EAGAIN
	ENOSPC   = errno.ENOSPC
)
