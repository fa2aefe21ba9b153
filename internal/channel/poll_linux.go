package channel

import "golang.org/x/sys/unix"

// TIOCINQ is Linux's name for FIONREAD; on a pipe it reports the unread byte count.
const bytesReadableReq = unix.TIOCINQ
