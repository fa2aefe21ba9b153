package channel

// FIONREAD, _IOR('f', 127, int). x/sys/unix does not export it for darwin.
const bytesReadableReq = 0x4004667f
