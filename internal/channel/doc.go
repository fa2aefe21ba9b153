// Package channel implements the duplex link between the pool manager and one worker process.
//
// A link is two one-directional OS pipes. The worker side is handed to the child as its
// stdin/stdout and uses plain blocking reads and writes of fixed-size records. The manager side
// (Duplex) never blocks waiting on a worker: it asks how many response bytes are buffered
// (FIONREAD) and only reads once a full record is known to be there.
//
// Manager ends are created close-on-exec and are never inherited by any child; the worker ends
// are dup'ed onto fd 0/1 of the child by os/exec and closed in the parent right after spawn.
package channel
