// Package netio provides the readiness multiplexer and socket setup the
// protocol engines are built around: a thin wrapper over unix.Poll (the
// direct analogue of the reference implementation's poll(2) loop) plus
// IPv6-only UDP socket open/bind/connect helpers.
package netio

import (
	"golang.org/x/sys/unix"
)

// Ready flags, mirroring POLLIN/POLLOUT/POLLERR/POLLHUP so callers can
// reason about readiness the same way the reference implementation does.
const (
	ReadyIn  = unix.POLLIN
	ReadyOut = unix.POLLOUT
	ReadyErr = unix.POLLERR | unix.POLLHUP
)

// Fd names a file descriptor being watched and the events requested for it.
type Fd struct {
	FD     int
	Events int16
}

// Poller waits for readiness across a small, fixed set of descriptors with
// a single timeout, exactly like a pollfd array passed to poll(2). It is
// the protocol engines' only suspension point per loop iteration.
type Poller struct {
	fds []unix.PollFd
}

// NewPoller builds a poller over the given descriptors, in order. The slice
// layout is reused across calls to Wait so callers can toggle which
// descriptors are actually polled by passing a smaller n to Wait.
func NewPoller(fds ...Fd) *Poller {
	p := &Poller{fds: make([]unix.PollFd, len(fds))}
	for i, fd := range fds {
		p.fds[i] = unix.PollFd{Fd: int32(fd.FD), Events: fd.Events}
	}
	return p
}

// Wait blocks until one of the first n descriptors is ready or timeoutMs
// elapses (a negative timeout blocks forever). It returns the number of
// ready descriptors (0 on timeout) or an error.
func (p *Poller) Wait(n int, timeoutMs int) (int, error) {
	for i := range p.fds {
		p.fds[i].Revents = 0
	}
	return unix.Poll(p.fds[:n], timeoutMs)
}

// Revents reports the events observed ready on descriptor index i after the
// last Wait call.
func (p *Poller) Revents(i int) int16 {
	return p.fds[i].Revents
}
