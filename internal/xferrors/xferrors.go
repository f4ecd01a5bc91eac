// Package xferrors supplies the error taxonomy shared by the sender and
// receiver engines: context-wrapped causes via pkg/errors, and aggregated
// shutdown errors via go-multierror, mirroring the reference
// implementation's goto_trace/trace_error convention of always naming
// what failed and why.
package xferrors

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrConnectionAborted is returned when a transfer is abandoned: the
// sender exhausted its go-back-N retransmission budget, the receiver saw
// no I/O activity for its idle time, or the receiver wrote only part of a
// chunk to its output. It is distinct from a plain I/O error on the socket.
var ErrConnectionAborted = errors.New("connection aborted: retry budget exhausted")

// ErrPeerGone is returned by the receiver when the peer is still
// retransmitting after every linger-phase re-send of the final ACK has been
// used up. A linger poll that times out with no traffic ends the transfer
// successfully instead.
var ErrPeerGone = errors.New("peer did not acknowledge completion before linger expired")

// Wrap annotates err with a context message, or returns nil if err is nil.
func Wrap(err error, context string) error {
	return errors.Wrap(err, context)
}

// Wrapf annotates err with a formatted context message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Aborted reports whether err is, or wraps, ErrConnectionAborted.
func Aborted(err error) bool {
	return errors.Is(err, ErrConnectionAborted)
}

// Shutdown accumulates independent failures observed while tearing down a
// session (closing the socket, flushing the output file, stopping the
// metrics server) so none of them is silently lost.
type Shutdown struct {
	errs *multierror.Error
}

// Add records err, if non-nil, against the shutdown sequence.
func (s *Shutdown) Add(err error) {
	if err == nil {
		return
	}
	s.errs = multierror.Append(s.errs, err)
}

// Err returns the aggregated error, or nil if nothing was recorded.
func (s *Shutdown) Err() error {
	if s.errs == nil {
		return nil
	}
	return s.errs.ErrorOrNil()
}
