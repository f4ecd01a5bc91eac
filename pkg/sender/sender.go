// Package sender implements the sending half of the protocol: a sliding
// send window drained by cumulative and duplicate ACKs, selective NACK
// retransmission, and a go-back-N timeout fallback, grounded on the
// reference implementation's transmit.c.
package sender

import (
	"io"

	"github.com/ventosilenzioso/gorudt/internal/metrics"
	"github.com/ventosilenzioso/gorudt/internal/netio"
	"github.com/ventosilenzioso/gorudt/internal/xferrors"
	"github.com/ventosilenzioso/gorudt/pkg/logger"
	"github.com/ventosilenzioso/gorudt/pkg/pktbuf"
	"github.com/ventosilenzioso/gorudt/pkg/wire"
)

const (
	// MaxDupAck is the number of identical ACKs that trigger a fast
	// retransmit of the oldest un-acked packet.
	MaxDupAck = 3
	// RetransmissionDelayMs is how long the engine waits for socket or
	// input activity before assuming the oldest un-acked packet was lost.
	RetransmissionDelayMs = 4000
	// MaxRetransmission is the number of consecutive go-back-N timeouts
	// tolerated before the transfer is abandoned.
	MaxRetransmission = 5
)

// Engine owns one outbound transfer: its send buffer, sliding-window
// state, and the sockets it reads/writes through. It holds no package
// level state, so multiple transfers can run concurrently in the same
// process (e.g. under test).
type Engine struct {
	sock    *netio.Socket
	input   FileInput
	buf     *pktbuf.Buffer
	metrics *metrics.Recorder

	lastAck       uint8
	lastWin       uint8
	lastSent      uint8
	lastChunkRead uint8
	dupAck        uint8
	retryCount    int
	lastInRead    int
}

// FileInput is the input stream read in MaxPayload-sized chunks. It must
// expose a real file descriptor since the engine's poll loop treats input
// readiness the same way as socket readiness; *os.File (stdin, a regular
// file, or either end of os.Pipe) satisfies it.
type FileInput interface {
	io.Reader
	Fd() uintptr
}

// New creates a send Engine. buf is the send window buffer; its capacity
// bounds how many un-acked packets may be outstanding at once.
func New(sock *netio.Socket, input FileInput, buf *pktbuf.Buffer, rec *metrics.Recorder) *Engine {
	return &Engine{
		sock:          sock,
		input:         input,
		buf:           buf,
		metrics:       rec,
		lastAck:       0,
		lastWin:       1,
		lastSent:      255,
		lastChunkRead: 255,
		lastInRead:    -1,
	}
}

func (e *Engine) processNack(nack uint8) error {
	logger.Info("Received a NACK for seq #%d; retransmit packet", nack)
	var found *wire.Packet
	e.buf.ForEach(func(p *wire.Packet) {
		if found == nil && p.Seq == nack {
			found = p
		}
	})
	if found == nil {
		logger.Info("Cannot found packet #%d for retransmission...", nack)
		return nil
	}
	e.metrics.Resent(metrics.ReasonNack)
	return e.send(found)
}

func (e *Engine) processAck(ack uint8) error {
	logger.Info("Ack'ing %d packets [#%d -> #%d]", uint8(ack-e.lastAck), e.lastAck, ack)
	for e.lastAck != ack {
		e.buf.Dequeue()
		e.lastAck++
	}
	e.dupAck = 0
	return nil
}

func (e *Engine) processDupAck(ack uint8) error {
	e.dupAck++
	logger.Info("Duplicate ACK #%d [%d/%d]", ack, e.dupAck, MaxDupAck)
	if e.dupAck == MaxDupAck {
		e.dupAck = 0
		logger.Info("Fast retransmission for #%d", ack)
		e.metrics.Resent(metrics.ReasonDupAck)
		return e.send(e.buf.First())
	}
	return nil
}

// handleSocketRead processes one inbound ACK/NACK, restricting acceptance
// to the currently valid response window so delayed, stale replies are
// dropped rather than misinterpreted.
func (e *Engine) handleSocketRead() error {
	e.retryCount = 0
	win := uint8(e.lastSent - e.lastAck + 1)

	pkt, _, err := e.sock.RecvPacket()
	if err != nil {
		if de, ok := err.(*wire.DecodeError); ok {
			if de.Code == wire.ErrCRC {
				e.metrics.CRCFailure()
			}
			return nil
		}
		return err
	}

	if uint8(pkt.Seq-e.lastAck) > win {
		logger.Warn("Dropping out of window packet [rcv: %d, expect: %d, winsize: %d]",
			pkt.Seq, e.lastAck, win)
		e.metrics.Dropped(metrics.ReasonOutOfWin)
		return nil
	}

	if pkt.Type != wire.TypeACK && pkt.Type != wire.TypeNACK {
		logger.Error("Dropping wrong packet type [%s instead of ACK or NACK]", pkt.Type)
		e.metrics.Dropped(metrics.ReasonBadPeer)
		return nil
	}
	if pkt.Timestamp != wire.Timestamp {
		logger.Error("The receiver is corrupting the timestamp! [expected: %d, received: %d]",
			wire.Timestamp, pkt.Timestamp)
	}
	if e.lastWin != pkt.Window {
		logger.Debug("Updating receive window: %d -> %d", e.lastWin, pkt.Window)
		e.lastWin = pkt.Window
		e.metrics.SetSendWindow(int(pkt.Window))
	}

	if pkt.Type == wire.TypeNACK {
		return e.processNack(pkt.Seq)
	}
	if e.lastAck == pkt.Seq {
		return e.processDupAck(pkt.Seq)
	}
	return e.processAck(pkt.Seq)
}

func (e *Engine) handleInputRead() error {
	e.lastChunkRead++
	slot := e.buf.Enqueue()
	slot.Type = wire.TypeData
	slot.Window = 0
	slot.Seq = e.lastChunkRead
	slot.Timestamp = wire.Timestamp

	payload := make([]byte, wire.MaxPayload)
	n, err := e.input.Read(payload)
	if err != nil && err != io.EOF {
		return xferrors.Wrap(err, "cannot read input stream")
	}
	e.lastInRead = n
	slot.Length = uint16(n)
	slot.Payload = payload[:n]
	logger.Debug("Queued chunk #%d [%db]", slot.Seq, slot.Length)
	return nil
}

// handleRetransmission performs a go-back-N retransmit of the whole
// outstanding window after the retransmission timer expires.
func (e *Engine) handleRetransmission() error {
	e.retryCount++
	if e.retryCount > MaxRetransmission {
		return xferrors.Wrapf(xferrors.ErrConnectionAborted,
			"too many consecutive retransmission timeouts")
	}

	logger.Warn("Retransmission timer expired, sending window [%d->%d]", e.lastAck, e.lastSent)
	for sseq := e.lastAck; sseq != e.lastSent+1; sseq++ {
		pkt := e.buf.SlotForSeq(sseq)
		logger.Debug("Resending %d", pkt.Seq)
		e.metrics.Resent(metrics.ReasonTimeout)
		if err := e.send(pkt); err != nil {
			return err
		}
	}
	e.dupAck = 0
	return nil
}

func (e *Engine) canSend() bool {
	return !e.buf.Empty() && uint8(e.lastSent+1-e.lastAck) < e.lastWin
}

func (e *Engine) doSendSbuf() error {
	for e.lastSent != e.lastChunkRead && e.canSend() {
		e.lastSent++
		pkt := e.buf.SlotForSeq(e.lastSent)
		if err := e.send(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) send(pkt *wire.Packet) error {
	if err := e.sock.SendPacket(pkt); err != nil {
		return err
	}
	e.metrics.SentPacket()
	return nil
}

// Run drives the transfer to completion: it reads the input stream in
// MaxPayload-sized chunks, keeps the send window full, and reacts to
// ACK/NACK traffic and retransmission timeouts until a zero-length
// terminal chunk has been both sent and acknowledged.
func (e *Engine) Run() error {
	poller := netio.NewPoller(
		netio.Fd{FD: e.sock.FD(), Events: netio.ReadyIn},
		netio.Fd{FD: int(e.input.Fd()), Events: netio.ReadyIn},
	)

	watching := 2
	for {
		n, err := poller.Wait(watching, RetransmissionDelayMs)
		if err != nil {
			return xferrors.Wrap(err, "poll failed")
		}

		if n > 0 {
			if poller.Revents(0)&(netio.ReadyIn|netio.ReadyErr) != 0 {
				if err := e.handleSocketRead(); err != nil {
					return xferrors.Wrap(err, "cannot process the socket anymore")
				}
			}
			if watching == 2 && poller.Revents(1)&(netio.ReadyIn|netio.ReadyErr) != 0 {
				if err := e.handleInputRead(); err != nil {
					return err
				}
			}
			if err := e.doSendSbuf(); err != nil {
				return xferrors.Wrap(err, "cannot send new segments")
			}
			if e.lastInRead != 0 && !e.buf.Full() {
				watching = 2
			} else {
				watching = 1
			}
		} else if !e.buf.Empty() {
			if err := e.handleRetransmission(); err != nil {
				return err
			}
		}

		if e.lastInRead == 0 && e.buf.Empty() {
			break
		}
	}

	logger.Success("Transfer completed")
	return nil
}
