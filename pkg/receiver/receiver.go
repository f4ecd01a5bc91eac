// Package receiver implements the receiving half of the protocol:
// out-of-order reassembly into a ring buffer, a bitmap tracking which
// slots ahead of the expected sequence number have already arrived,
// ACK/NACK emission, and a post-transfer linger, grounded on the
// reference implementation's receive.c.
package receiver

import (
	"errors"
	"io"
	"math/bits"
	"syscall"

	"github.com/ventosilenzioso/gorudt/internal/metrics"
	"github.com/ventosilenzioso/gorudt/internal/netio"
	"github.com/ventosilenzioso/gorudt/internal/xferrors"
	"github.com/ventosilenzioso/gorudt/pkg/logger"
	"github.com/ventosilenzioso/gorudt/pkg/pktbuf"
	"github.com/ventosilenzioso/gorudt/pkg/wire"
)

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

const (
	// IdleTimeMs aborts the transfer if no socket or output activity is
	// observed for this long.
	IdleTimeMs = 10000
	// InitialSeqNum is the sequence number expected from the first
	// handshake packet.
	InitialSeqNum = 0
	// LingerMs is how long the receiver keeps re-acknowledging completion
	// after the transfer finishes, in case the final ACK was lost.
	LingerMs = 3000
	// MaxLingerRetry bounds the number of linger-phase ACK retries.
	MaxLingerRetry = 5
)

// FileOutput is the destination stream, written in non-blocking mode so a
// slow consumer never stalls the poll loop. *os.File (stdout, a regular
// file, or either end of os.Pipe) satisfies it.
type FileOutput interface {
	io.Writer
	Fd() uintptr
}

// Engine owns one inbound transfer: its receive buffer, reassembly
// bitmap, and the socket/output stream it reads from and writes to.
type Engine struct {
	sock    *netio.Socket
	output  FileOutput
	buf     *pktbuf.Buffer
	maxWin  uint32
	metrics *metrics.Recorder

	oosMask        uint32
	expectedSeq    uint8
	lastTS         uint32
	needAck        bool
	needNack       bool
	nackSeq        uint8
	lastWrittenLen int
}

// New creates a receive Engine. maxWin is the advertised window ceiling,
// independent of buf's (power-of-two-rounded) physical capacity — it must
// be clamped to wire.MaxWindow by the caller, since it is encoded into the
// wire format's 5-bit window field and buf.Capacity() may exceed that.
func New(sock *netio.Socket, output FileOutput, buf *pktbuf.Buffer, maxWin uint32, rec *metrics.Recorder) *Engine {
	return &Engine{
		sock:           sock,
		output:         output,
		buf:            buf,
		maxWin:         maxWin,
		metrics:        rec,
		lastWrittenLen: -1,
	}
}

func (e *Engine) rbufFull() bool {
	return bits.OnesCount32(e.oosMask) >= int(e.maxWin)
}

func (e *Engine) canEmptyRbuf() bool {
	return !e.buf.Empty() && e.oosMask&1 != 0
}

// windowSize returns the number of additional in-order slots the receiver
// can still accept: the window ceiling minus the run of consecutive
// already-filled slots at its head.
func (e *Engine) windowSize() uint32 {
	inSeqCount := uint32(0)
	mask := e.oosMask
	for mask&1 != 0 {
		inSeqCount++
		mask >>= 1
	}
	return e.maxWin - inSeqCount
}

func (e *Engine) sendAck() error {
	pkt := &wire.Packet{
		Type:      wire.TypeACK,
		Seq:       e.expectedSeq,
		Timestamp: e.lastTS,
		Window:    uint8(e.windowSize()),
	}
	return e.send(pkt)
}

func (e *Engine) sendNack(seq uint8) error {
	pkt := &wire.Packet{
		Type:      wire.TypeNACK,
		Seq:       seq,
		Timestamp: e.lastTS,
		Window:    uint8(e.windowSize()),
	}
	return e.send(pkt)
}

func (e *Engine) send(pkt *wire.Packet) error {
	if err := e.sock.SendPacket(pkt); err != nil {
		return err
	}
	e.metrics.SentPacket()
	return nil
}

// discardIncomingData drains and drops one datagram, used when the
// receive buffer has no room left for another out-of-sequence packet.
func (e *Engine) discardIncomingData() error {
	_, _, err := e.sock.RecvPacket()
	if err != nil {
		if _, ok := err.(*wire.DecodeError); ok {
			return nil
		}
		return err
	}
	logger.Debug("Discarded incoming data buf")
	return nil
}

// processIncomingPkt folds one validated DATA packet into the reassembly
// state: truncated packets trigger a NACK, out-of-sequence packets are
// stashed further down the buffer under the bitmap, and in-sequence
// packets advance expectedSeq past any already-buffered run.
func (e *Engine) processIncomingPkt(pkt *wire.Packet, win uint32) {
	logger.Debug("Processing incoming packet #%d in window of %d", pkt.Seq, win)
	e.lastTS = pkt.Timestamp

	var distance uint8
	if e.oosMask&1 != 0 {
		distance = e.expectedSeq - e.buf.First().Seq - 1
	}
	gap := pkt.Seq - e.expectedSeq

	if pkt.TR {
		logger.Warn("Packet #%d is truncated!", pkt.Seq)
		e.needNack = true
		e.nackSeq = pkt.Seq
		if gap > 0 {
			pkt.Seq = e.expectedSeq
		}
		return
	}

	e.oosMask |= 1 << (distance + gap)
	if gap > 0 {
		logger.Warn("Received an out-of-sequence packet [#: %d, expected: %d, win: %d]",
			pkt.Seq, e.expectedSeq, win)
		receivedSeq := pkt.Seq
		pkt.Seq = e.expectedSeq
		stored := e.buf.SlotForSeq(receivedSeq)
		*stored = *pkt
		stored.Seq = receivedSeq
	} else {
		e.expectedSeq += uint8(e.maxWin - e.windowSize())
	}
	logger.Debug("New expected seq: %d, new oos_mask: %d", e.expectedSeq, e.oosMask)
}

// doReceiveData reads one DATA packet off the socket, restricted to the
// currently valid sequence window, and folds it into the reassembly
// state.
func (e *Engine) doReceiveData() error {
	win := e.windowSize()
	slot := e.buf.SlotForSeq(e.expectedSeq)

	pkt, _, err := e.sock.RecvPacket()
	if err != nil {
		if de, ok := err.(*wire.DecodeError); ok {
			if de.Code == wire.ErrCRC {
				e.metrics.CRCFailure()
			}
			slot.Seq = e.expectedSeq
			return nil
		}
		return err
	}
	if uint8(pkt.Seq-e.expectedSeq) > uint8(win) {
		logger.Warn("Dropping out of window packet [rcv: %d, expect: %d, winsize: %d]",
			pkt.Seq, e.expectedSeq, win)
		e.metrics.Dropped(metrics.ReasonOutOfWin)
		slot.Seq = e.expectedSeq
		return nil
	}
	if pkt.Type != wire.TypeData {
		logger.Error("Dropping wrong packet type [%s instead of DATA]", pkt.Type)
		e.metrics.Dropped(metrics.ReasonBadPeer)
		slot.Seq = e.expectedSeq
		return nil
	}

	*slot = *pkt
	e.processIncomingPkt(slot, win)
	return nil
}

// doEmptyRbuf writes every consecutive in-sequence slot at the head of
// the buffer to the output stream, stopping (without error) if the
// output would block.
func (e *Engine) doEmptyRbuf() error {
	for e.oosMask&1 != 0 {
		pkt := e.buf.First()
		e.lastWrittenLen = int(pkt.Length)
		if pkt.Length != 0 {
			n, err := e.output.Write(pkt.Payload)
			if err != nil {
				if isWouldBlock(err) {
					logger.Debug("Cannot empty the receive buffer further as the output stream would block")
					return nil
				}
				return xferrors.Wrapf(err, "error when writing the output file")
			}
			if n != int(pkt.Length) {
				return xferrors.Wrapf(xferrors.ErrConnectionAborted,
					"failed to write the complete packet #%d out [%d vs %d]", pkt.Seq, n, pkt.Length)
			}
			logger.Debug("Wrote chunk #%d", pkt.Seq)
		} else {
			logger.Info("Chunk #%d indicates the end of the transfer.", pkt.Seq)
		}
		e.buf.Dequeue()
		e.oosMask >>= 1
	}
	return nil
}

func (e *Engine) doReadSock() error {
	if !e.rbufFull() {
		return e.doReceiveData()
	}
	return e.discardIncomingData()
}

// Run performs the handshake, then drives the transfer to completion,
// finally lingering to re-send the closing ACK in case it was lost.
func (e *Engine) Run() error {
	if err := netio.SetNonblock(int(e.output.Fd()), true); err != nil {
		return xferrors.Wrap(err, "cannot set the output file as non-blocking")
	}

	slot := e.buf.Enqueue()
	pkt, err := netio.WaitAndConnect(e.sock, InitialSeqNum, 5)
	if err != nil {
		return xferrors.Wrap(err, "handshake failed")
	}
	*slot = *pkt
	e.processIncomingPkt(slot, e.windowSize())
	e.needAck = true

	poller := netio.NewPoller(
		netio.Fd{FD: e.sock.FD(), Events: netio.ReadyIn},
		netio.Fd{FD: int(e.output.Fd()), Events: netio.ReadyOut},
	)

	watching := 2
	for {
		n, err := poller.Wait(watching, IdleTimeMs)
		if err != nil {
			return xferrors.Wrap(err, "poll failed")
		}
		if n <= 0 {
			return xferrors.Wrapf(xferrors.ErrConnectionAborted,
				"no I/O activity in the last %.1fs, aborting transfer", IdleTimeMs/1000.0)
		}

		if poller.Revents(0)&(netio.ReadyIn|netio.ReadyErr) != 0 {
			if err := e.doReadSock(); err != nil {
				return xferrors.Wrap(err, "cannot read the socket")
			}
			if !e.needNack {
				e.needAck = true
			}
		}

		fileReady := watching == 2 && poller.Revents(1)&(netio.ReadyOut|netio.ReadyErr) != 0
		if fileReady || e.canEmptyRbuf() {
			if err := e.doEmptyRbuf(); err != nil {
				return xferrors.Wrap(err, "cannot write the received data")
			}
		}
		if e.needAck {
			if err := e.sendAck(); err != nil {
				return xferrors.Wrap(err, "could not send an ACK packet")
			}
		}
		if e.needNack {
			if err := e.sendNack(e.nackSeq); err != nil {
				return xferrors.Wrap(err, "could not send a NACK packet")
			}
		}

		if e.canEmptyRbuf() {
			watching = 2
		} else {
			watching = 1
		}
		e.needAck = false
		e.needNack = false

		if e.lastWrittenLen == 0 && e.buf.Empty() {
			break
		}
	}

	logger.Info("Sending last ACK #%d", e.expectedSeq)
	retry := 0
	for retry < MaxLingerRetry {
		n, err := poller.Wait(1, LingerMs)
		if err != nil {
			return xferrors.Wrap(err, "poll failed")
		}
		if n == 0 {
			break
		}
		if err := e.sendAck(); err != nil {
			return xferrors.Wrap(err, "could not send the final ACK packet")
		}
		retry++
	}
	if retry == MaxLingerRetry {
		logger.Error("Could not successfully send an ACK after %d tries!", MaxLingerRetry)
		return xferrors.ErrPeerGone
	}

	logger.Success("Transfer completed")
	return nil
}
