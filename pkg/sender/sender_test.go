package sender

import (
	"net"
	"testing"

	"github.com/ventosilenzioso/gorudt/internal/netio"
	"github.com/ventosilenzioso/gorudt/pkg/pktbuf"
	"github.com/ventosilenzioso/gorudt/pkg/wire"
)

func newTestEngine() *Engine {
	return &Engine{
		buf:           pktbuf.New(8),
		lastAck:       0,
		lastWin:       1,
		lastSent:      255,
		lastChunkRead: 255,
		lastInRead:    -1,
	}
}

func TestCanSend(t *testing.T) {
	e := newTestEngine()
	if e.canSend() {
		t.Fatal("empty buffer should not be sendable")
	}
	slot := e.buf.Enqueue()
	slot.Seq = 0
	e.lastChunkRead = 0
	e.lastWin = 2
	if !e.canSend() {
		t.Fatal("non-empty buffer within window should be sendable")
	}
	e.lastSent = 0
	e.lastWin = 1
	if e.canSend() {
		t.Fatal("should not be able to send once window is exhausted")
	}
}

func TestProcessAckDequeuesUpToAck(t *testing.T) {
	e := newTestEngine()
	for seq := uint8(0); seq < 4; seq++ {
		slot := e.buf.Enqueue()
		slot.Seq = seq
	}
	if err := e.processAck(2); err != nil {
		t.Fatalf("processAck: %v", err)
	}
	if e.lastAck != 2 {
		t.Errorf("lastAck = %d, want 2", e.lastAck)
	}
	if e.buf.Used() != 2 {
		t.Errorf("Used() = %d, want 2 (seq 2,3 remain)", e.buf.Used())
	}
	if e.buf.First().Seq != 2 {
		t.Errorf("First().Seq = %d, want 2", e.buf.First().Seq)
	}
}

func TestProcessDupAckTriggersFastRetransmitAtThreshold(t *testing.T) {
	sockA, sockB, cleanup := dialedPair(t)
	defer cleanup()
	_ = sockB

	e := newTestEngine()
	e.sock = sockA
	slot := e.buf.Enqueue()
	slot.Type = wire.TypeData
	slot.Seq = 5
	slot.Timestamp = wire.Timestamp

	for i := 0; i < MaxDupAck-1; i++ {
		if err := e.processDupAck(5); err != nil {
			t.Fatalf("processDupAck: %v", err)
		}
		if e.dupAck == 0 {
			t.Fatalf("dupAck reset too early at iteration %d", i)
		}
	}
	if err := e.processDupAck(5); err != nil {
		t.Fatalf("processDupAck: %v", err)
	}
	if e.dupAck != 0 {
		t.Errorf("dupAck = %d, want 0 after fast retransmit fires", e.dupAck)
	}
}

func TestProcessNackRetransmitsMatchingPacket(t *testing.T) {
	sockA, sockB, cleanup := dialedPair(t)
	defer cleanup()
	_ = sockB

	e := newTestEngine()
	e.sock = sockA
	for seq := uint8(0); seq < 3; seq++ {
		slot := e.buf.Enqueue()
		slot.Type = wire.TypeData
		slot.Seq = seq
		slot.Timestamp = wire.Timestamp
	}
	if err := e.processNack(1); err != nil {
		t.Fatalf("processNack: %v", err)
	}
}

func TestProcessNackMissingPacketIsNotAnError(t *testing.T) {
	e := newTestEngine()
	if err := e.processNack(99); err != nil {
		t.Fatalf("processNack for absent seq should not error: %v", err)
	}
}

func TestDoSendSbufRespectsWindow(t *testing.T) {
	sockA, sockB, cleanup := dialedPair(t)
	defer cleanup()
	_ = sockB

	e := newTestEngine()
	e.sock = sockA
	for seq := uint8(0); seq < 4; seq++ {
		slot := e.buf.Enqueue()
		slot.Type = wire.TypeData
		slot.Seq = seq
		slot.Timestamp = wire.Timestamp
	}
	e.lastChunkRead = 3
	e.lastWin = 2

	if err := e.doSendSbuf(); err != nil {
		t.Fatalf("doSendSbuf: %v", err)
	}
	if e.lastSent != 1 {
		t.Errorf("lastSent = %d, want 1 (window size 2 limits to seq 0,1)", e.lastSent)
	}
}

// dialedPair returns a connected loopback UDP socket pair wrapped as
// netio.Socket, for exercising Engine.send against a real listener.
func dialedPair(t *testing.T) (client, server *netio.Socket, cleanup func()) {
	t.Helper()
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}

	clientSock, err := netio.NewFromConn(clientConn)
	if err != nil {
		t.Fatalf("NewFromConn: %v", err)
	}
	serverSock, err := netio.NewFromConn(serverConn)
	if err != nil {
		t.Fatalf("NewFromConn: %v", err)
	}
	return clientSock, serverSock, func() {
		clientConn.Close()
		serverConn.Close()
	}
}
