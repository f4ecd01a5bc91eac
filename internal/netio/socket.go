package netio

import (
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ventosilenzioso/gorudt/pkg/logger"
	"github.com/ventosilenzioso/gorudt/pkg/wire"
)

// TryAddrFunc is called for each candidate address resolved for a
// hostname/port pair; returning an error rejects that candidate and moves
// on to the next one. The sender uses it to connect immediately; the
// receiver uses it to merely bind.
type TryAddrFunc func(fd int, sa unix.Sockaddr) error

// Socket wraps a non-blocking, dual-stack-disabled IPv6 UDP file
// descriptor plus the *net.UDPConn view used for actual reads/writes.
type Socket struct {
	fd   int
	conn *net.UDPConn
	file *os.File
	peer net.Addr
}

// OpenSocket resolves hostname:port over UDP/IPv6, and for every candidate
// address enables SO_REUSEADDR and IPV6_V6ONLY before handing the raw
// descriptor to tryAddr. The first candidate tryAddr accepts wins.
func OpenSocket(hostname, port string, tryAddr TryAddrFunc) (*Socket, error) {
	logger.Info("Resolving [%s]:%s", hostname, port)

	addrs, err := net.DefaultResolver.LookupIP(nil, "ip6", hostname)
	if err != nil || len(addrs) == 0 {
		// Fall back to ResolveUDPAddr, which also accepts "::" wildcards
		// and numeric hosts LookupIP sometimes rejects.
		if ra, rerr := net.ResolveUDPAddr("udp6", net.JoinHostPort(hostname, port)); rerr == nil {
			addrs = []net.IP{ra.IP}
		} else {
			return nil, errors.Wrapf(rerr, "could not find any address for %q", hostname)
		}
	}

	var lastErr error
	for _, ip := range addrs {
		fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
		if err != nil {
			lastErr = err
			continue
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			lastErr = errors.Wrap(err, "couldn't enable address reuse")
			unix.Close(fd)
			continue
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			lastErr = errors.Wrap(err, "cannot force the socket to IPv6")
			unix.Close(fd)
			continue
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			lastErr = err
			unix.Close(fd)
			continue
		}

		sa := &unix.SockaddrInet6{Port: atoiPort(port)}
		copy(sa.Addr[:], ip.To16())

		if err := tryAddr(fd, sa); err != nil {
			lastErr = err
			unix.Close(fd)
			continue
		}

		file := os.NewFile(uintptr(fd), "gorudt-socket")
		conn, err := net.FilePacketConn(file)
		if err != nil {
			lastErr = err
			unix.Close(fd)
			continue
		}
		return &Socket{fd: fd, conn: conn.(*net.UDPConn), file: file}, nil
	}

	return nil, errors.Wrap(lastErr, "could not bind any candidate address")
}

func atoiPort(port string) int {
	var p int
	fmt.Sscanf(port, "%d", &p)
	return p
}

// SetNonblock toggles O_NONBLOCK on fd, used to make the receiver's output
// stream safe to write from inside the poll loop without stalling it.
func SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

// BindOnly is a TryAddrFunc that binds the descriptor to sa without
// connecting it, for the receiver's listening socket.
func BindOnly(fd int, sa unix.Sockaddr) error {
	return unix.Bind(fd, sa)
}

// ConnectOnly is a TryAddrFunc that connects the descriptor directly to
// sa, for the sender, which always talks to a single fixed peer.
func ConnectOnly(fd int, sa unix.Sockaddr) error {
	return unix.Connect(fd, sa)
}

// NewFromConn wraps an already-established UDP connection as a Socket,
// for callers (and tests) that set up sockets through net.ListenUDP/
// net.DialUDP directly instead of OpenSocket.
func NewFromConn(conn *net.UDPConn) (*Socket, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return nil, err
	}
	return &Socket{fd: fd, conn: conn}, nil
}

// FD returns the underlying file descriptor, for use with a Poller.
func (s *Socket) FD() int { return s.fd }

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Connect binds the socket's default destination to addr, so subsequent
// Send calls no longer need an explicit peer.
func (s *Socket) Connect(addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return errors.New("netio: Connect requires a *net.UDPAddr")
	}
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var connErr error
	sa := &unix.SockaddrInet6{Port: udpAddr.Port}
	copy(sa.Addr[:], udpAddr.IP.To16())
	err = raw.Control(func(fd uintptr) {
		connErr = unix.Connect(int(fd), sa)
	})
	if err != nil {
		return err
	}
	if connErr != nil {
		return connErr
	}
	s.peer = addr
	return nil
}

// RecvPacket reads one raw datagram off the socket and decodes it, also
// reporting the sender's address for the receiver's initial handshake.
// A decode error is never fatal: it represents a corrupt/malformed
// datagram to be dropped, not an I/O failure.
func (s *Socket) RecvPacket() (*wire.Packet, net.Addr, error) {
	buf := make([]byte, wire.HeaderLen+wire.MaxPayload+wire.FooterLen)
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	pkt, decErr := wire.Decode(buf[:n])
	if decErr != nil {
		return nil, addr, decErr
	}
	return pkt, addr, nil
}

// SendPacket encodes and writes pkt to the socket's connected peer.
func (s *Socket) SendPacket(pkt *wire.Packet) error {
	buf, err := wire.Encode(pkt)
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	n, err := s.conn.Write(buf)
	if err != nil {
		return errors.Wrapf(err, "send packet #%d", pkt.Seq)
	}
	if n != len(buf) {
		return errors.Errorf("short write sending packet #%d: %d/%d bytes", pkt.Seq, n, len(buf))
	}
	logger.Debug("> #%d", pkt.Seq)
	return nil
}

// WaitAndConnect implements the receiver's startup handshake: it waits for
// an incoming DATA datagram whose sequence number equals expectSeq, then locks
// the socket to that peer's address, retrying up to maxRetries times
// against malformed or mismatched datagrams.
func WaitAndConnect(s *Socket, expectSeq uint8, maxRetries int) (*wire.Packet, error) {
	for attempt := 1; ; attempt++ {
		if attempt > maxRetries {
			return nil, errors.Errorf("giving up after %d retries", maxRetries)
		}
		pkt, addr, err := s.RecvPacket()
		if err != nil {
			if _, ok := err.(*wire.DecodeError); ok {
				continue
			}
			return nil, errors.Wrap(err, "I/O error waiting for handshake")
		}
		if pkt.Type != wire.TypeData {
			logger.Warn("Ignoring %s packet while waiting for data #%d", pkt.Type, expectSeq)
			continue
		}
		if pkt.Seq != expectSeq {
			logger.Warn("Ignoring packet with seqnum #%d != expected:%d", pkt.Seq, expectSeq)
			continue
		}
		logger.Info("Received data #%d from %s", expectSeq, addr)
		if err := s.Connect(addr); err != nil {
			return nil, errors.Wrap(err, "could not connect the socket to the remote endpoint")
		}
		return pkt, nil
	}
}
