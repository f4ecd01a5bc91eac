package netio

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPollerReadReady(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p := NewPoller(Fd{FD: fds[0], Events: ReadyIn})

	n, err := p.Wait(1, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no readiness before any write, got %d", n)
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err = p.Wait(1, 100)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 ready descriptor, got %d", n)
	}
	if p.Revents(0)&ReadyIn == 0 {
		t.Errorf("Revents(0) = %x, want POLLIN set", p.Revents(0))
	}
}

func TestPollerTimeout(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p := NewPoller(Fd{FD: fds[0], Events: ReadyIn})
	n, err := p.Wait(1, 10)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected timeout (0 ready), got %d", n)
	}
}
