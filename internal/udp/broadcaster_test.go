package udp

import (
	"errors"
	"net"
	"testing"
)

type fakeConn struct {
	writes   [][]byte
	writeErr error
	closed   bool
	closeErr error
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func newFake(t *testing.T, fc *fakeConn) *Broadcaster {
	t.Helper()
	b, err := newBroadcaster("127.0.0.1:10110", net.ResolveUDPAddr,
		func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return fc, nil })
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	return b
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return &fakeConn{}, nil
	}
	b, err := newBroadcaster("127.0.0.1:10110", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	defer b.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want udp", gotNetwork)
	}
	if gotRaddr == nil || gotRaddr.Port != 10110 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:10110", gotRaddr)
	}
	if b.Dest() != "127.0.0.1:10110" {
		t.Fatalf("dest=%q", b.Dest())
	}
}

func TestNewBroadcaster_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(string, string) (*net.UDPAddr, error) { return nil, resolveErr }
	dial := func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) { return &fakeConn{}, nil }

	if _, err := newBroadcaster("bad:addr", resolve, dial); !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestBroadcaster_Write(t *testing.T) {
	fc := &fakeConn{}
	b := newFake(t, fc)

	if n, err := b.Write(nil); n != 0 || err != nil {
		t.Fatalf("Write(nil)=%d,%v", n, err)
	}
	p := []byte("$HCHDM,90.0,M*1E\r\n")
	if _, err := b.Write(p); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if len(fc.writes) != 1 || string(fc.writes[0]) != string(p) {
		t.Fatalf("writes=%q", fc.writes)
	}
	if b.Sent() != 1 {
		t.Fatalf("sent=%d want 1", b.Sent())
	}
}

func TestBroadcaster_WritePropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	b := newFake(t, &fakeConn{writeErr: wantErr})
	if _, err := b.Write([]byte{0x01}); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
	if b.Sent() != 0 {
		t.Fatalf("sent=%d want 0", b.Sent())
	}
}

func TestBroadcaster_CloseThenWrite(t *testing.T) {
	fc := &fakeConn{}
	b := newFake(t, fc)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fc.closed {
		t.Fatalf("conn not closed")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if _, err := b.Write([]byte{0x01}); err == nil {
		t.Fatalf("expected error after close")
	}
}
