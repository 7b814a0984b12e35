package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/mzyy94/glasscap/internal/chunk"
)

// DefaultUDPPort is where glasscap listens for forwarded notifications.
const DefaultUDPPort = 53300

// UDPOptions configures a UDPTransport.
type UDPOptions struct {
	ListenAddr string // default ":53300"
	BridgeAddr string // command destination; empty = last datagram sender
	QueueSize  int
}

// UDPTransport receives one notification per datagram.
type UDPTransport struct {
	conn   *net.UDPConn
	q      *queue
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	peer   *net.UDPAddr
	fixed  bool
	closed bool
}

// ListenUDP binds the listen address and starts the receive loop.
func ListenUDP(ctx context.Context, opts UDPOptions) (*UDPTransport, error) {
	if opts.ListenAddr == "" {
		opts.ListenAddr = fmt.Sprintf(":%d", DefaultUDPPort)
	}
	laddr, err := net.ResolveUDPAddr("udp", opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr: %w", err)
	}

	t := &UDPTransport{q: newQueue(opts.QueueSize), done: make(chan struct{})}
	if opts.BridgeAddr != "" {
		peer, err := net.ResolveUDPAddr("udp", opts.BridgeAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve bridge addr: %w", err)
		}
		t.peer, t.fixed = peer, true
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", opts.ListenAddr, err)
	}
	t.conn = conn

	ctx, t.cancel = context.WithCancel(ctx)
	go t.loop(ctx)
	slog.Info("UDP transport listening", "addr", conn.LocalAddr(), "bridge", opts.BridgeAddr)
	return t, nil
}

// LocalAddr returns the bound address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *UDPTransport) loop(ctx context.Context) {
	defer close(t.done)
	defer close(t.q.ch)

	go func() {
		<-ctx.Done()
		t.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("UDP read error", "err", err)
			continue
		}
		if n > chunk.MaxNotificationLen {
			slog.Debug("ignoring oversized datagram", "remote", remote, "bytes", n)
			continue
		}

		t.mu.Lock()
		if !t.fixed {
			t.peer = remote
		}
		t.mu.Unlock()

		raw := make([]byte, n)
		copy(raw, buf[:n])
		t.q.deliver(raw)
	}
}

// Notifications implements Transport.
func (t *UDPTransport) Notifications() <-chan []byte { return t.q.ch }

// Send writes a one-byte command datagram to the bridge.
func (t *UDPTransport) Send(ctx context.Context, cmd byte) error {
	t.mu.Lock()
	peer, closed := t.peer, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if peer == nil {
		return errors.New("no bridge address known yet")
	}
	// The deadline sticks to the socket, so clear it for unbounded sends.
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := t.conn.WriteToUDP([]byte{cmd}, peer); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	slog.Debug("command sent", "cmd", chunk.DescribeCommand(cmd), "bridge", peer)
	return nil
}

// Stats returns receive counters.
func (t *UDPTransport) Stats() Stats { return t.q.stats() }

// Close stops the receive loop and waits for it to exit.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	<-t.done
	return nil
}

func (t *UDPTransport) String() string { return "udp:" + t.conn.LocalAddr().String() }

// LocalIP returns the local address the OS would use to reach target. An
// empty target picks the default LAN interface via the all-hosts multicast
// group. Returns "0.0.0.0" if no route exists.
func LocalIP(target string) string {
	if target == "" {
		target = "224.0.0.1"
	}
	conn, err := net.Dial("udp4", net.JoinHostPort(target, "80"))
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
