package tunnel

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"ktail/internal/telemetry"
)

// forward accepts local connections and pipes each one to remote through the
// SSH session.
type forward struct {
	remote    string
	localPort int
	ln        net.Listener
	conn      Conn
	log       *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	active map[net.Conn]struct{}
}

func newForward(remote string, port int, ln net.Listener, conn Conn, log *slog.Logger) *forward {
	f := &forward{
		remote:    remote,
		localPort: port,
		ln:        ln,
		conn:      conn,
		log:       log,
		active:    make(map[net.Conn]struct{}),
	}
	f.wg.Add(1)
	return f
}

func (f *forward) serve() {
	defer f.wg.Done()
	for {
		local, err := f.ln.Accept()
		if err != nil {
			if !f.isClosed() && !errors.Is(err, net.ErrClosed) {
				f.log.Warn("forward accept", "local_port", f.localPort, "err", err)
			}
			return
		}
		telemetry.ForwardedConnections.Inc()
		f.wg.Add(1)
		go f.pipe(local)
	}
}

func (f *forward) pipe(local net.Conn) {
	defer f.wg.Done()

	remote, err := f.conn.Dial("tcp", f.remote)
	if err != nil {
		f.log.Warn("forward dial", "remote", f.remote, "err", err)
		_ = local.Close()
		return
	}
	if !f.track(local, remote) {
		_ = local.Close()
		_ = remote.Close()
		return
	}
	defer f.untrack(local, remote)

	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go cp(remote, local)
	go cp(local, remote)

	<-done
	_ = local.Close()
	_ = remote.Close()
	<-done
}

func (f *forward) track(conns ...net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	for _, c := range conns {
		f.active[c] = struct{}{}
	}
	return true
}

func (f *forward) untrack(conns ...net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range conns {
		delete(f.active, c)
	}
}

func (f *forward) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// close stops accepting, drops piped connections and waits for the forward's
// goroutines to exit.
func (f *forward) close() error {
	f.mu.Lock()
	f.closed = true
	conns := make([]net.Conn, 0, len(f.active))
	for c := range f.active {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	err := f.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	for _, c := range conns {
		_ = c.Close()
	}
	f.wg.Wait()
	return err
}
