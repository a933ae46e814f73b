// Package replication implements leader-side fan-out of committed
// records to connected followers, and the follower-side loop that
// reconnects to a leader and re-applies its stream locally.
package replication

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AsifIrfan3393/win-kvstore/internal/faultinject"
	"github.com/AsifIrfan3393/win-kvstore/internal/metricssink"
	"github.com/rs/zerolog/log"
)

// Broadcaster accepts follower connections on a dedicated port and
// fans out each committed record with sequence accounting. publish
// runs inline on the caller — a slow follower backpressures the
// leader, a deliberate simplification the spec calls out explicitly.
type Broadcaster struct {
	addr     string
	injector *faultinject.Injector
	sink     *metricssink.Sink
	delay    time.Duration

	running  atomic.Bool
	stopOnce sync.Once
	listener net.Listener
	wg       sync.WaitGroup

	clientsMu sync.Mutex
	clients   []net.Conn

	sequence atomic.Uint64
	sent     atomic.Uint64
}

// NewBroadcaster returns a Broadcaster bound to addr once Start is
// called.
func NewBroadcaster(addr string, injector *faultinject.Injector, sink *metricssink.Sink, delay time.Duration) *Broadcaster {
	return &Broadcaster{addr: addr, injector: injector, sink: sink, delay: delay}
}

// Start binds the listening socket and spawns the accept loop.
func (b *Broadcaster) Start() error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("listen on replication port: %w", err)
	}
	b.listener = ln
	b.running.Store(true)

	b.wg.Add(1)
	go b.acceptLoop()
	log.Info().Str("addr", b.addr).Msg("replication broadcaster listening")
	return nil
}

func (b *Broadcaster) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if !b.running.Load() {
				return
			}
			continue
		}
		b.clientsMu.Lock()
		b.clients = append(b.clients, conn)
		b.clientsMu.Unlock()
		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("replica connected")
	}
}

// Publish sends record+"\n" to every currently connected follower, in
// the order Publish was called, removing any follower whose send
// fails. replication_lag (sequence - sent) is exposed through the
// metrics sink.
func (b *Broadcaster) Publish(record string) {
	if !b.running.Load() {
		return
	}
	seq := b.sequence.Add(1)
	payload := []byte(record + "\n")

	b.clientsMu.Lock()
	live := b.clients[:0]
	for _, conn := range b.clients {
		if b.injector != nil {
			b.injector.MaybeDelay(b.delay)
		}
		if _, err := conn.Write(payload); err != nil {
			conn.Close()
			continue
		}
		live = append(live, conn)
	}
	b.clients = live
	b.clientsMu.Unlock()

	b.sent.Store(seq)
	if b.sink != nil {
		b.sink.SetReplicationLag(b.sequence.Load() - b.sent.Load())
	}
}

// Stop flips the running flag, closes the listening socket to unblock
// Accept, joins the accept loop, and closes every remembered client
// connection. Stop is idempotent.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.running.Store(false)
		if b.listener != nil {
			b.listener.Close()
		}
		b.wg.Wait()

		b.clientsMu.Lock()
		for _, conn := range b.clients {
			conn.Close()
		}
		b.clients = nil
		b.clientsMu.Unlock()
	})
}
