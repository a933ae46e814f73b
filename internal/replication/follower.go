package replication

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Applier re-executes one replication record (a PUT or DEL command
// line) against local state. The dispatcher implements this against
// the local storage.Store.
type Applier interface {
	Apply(record string) error
}

// Follower connects to a leader's replication port, reads framed
// records (newline-delimited), and applies each non-empty line
// through an Applier. There is no resume cursor: after a disconnect,
// the follower restarts from the leader's current stream position,
// not from where it left off.
type Follower struct {
	addr    string
	applier Applier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   net.Conn
}

// NewFollower returns a Follower that will connect to addr once
// Start is called.
func NewFollower(addr string, applier Applier) *Follower {
	ctx, cancel := context.WithCancel(context.Background())
	return &Follower{addr: addr, applier: applier, ctx: ctx, cancel: cancel}
}

// Start spawns the reconnect loop.
func (f *Follower) Start() {
	f.wg.Add(1)
	go f.run()
}

// Stop interrupts the loop at the next boundary and waits for it to
// exit. Canceling the context alone can't unblock a goroutine parked
// in scanner.Scan() on an idle connection, so Stop also closes the
// connection currently in use, if any.
func (f *Follower) Stop() {
	f.cancel()
	f.closeCurrentConn()
	f.wg.Wait()
}

func (f *Follower) setCurrentConn(conn net.Conn) {
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
}

func (f *Follower) closeCurrentConn() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *Follower) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", f.addr)
		if err != nil {
			log.Warn().Err(err).Str("addr", f.addr).Msg("replication follower connect failed, retrying")
			if !f.sleepOrDone(time.Second) {
				return
			}
			continue
		}
		f.setCurrentConn(conn)
		f.consume(conn)
		f.setCurrentConn(nil)
		conn.Close()

		if !f.sleepOrDone(time.Second) {
			return
		}
	}
}

func (f *Follower) consume(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		select {
		case <-f.ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := f.applier.Apply(line); err != nil {
			log.Warn().Err(err).Str("record", line).Msg("replication follower apply failed")
		}
	}
}

// sleepOrDone sleeps for d unless the follower is stopped first, in
// which case it returns false.
func (f *Follower) sleepOrDone(d time.Duration) bool {
	select {
	case <-f.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
