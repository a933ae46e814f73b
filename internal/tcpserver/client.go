// Package tcpserver hosts the accept loops the spec treats as
// external collaborators to the core: the client-protocol TCP front
// end and the metrics HTTP exposition. Neither belongs to the tested
// core contract; both exist here so the repo runs end-to-end.
package tcpserver

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AsifIrfan3393/win-kvstore/internal/dispatch"
	"github.com/AsifIrfan3393/win-kvstore/internal/workerpool"
	"github.com/rs/zerolog/log"
)

// ClientServer accepts client-protocol connections and dispatches each
// line it reads through the worker pool, so a burst of connections
// backs off the bounded queue rather than spawning unbounded work.
type ClientServer struct {
	addr       string
	dispatcher *dispatch.Dispatcher
	pool       *workerpool.Pool

	running  atomic.Bool
	listener net.Listener
	wg       sync.WaitGroup
}

// NewClientServer returns a ClientServer bound to addr once Start is
// called. Every dispatched line is submitted to pool rather than run
// directly on the connection's goroutine.
func NewClientServer(addr string, d *dispatch.Dispatcher, pool *workerpool.Pool) *ClientServer {
	return &ClientServer{addr: addr, dispatcher: d, pool: pool}
}

// Start binds the listening socket and spawns the accept loop.
func (s *ClientServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)
	s.wg.Add(1)
	go s.acceptLoop()
	log.Info().Str("addr", s.addr).Msg("client server listening")
	return nil
}

// Stop closes the listener and waits for the accept loop to exit.
// Connections already in flight are not forcibly closed; they drain
// naturally when their client disconnects.
func (s *ClientServer) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *ClientServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection implements the line-oriented client protocol,
// including BATCH: the next n lines on the same connection are read
// in full, dispatched in order, and only then acknowledged with a
// single OK — the acknowledgement is never sent before the batched
// commands actually execute.
func (s *ClientServer) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			s.processLine(conn, reader, line)
		}
		if err != nil {
			return
		}
	}
}

func (s *ClientServer) processLine(conn net.Conn, reader *bufio.Reader, line string) {
	var work func() (any, error)
	if strings.HasPrefix(line, "BATCH") {
		batchLines, usageErr := s.readBatchLines(reader, line)
		if usageErr != "" {
			work = func() (any, error) { return usageErr, nil }
		} else {
			work = func() (any, error) { return s.dispatcher.DispatchBatch(batchLines), nil }
		}
	} else {
		work = func() (any, error) { return s.dispatcher.Dispatch(line), nil }
	}

	future, err := s.pool.Submit(work)
	if err != nil {
		_, _ = conn.Write([]byte("ERROR " + err.Error() + "\n"))
		return
	}
	result, _ := future.Get()
	response, _ := result.(string)
	_, _ = conn.Write([]byte(response + "\n"))
}

// readBatchLines parses "BATCH n" and reads n further non-empty lines
// off the same connection (blank lines are skipped and not counted),
// returning a usage error instead when the header itself is malformed. A connection that closes early yields whatever
// lines could be read so far, which DispatchBatch runs as a shorter
// batch.
func (s *ClientServer) readBatchLines(reader *bufio.Reader, line string) (lines []string, usageErr string) {
	parts := strings.Fields(line)
	if len(parts) != 2 {
		return nil, "ERROR usage BATCH n"
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil || count < 0 {
		return nil, "ERROR usage BATCH n"
	}

	lines = make([]string, 0, count)
	for len(lines) < count {
		batchLine, err := reader.ReadString('\n')
		batchLine = strings.TrimRight(batchLine, "\r\n")
		if batchLine != "" {
			lines = append(lines, batchLine)
		}
		if err != nil {
			break
		}
	}
	return lines, ""
}
