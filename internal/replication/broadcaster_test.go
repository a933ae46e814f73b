package replication

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestBroadcasterPublishReachesConnectedFollower(t *testing.T) {
	b := NewBroadcaster("127.0.0.1:0", nil, nil, 0)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	conn, err := net.Dial("tcp", b.listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// give the accept loop a moment to register the connection
	time.Sleep(20 * time.Millisecond)
	b.Publish("PUT a 1")

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "PUT a 1\n" {
		t.Errorf("got %q, want %q", line, "PUT a 1\n")
	}
}

func TestBroadcasterStopIsIdempotent(t *testing.T) {
	b := NewBroadcaster("127.0.0.1:0", nil, nil, 0)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.Stop()
	b.Stop() // must not panic or block
}
