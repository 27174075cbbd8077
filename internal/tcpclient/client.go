// Package tcpclient provides the TCP byte stream underneath the session
// protocol engine. Dialing and reading happen on their own goroutines; every
// event is handed back to the single protocol goroutine through the event
// loop, so the engine above never needs a lock.
package tcpclient

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frnlink/frnlink/internal/eventloop"
	"github.com/frnlink/frnlink/internal/frn"
)

const (
	dialTimeout = 10 * time.Second

	// recvBufferSize caps one delivered chunk.
	recvBufferSize = 4096

	// maxConsecutiveFullReads is how many back-to-back buffer-filling reads
	// the client tolerates before declaring the inbound stream overflowed.
	// A single full read is just a large message; a sustained run means the
	// consumer is not keeping up.
	maxConsecutiveFullReads = 8

	// sendQueueLen bounds the outbound queue between the protocol engine
	// and the writer goroutine.
	sendQueueLen = 64
)

var (
	errNotConnected  = errors.New("tcpclient: not connected")
	errSendQueueFull = errors.New("tcpclient: send queue full")
)

// Client implements frn.Transport over a plain TCP connection.
//
// SetHandlers must be called before the first Connect. A bumped generation
// counter fences every callback, so events from an abandoned connection are
// silently dropped once a new Connect has been issued.
type Client struct {
	logger   *slog.Logger
	loop     *eventloop.Loop
	handlers frn.TransportHandlers

	mu         sync.Mutex
	conn       net.Conn
	connected  bool
	closing    bool
	generation uint64
	writeCh    chan []byte
	writeDone  chan struct{}
}

// New returns a disconnected client posting its events to loop. If logger is
// nil, slog.Default() is used.
func New(loop *eventloop.Loop, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger: logger.With("tcp client uuid", uuid.New()),
		loop:   loop,
	}
}

// SetHandlers installs the event callbacks.
func (client *Client) SetHandlers(handlers frn.TransportHandlers) {
	client.handlers = handlers
}

// IsConnected reports whether a connection is currently established.
func (client *Client) IsConnected() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.connected
}

// Connect starts dialing host:port. The outcome arrives asynchronously as
// OnConnected or OnDisconnected; any previous connection's pending events
// are discarded.
func (client *Client) Connect(host string, port int) {
	client.mu.Lock()
	client.generation++
	generation := client.generation
	client.closing = false
	stale := client.retireLocked()
	client.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	go client.dial(generation, host, port)
}

// Disconnect closes the connection locally. The reader observes the close
// and reports it as an ordered disconnect.
func (client *Client) Disconnect() {
	client.mu.Lock()
	client.closing = true
	conn := client.retireLocked()
	client.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// retireLocked detaches the current connection and stops its writer
// goroutine. Callers hold mu and close the returned conn outside the lock.
func (client *Client) retireLocked() net.Conn {
	conn := client.conn
	client.conn = nil
	client.connected = false
	if client.writeDone != nil {
		close(client.writeDone)
		client.writeDone = nil
	}
	client.writeCh = nil
	return conn
}

// Write queues data for the current connection. It never blocks: when the
// writer goroutine cannot drain the queue fast enough, the write is refused
// instead of stalling the caller's goroutine.
func (client *Client) Write(data []byte) error {
	client.mu.Lock()
	ch := client.writeCh
	client.mu.Unlock()

	if ch == nil {
		return errNotConnected
	}
	select {
	case ch <- slices.Clone(data):
		return nil
	default:
		return errSendQueueFull
	}
}

func (client *Client) dial(generation uint64, host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		reason := frn.ReasonSystemError
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			reason = frn.ReasonHostNotFound
		}
		client.logger.Error("dial failed", "addr", addr, "err", err)
		client.post(generation, func() {
			client.notifyDisconnected(reason)
		})
		return
	}

	client.mu.Lock()
	if generation != client.generation {
		client.mu.Unlock()
		conn.Close()
		return
	}
	client.conn = conn
	client.connected = true
	client.writeCh = make(chan []byte, sendQueueLen)
	client.writeDone = make(chan struct{})
	writeCh, writeDone := client.writeCh, client.writeDone
	client.mu.Unlock()

	client.logger.Info("connected", "addr", addr)
	client.post(generation, func() {
		if client.handlers.OnConnected != nil {
			client.handlers.OnConnected()
		}
	})
	go client.writeLoop(conn, writeCh, writeDone)
	go client.readLoop(generation, conn)
}

// writeLoop drains the outbound queue onto the connection. A failed write
// closes the connection; the reader observes that and reports the reason.
func (client *Client) writeLoop(conn net.Conn, ch chan []byte, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-ch:
			if _, err := conn.Write(data); err != nil {
				client.logger.Warn("write failed", "err", err)
				conn.Close()
				return
			}
		}
	}
}

func (client *Client) readLoop(generation uint64, conn net.Conn) {
	buf := make([]byte, recvBufferSize)
	fullReads := 0
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := slices.Clone(buf[:n])
			client.post(generation, func() {
				if client.handlers.OnData != nil {
					client.handlers.OnData(data)
				}
			})
		}
		if err != nil {
			reason := frn.ReasonSystemError
			if errors.Is(err, io.EOF) {
				reason = frn.ReasonRemoteDisconnected
			}
			client.finishRead(generation, conn, reason)
			return
		}
		if n == len(buf) {
			fullReads++
			if fullReads >= maxConsecutiveFullReads {
				client.finishRead(generation, conn, frn.ReasonRecvBufferOverflow)
				return
			}
		} else {
			fullReads = 0
		}
	}
}

// finishRead retires the connection and reports why it ended. A locally
// requested close overrides whatever error the reader tripped over.
func (client *Client) finishRead(generation uint64, conn net.Conn, reason frn.DisconnectReason) {
	client.mu.Lock()
	if client.closing {
		reason = frn.ReasonOrderedDisconnect
	}
	if client.conn == conn {
		client.retireLocked()
	}
	client.mu.Unlock()

	conn.Close()
	client.logger.Info("connection closed", "reason", reason)
	client.post(generation, func() {
		client.notifyDisconnected(reason)
	})
}

func (client *Client) notifyDisconnected(reason frn.DisconnectReason) {
	if client.handlers.OnDisconnected != nil {
		client.handlers.OnDisconnected(reason)
	}
}

// post schedules fn on the event loop, dropping it if a newer Connect has
// superseded this connection by the time it runs.
func (client *Client) post(generation uint64, fn func()) {
	client.loop.Post(func() {
		client.mu.Lock()
		stale := generation != client.generation
		client.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
}
