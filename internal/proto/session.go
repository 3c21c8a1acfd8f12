package proto

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Session is a bidirectional message channel to one peer. Both operations
// block; both fail with a connection-level error once the peer is gone.
type Session interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// WebsocketSession is the production Session over a websocket connection.
type WebsocketSession struct {
	conn *websocket.Conn

	// Concurrent writers are possible: broadcasts from the room's master
	// loop interleave with the connection handler's own responses.
	writeMu sync.Mutex
}

// NewWebsocketSession wraps an accepted websocket connection.
func NewWebsocketSession(conn *websocket.Conn) *WebsocketSession {
	return &WebsocketSession{conn: conn}
}

func (s *WebsocketSession) Send(ctx context.Context, msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, msg)
}

func (s *WebsocketSession) Receive(ctx context.Context) (Message, error) {
	var msg Message
	err := wsjson.Read(ctx, s.conn, &msg)
	return msg, err
}

func (s *WebsocketSession) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// PipeSession is an in-memory Session backed by a pair of bounded channels.
// Tests use it to drive the server core without sockets.
type PipeSession struct {
	in  <-chan Message
	out chan<- Message

	closeOnce  sync.Once
	closed     chan struct{}
	peerClosed chan struct{}
}

// NewSessionPipe returns two connected sessions: what one side sends, the
// other receives. Closing either side makes both fail like a dropped socket.
func NewSessionPipe() (*PipeSession, *PipeSession) {
	ab := make(chan Message, 64)
	ba := make(chan Message, 64)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a := &PipeSession{in: ba, out: ab, closed: aClosed, peerClosed: bClosed}
	b := &PipeSession{in: ab, out: ba, closed: bClosed, peerClosed: aClosed}
	return a, b
}

func (s *PipeSession) Send(ctx context.Context, msg Message) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	case <-s.peerClosed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	case s.out <- msg:
		return nil
	}
}

func (s *PipeSession) Receive(ctx context.Context) (Message, error) {
	// Drain messages already in flight before reporting a closed peer.
	select {
	case msg := <-s.in:
		return msg, nil
	default:
	}
	select {
	case <-s.closed:
		return Message{}, net.ErrClosed
	case <-s.peerClosed:
		return Message{}, io.EOF
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg := <-s.in:
		return msg, nil
	}
}

func (s *PipeSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
