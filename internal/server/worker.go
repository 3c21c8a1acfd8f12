package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/snake-arena/server/internal/client"
	"github.com/snake-arena/server/internal/proto"
	"github.com/snake-arena/server/internal/room"
)

// Lobby commands are throttled so a misbehaving bot cannot spin the room
// manager's lock.
const (
	hubCommandInterval = 50 * time.Millisecond
	hubCommandBurst    = 10
)

var (
	errConnectionLost = errors.New("connection lost")
	errTurnTimeout    = errors.New("turn timed out")
)

// workerState is the per-connection protocol state.
type workerState int

const (
	stateHub workerState = iota
	stateRoom
	stateDone
)

// worker runs the protocol state machine for one connection. A dedicated
// reader goroutine feeds inbox so that game-state code can race an incoming
// message against a turn-queue wakeup; a closed inbox means the peer is gone.
type worker struct {
	state *State
	sess  proto.Session
	name  client.Name

	inbox   chan proto.Message
	limiter *rate.Limiter

	// connCtx is canceled when the reader goroutine exits. It bounds waits
	// that do not touch the connection itself, such as the room readiness
	// barrier.
	connCtx context.Context
}

// handshake consumes the client hello, validates and reserves the name, and
// confirms with a server hello.
func (s *State) handshake(ctx context.Context, sess proto.Session) (*worker, error) {
	msg, err := sess.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Type != proto.MsgClientHello {
		_ = sess.Send(ctx, proto.MustMessage(proto.MsgErr, proto.ErrMessage{Text: "expected a client hello"}))
		return nil, fmt.Errorf("expected %s, got %s", proto.MsgClientHello, msg.Type)
	}
	payload, err := msg.Parse()
	if err != nil {
		return nil, err
	}
	hello := payload.(*proto.ClientHelloMessage)

	name, err := client.ParseName(hello.Name, &s.viewers, s.limits.MaxClientNameLen)
	if err != nil {
		_ = sess.Send(ctx, proto.MustMessage(proto.MsgErr, proto.ErrMessage{Text: err.Error()}))
		return nil, err
	}
	if err := s.register(name); err != nil {
		_ = sess.Send(ctx, proto.MustMessage(proto.MsgErr, proto.ErrMessage{Text: err.Error()}))
		return nil, err
	}
	if err := sess.Send(ctx, proto.MustMessage(proto.MsgServerHello, nil)); err != nil {
		s.unregister(name)
		return nil, err
	}

	return &worker{
		state:   s,
		sess:    sess,
		name:    name,
		inbox:   make(chan proto.Message, 1),
		limiter: rate.NewLimiter(rate.Every(hubCommandInterval), hubCommandBurst),
	}, nil
}

// run drives the state machine until the connection ends.
func (w *worker) run(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.connCtx = connCtx
	go func() {
		defer cancel()
		w.readLoop(ctx)
	}()

	st := stateHub
	for st != stateDone {
		var err error
		switch st {
		case stateHub:
			st, err = w.runHub(ctx)
		case stateRoom:
			st, err = w.runRoom(ctx)
		default:
			panic(fmt.Sprintf("invalid worker state: %d", st))
		}
		if err != nil {
			klog.V(1).Infof("%v: connection ended: %v", w.name, err)
			return
		}
	}
}

func (w *worker) readLoop(ctx context.Context) {
	defer close(w.inbox)
	for {
		msg, err := w.sess.Receive(ctx)
		if err != nil {
			klog.V(1).Infof("%v: receive failed: %v", w.name, err)
			return
		}
		w.inbox <- msg
	}
}

func (w *worker) send(ctx context.Context, msg proto.Message) error {
	return w.sess.Send(ctx, msg)
}

func (w *worker) respondOk(ctx context.Context) error {
	return w.send(ctx, proto.MustMessage(proto.MsgOk, nil))
}

func (w *worker) respondErr(ctx context.Context, text string) error {
	return w.send(ctx, proto.MustMessage(proto.MsgErr, proto.ErrMessage{Text: text}))
}

func (w *worker) sendEvent(ctx context.Context, ev proto.Event) error {
	return w.send(ctx, proto.MustMessage(proto.MsgEventHappened, proto.EventHappenedMessage{Event: ev}))
}

// runHub services lobby commands until the client enters a room or drops.
func (w *worker) runHub(ctx context.Context) (workerState, error) {
	for {
		msg, ok := <-w.inbox
		if !ok {
			// Nothing to clean up in the hub.
			return stateDone, nil
		}
		if err := w.limiter.Wait(w.connCtx); err != nil {
			return stateDone, nil
		}

		switch msg.Type {
		case proto.MsgListRooms:
			rooms := w.state.manager.ListRoomInfos(w.name)
			reply := proto.MustMessage(proto.MsgRoomList, proto.RoomListMessage{Rooms: rooms})
			if err := w.send(ctx, reply); err != nil {
				return stateDone, err
			}

		case proto.MsgNewRoom:
			if _, err := w.state.manager.CreateRoom(w.name); err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			if err := w.respondOk(ctx); err != nil {
				return stateDone, err
			}
			return stateRoom, nil

		case proto.MsgEnterRoom:
			payload, err := msg.Parse()
			if err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			enter := payload.(*proto.EnterRoomMessage)
			if err := w.state.manager.EnterRoom(w.name, enter.Name, enter.Password); err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			if err := w.respondOk(ctx); err != nil {
				return stateDone, err
			}
			return stateRoom, nil

		case proto.MsgEnterAnyRoom:
			if _, err := w.state.manager.EnterAnyRoom(w.name); err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			if err := w.respondOk(ctx); err != nil {
				return stateDone, err
			}
			return stateRoom, nil

		default:
			if err := w.respondErr(ctx, "you cannot send this message now"); err != nil {
				return stateDone, err
			}
		}
	}
}

// runRoom services room commands until the game starts, the client leaves, or
// the connection drops.
func (w *worker) runRoom(ctx context.Context) (workerState, error) {
	for {
		msg, ok := <-w.inbox
		if !ok {
			if err := w.state.manager.LeaveRoom(w.name); err != nil {
				klog.V(1).Infof("%v: leave on disconnect failed: %v", w.name, err)
			}
			return stateDone, nil
		}
		if err := w.limiter.Wait(w.connCtx); err != nil {
			_ = w.state.manager.LeaveRoom(w.name)
			return stateDone, nil
		}

		switch msg.Type {
		case proto.MsgLeaveRoom:
			if err := w.state.manager.LeaveRoom(w.name); err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			if err := w.respondOk(ctx); err != nil {
				return stateDone, err
			}
			return stateHub, nil

		case proto.MsgGetRoomProps:
			props, err := w.state.manager.GetRoomProperties(w.name)
			if err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			reply := proto.MustMessage(proto.MsgRoomProperties, proto.RoomPropertiesMessage{Properties: props})
			if err := w.send(ctx, reply); err != nil {
				return stateDone, err
			}

		case proto.MsgSetRoomProps:
			payload, err := msg.Parse()
			if err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			set := payload.(*proto.SetRoomPropsMessage)
			if err := w.state.manager.SetRoomProperties(w.name, set.Properties); err != nil {
				if err := w.respondErr(ctx, err.Error()); err != nil {
					return stateDone, err
				}
				continue
			}
			if err := w.respondOk(ctx); err != nil {
				return stateDone, err
			}

		case proto.MsgReady:
			next, err := w.awaitGameStart(ctx)
			if next == stateRoom && err == nil {
				continue
			}
			return next, err

		default:
			if err := w.respondErr(ctx, "you cannot send this message now"); err != nil {
				return stateDone, err
			}
		}
	}
}

// awaitGameStart suspends in the room readiness barrier and, once the game
// begins, runs the in-game procedure to completion.
func (w *worker) awaitGameStart(ctx context.Context) (workerState, error) {
	g, gr, err := w.state.manager.WaitUntilGameStarts(w.connCtx, w.name)
	if err != nil {
		if w.connCtx.Err() != nil {
			// Disconnected while ready; the manager has already removed us
			// from the room.
			return stateDone, nil
		}
		var already *room.AlreadyReadyError
		if errors.As(err, &already) {
			if err := w.respondErr(ctx, err.Error()); err != nil {
				return stateDone, err
			}
			return stateRoom, nil
		}
		// Game construction failed; the room is gone and everyone is back in
		// the hub.
		if err := w.respondErr(ctx, err.Error()); err != nil {
			return stateDone, err
		}
		return stateHub, nil
	}
	return w.runGame(ctx, g, gr)
}
