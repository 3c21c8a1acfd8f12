package server

import (
	"context"
	"errors"

	"k8s.io/klog/v2"

	"github.com/snake-arena/server/internal/game"
	"github.com/snake-arena/server/internal/proto"
	"github.com/snake-arena/server/internal/room"
)

// runGame attaches this connection to the started room and plays it out.
// A normal game end sends the client back to the hub for another round; any
// connection-level failure is funnelled through the disconnect path instead.
func (w *worker) runGame(ctx context.Context, g *game.Game, gr *room.GameRoom) (workerState, error) {
	gr.AttachSession(w.name, w.sess)

	if err := w.gameLoop(ctx, g, gr); err != nil {
		if !errors.Is(err, errConnectionLost) && !errors.Is(err, room.ErrForceDisconnect) {
			klog.V(1).Infof("%v dropped out of the game: %v", w.name, err)
		}
		w.onGameDisconnect(ctx, gr)
		return stateDone, nil
	}
	return stateHub, nil
}

func (w *worker) gameLoop(ctx context.Context, g *game.Game, gr *room.GameRoom) error {
	if err := w.sendEvent(ctx, proto.NewGameStartedEvent(g.Width(), g.Height())); err != nil {
		return err
	}
	if err := w.send(ctx, proto.MustMessage(proto.MsgNewFieldState, proto.NewFieldStateMessage{State: g.FieldState()})); err != nil {
		return err
	}

	if w.name.IsPlayer() {
		return w.playerLoop(ctx, g, gr)
	}
	return w.viewerLoop(ctx, g, gr)
}

// playerLoop races incoming messages against turn-queue wakeups: a message
// while it is not our turn only earns an error response.
func (w *worker) playerLoop(ctx context.Context, g *game.Game, gr *room.GameRoom) error {
	turnCh := make(chan error, 1)
	turnPending := false
	awaitTurn := func() {
		turnPending = true
		go func() { turnCh <- gr.WaitForTurn(w.name) }()
	}
	// If this worker dies with a turn grant still in flight, the grant must
	// be acknowledged anyway, or the master loop would wait forever.
	defer func() {
		if turnPending {
			go func() {
				if err := <-turnCh; err == nil {
					gr.FinishTurn(w.name)
				}
			}()
		}
	}()
	awaitTurn()

	for {
		select {
		case _, ok := <-w.inbox:
			if !ok {
				return errConnectionLost
			}
			if err := w.respondErr(ctx, "it is not your turn"); err != nil {
				return err
			}
			continue

		case err := <-turnCh:
			turnPending = false
			switch {
			case err == nil:
			case errors.Is(err, room.ErrRoomExit):
				return w.sendEvent(ctx, proto.NewGameFinishedEvent(g.GetWinners()))
			default:
				return err
			}
		}

		klog.V(1).Infof("It is %v's turn", w.name)
		if err := w.takeTurn(ctx, g, gr); err != nil {
			return err
		}
		awaitTurn()
	}
}

// takeTurn requests one action and applies it. The event mailbox stays locked
// while the turn is in flight so no broadcast can race the exchange; the turn
// slot is always released, on every exit path.
func (w *worker) takeTurn(ctx context.Context, g *game.Game, gr *room.GameRoom) error {
	release := gr.LockEventsFor(w.name)
	defer release()
	defer gr.FinishTurn(w.name)

	actionCtx := ctx
	if timeout := gr.TurnTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		actionCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := w.send(ctx, proto.MustMessage(proto.MsgYourTurn, nil)); err != nil {
		return err
	}

	var act *proto.ActMessage
	select {
	case msg, ok := <-w.inbox:
		if !ok {
			return errConnectionLost
		}
		if msg.Type != proto.MsgAct {
			// The turn slot is released but the move is not consumed.
			return w.respondErr(ctx, "expected an act message")
		}
		payload, err := msg.Parse()
		if err != nil {
			return w.respondErr(ctx, err.Error())
		}
		act = payload.(*proto.ActMessage)

	case <-actionCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		klog.Infof("%v took too long to respond", w.name)
		gr.ReportTimeout(ctx, w.name)
		return errTurnTimeout
	}

	result, err := g.MoveSnake(w.name.String(), act.Action.Move)
	if err != nil {
		klog.V(1).Infof("Invalid action by %v: %v", w.name, err)
		return w.respondErr(ctx, err.Error())
	}

	if err := w.respondOk(ctx); err != nil {
		return err
	}
	if result == game.MoveCrash {
		klog.Infof("%v crashed", w.name)
		gr.MarkSnakeDead(w.name)
		gr.ReportDeath(ctx, w.name)
	}
	release()

	state := g.FieldState()
	gr.Broadcast(ctx, func(sess proto.Session) error {
		return sess.Send(ctx, proto.MustMessage(proto.MsgNewFieldState, proto.NewFieldStateMessage{State: state}))
	}, nil)
	return nil
}

// viewerLoop waits out the game, bouncing any message the viewer tries to
// send in the meantime.
func (w *worker) viewerLoop(ctx context.Context, g *game.Game, gr *room.GameRoom) error {
	endCh := make(chan error, 1)
	go func() { endCh <- gr.WaitUntilGameEnds(w.name) }()

	for {
		select {
		case _, ok := <-w.inbox:
			if !ok {
				return errConnectionLost
			}
			if err := w.respondErr(ctx, "you cannot send messages during a game"); err != nil {
				return err
			}

		case err := <-endCh:
			if err != nil {
				return err
			}
			return w.sendEvent(ctx, proto.NewGameFinishedEvent(g.GetWinners()))
		}
	}
}

// onGameDisconnect is the single funnel for every way a connection can die
// mid-game. Marking before reporting lets the remaining members learn of the
// death before the turn machinery moves on.
func (w *worker) onGameDisconnect(ctx context.Context, gr *room.GameRoom) {
	klog.Infof("%v disconnected from the game", w.name)
	gr.MarkClientDisconnected(w.name)
	if w.name.IsPlayer() {
		gr.ReportDisconnect(ctx, w.name)
	}
}
