package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/snake-arena/server/internal/client"
	"github.com/snake-arena/server/internal/game"
	"github.com/snake-arena/server/internal/proto"
)

// turnSignal is what travels through a member's rendezvous queue.
type turnSignal int

const (
	signalContinue turnSignal = iota // it is this player's turn
	signalExit                       // the room has ended
	signalDisconnect                 // this client's socket is known dead
)

// Category classifies a room member. Transitions are monotonic:
// AlivePlayer -> DeadPlayer or Disconnected, Viewer -> Disconnected.
// Re-applying a transition is a synchronization bug and panics.
type Category int

const (
	AlivePlayer Category = iota
	DeadPlayer
	ViewerMember
	Disconnected
)

// memberContext is the per-member synchronization state.
type memberContext struct {
	// signals is a capacity-1 rendezvous queue; done acknowledges turn
	// completion back to the master loop.
	signals chan turnSignal
	done    chan struct{}
	// dropped is closed when the member transitions to Disconnected, so
	// the master loop never blocks handing a turn to a gone client.
	dropped  chan struct{}
	category Category
	session  proto.Session
	mailbox  eventMailbox
}

// GameRoom is the turn-synchronization engine for one started room. It owns
// the master loop that advances players in fixed join order; exclusive
// access to the game state is enforced by the rendezvous protocol, not by a
// broad lock (the mutex below only guards the member table).
type GameRoom struct {
	name        string
	game        *game.Game
	order       []client.Name
	turnTimeout time.Duration
	turnDelay   time.Duration

	mu      sync.Mutex
	members map[client.Name]*memberContext

	// closed is closed once the master loop has fully finished; it unblocks
	// any straggler waiting on a rendezvous queue.
	closed    chan struct{}
	closeOnce sync.Once
}

// NewGameRoom builds the synchronizer for the given members. The order of
// clientNames is the turn order for the room's whole lifetime.
func NewGameRoom(clientNames []client.Name, g *game.Game, name string, turnTimeout, turnDelay time.Duration) *GameRoom {
	members := make(map[client.Name]*memberContext, len(clientNames))
	for _, cn := range clientNames {
		category := ViewerMember
		if cn.IsPlayer() {
			category = AlivePlayer
		}
		members[cn] = &memberContext{
			signals:  make(chan turnSignal, 1),
			done:     make(chan struct{}, 1),
			dropped:  make(chan struct{}),
			category: category,
		}
	}
	return &GameRoom{
		name:        name,
		game:        g,
		order:       clientNames,
		turnTimeout: turnTimeout,
		turnDelay:   turnDelay,
		members:     members,
		closed:      make(chan struct{}),
	}
}

// Name returns the room's display name at game start.
func (r *GameRoom) Name() string { return r.name }

// Game returns the engine driven by this room.
func (r *GameRoom) Game() *game.Game { return r.game }

// TurnTimeout returns the per-turn deadline, zero if disabled.
func (r *GameRoom) TurnTimeout() time.Duration { return r.turnTimeout }

func (r *GameRoom) member(cn client.Name) *memberContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.members[cn]
	if !ok {
		panic(fmt.Sprintf("no such client in the game room: %v", cn))
	}
	return ctx
}

// AttachSession hands the member's connection to the room. Attaching twice
// is a bug.
func (r *GameRoom) AttachSession(cn client.Name, sess proto.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.members[cn]
	if !ok {
		panic(fmt.Sprintf("no such client in the game room: %v", cn))
	}
	if ctx.session != nil {
		panic(fmt.Sprintf("session already attached for %v", cn))
	}
	ctx.session = sess
}

// MarkSnakeDead records a crash. Dying twice is a synchronization bug.
func (r *GameRoom) MarkSnakeDead(cn client.Name) {
	if !cn.IsPlayer() {
		panic(fmt.Sprintf("%v is not a player", cn))
	}
	ctx := r.member(cn)
	r.mu.Lock()
	if ctx.category == DeadPlayer {
		r.mu.Unlock()
		panic(fmt.Sprintf("snake %v somehow managed to die twice", cn))
	}
	ctx.category = DeadPlayer
	r.mu.Unlock()
	r.game.KillSnakeOff(cn.String())
}

// MarkClientDisconnected records a dropped connection. An alive player's
// snake is killed off as part of the transition. Disconnecting twice is a
// synchronization bug.
func (r *GameRoom) MarkClientDisconnected(cn client.Name) {
	ctx := r.member(cn)
	r.mu.Lock()
	if ctx.category == Disconnected {
		r.mu.Unlock()
		panic(fmt.Sprintf("client %v somehow managed to disconnect twice", cn))
	}
	wasAlive := ctx.category == AlivePlayer
	ctx.category = Disconnected
	close(ctx.dropped)
	r.mu.Unlock()
	if wasAlive {
		r.game.KillSnakeOff(cn.String())
	}
}

// ReportDeath tells every reachable member that this snake died.
func (r *GameRoom) ReportDeath(ctx context.Context, cn client.Name) {
	r.BroadcastEvent(ctx, proto.NewSnakeDiedEvent(cn.String()), nil)
}

// ReportDisconnect tells every reachable member that this client dropped.
// Viewers have no client-recognizable names, so only players are reported.
func (r *GameRoom) ReportDisconnect(ctx context.Context, cn client.Name) {
	if !cn.IsPlayer() {
		return
	}
	r.BroadcastEvent(ctx, proto.NewClientDisconnectedEvent(cn.String()), nil)
}

// ReportTimeout tells everyone except the timed-out player about the
// timeout; the player itself is about to be torn down.
func (r *GameRoom) ReportTimeout(ctx context.Context, cn client.Name) {
	r.BroadcastEvent(ctx, proto.NewPlayerTimedOutEvent(cn.String()), func(other client.Name) bool {
		return other != cn
	})
}

// LockEventsFor starts buffering events destined for this client so they
// cannot race the client's in-flight turn. The returned release is
// idempotent; defer it on every exit path.
func (r *GameRoom) LockEventsFor(cn client.Name) func() {
	return r.member(cn).mailbox.lock()
}

// WaitForTurn blocks until the master loop hands this player the turn.
// A nil return means it is now this player's turn. ErrRoomExit means the
// room has ended; ErrForceDisconnect means this client's socket is dead.
func (r *GameRoom) WaitForTurn(cn client.Name) error {
	if !cn.IsPlayer() {
		panic(fmt.Sprintf("%v is not a player", cn))
	}
	ctx := r.member(cn)
	select {
	case sig := <-ctx.signals:
		switch sig {
		case signalContinue:
			return nil
		case signalExit:
			return ErrRoomExit
		case signalDisconnect:
			return ErrForceDisconnect
		default:
			panic(fmt.Sprintf("unknown synchronization signal: %d", sig))
		}
	case <-r.closed:
		return ErrRoomExit
	}
}

// FinishTurn signals the master loop that this player's turn processing is
// complete.
func (r *GameRoom) FinishTurn(cn client.Name) {
	ctx := r.member(cn)
	select {
	case ctx.done <- struct{}{}:
	default:
		panic(fmt.Sprintf("turn finished twice for %v", cn))
	}
}

// WaitUntilGameEnds is the viewer-side counterpart of WaitForTurn: it blocks
// until the room terminates (nil) or this viewer's socket is found dead
// (ErrForceDisconnect).
func (r *GameRoom) WaitUntilGameEnds(cn client.Name) error {
	if cn.IsPlayer() {
		panic("WaitUntilGameEnds is only implemented for viewers")
	}
	ctx := r.member(cn)
	select {
	case sig := <-ctx.signals:
		switch sig {
		case signalExit:
			return nil
		case signalDisconnect:
			return ErrForceDisconnect
		default:
			panic(fmt.Sprintf("invalid viewer synchronization signal: %d", sig))
		}
	case <-r.closed:
		return nil
	}
}

// Broadcast applies action to every attached, non-disconnected member
// accepted by the filter (nil accepts all). A failed delivery forces that
// member onto the disconnect path without aborting delivery to the others.
func (r *GameRoom) Broadcast(ctx context.Context, action func(proto.Session) error, filter func(client.Name) bool) {
	for _, cn := range r.order {
		member := r.member(cn)
		r.mu.Lock()
		sess, category := member.session, member.category
		r.mu.Unlock()
		if sess == nil || category == Disconnected {
			continue
		}
		if filter != nil && !filter(cn) {
			continue
		}
		if err := action(sess); err != nil {
			klog.V(1).Infof("Broadcast to %v failed, forcing disconnect: %v", cn, err)
			r.ensureDisconnect(cn)
		}
	}
}

// BroadcastEvent delivers an event to every reachable member accepted by the
// filter. Members with a locked mailbox get the event queued instead, in
// enqueue order.
func (r *GameRoom) BroadcastEvent(ctx context.Context, ev proto.Event, filter func(client.Name) bool) {
	r.Broadcast(ctx, func(sess proto.Session) error {
		return sess.Send(ctx, proto.MustMessage(proto.MsgEventHappened, proto.EventHappenedMessage{Event: ev}))
	}, func(cn client.Name) bool {
		if filter != nil && !filter(cn) {
			return false
		}
		// Queue instead of sending when the member's turn is in flight or
		// earlier events still await their flush.
		return !r.member(cn).mailbox.offer(ev)
	})
}

// ensureDisconnect pushes the disconnect sentinel into the member's
// rendezvous queue without ever blocking the caller.
func (r *GameRoom) ensureDisconnect(cn client.Name) {
	ctx := r.member(cn)
	select {
	case ctx.signals <- signalDisconnect:
	default:
		go func() {
			select {
			case ctx.signals <- signalDisconnect:
			case <-r.closed:
			}
		}()
	}
}

// flushMailboxes delivers all queued events of unlocked mailboxes, in
// enqueue order, before the next turn begins.
func (r *GameRoom) flushMailboxes(ctx context.Context) {
	for _, cn := range r.order {
		member := r.member(cn)
		events := member.mailbox.drain()
		if len(events) == 0 {
			continue
		}
		r.mu.Lock()
		sess, category := member.session, member.category
		r.mu.Unlock()
		if sess == nil || category == Disconnected {
			continue
		}
		for _, ev := range events {
			msg := proto.MustMessage(proto.MsgEventHappened, proto.EventHappenedMessage{Event: ev})
			if err := sess.Send(ctx, msg); err != nil {
				klog.V(1).Infof("Mailbox flush to %v failed, forcing disconnect: %v", cn, err)
				r.ensureDisconnect(cn)
				break
			}
		}
	}
}

// RunLoop is the room's master loop: it advances players in stable join
// order, hands each alive player the turn and blocks until that player
// reports completion, diffs score snapshots to publish changes, and tears
// everything down once the finish condition holds. Exactly one RunLoop runs
// per room; it exits only when the game is over.
func (r *GameRoom) RunLoop(ctx context.Context) {
	defer r.closeOnce.Do(func() { close(r.closed) })

	lastScore := r.game.Score()
	r.BroadcastEvent(ctx, proto.NewGameScoreChangedEvent(lastScore), nil)

	klog.V(1).Infof("Turn loop started for room %q", r.name)
	for {
		for _, cn := range r.order {
			if r.game.IsFinishConditionSatisfied() {
				klog.Infof("Game in the room %q has finished", r.name)
				r.flushMailboxes(ctx)
				r.terminateAllSessions()
				return
			}

			member := r.member(cn)
			r.mu.Lock()
			category := member.category
			r.mu.Unlock()

			if category == AlivePlayer {
				r.flushMailboxes(ctx)
				klog.V(1).Infof("%v's turn in room %q", cn, r.name)

				if r.giveTurn(member) {
					currentScore := r.game.Score()
					if !currentScore.Equal(lastScore) {
						r.BroadcastEvent(ctx, proto.NewGameScoreChangedEvent(currentScore), nil)
						lastScore = currentScore
					}
				}
			}

			if r.turnDelay > 0 {
				time.Sleep(r.turnDelay)
			}
		}
		r.game.FinishTurn()
	}
}

// giveTurn performs the rendezvous hand-off with one player and reports
// whether a turn actually took place. A member that disconnects while the
// hand-off is pending never blocks the loop: an unconsumed continue signal
// is reclaimed, and a consumed one is always acknowledged by the dying
// worker's deferred FinishTurn.
func (r *GameRoom) giveTurn(member *memberContext) bool {
	select {
	case member.signals <- signalContinue:
	case <-member.dropped:
		return false
	}

	select {
	case <-member.done:
		return true
	case <-member.dropped:
		select {
		case sig := <-member.signals:
			if sig == signalContinue {
				// The member never picked the turn up.
				return false
			}
			// A disconnect sentinel was queued behind the consumed turn;
			// completion is still on its way.
			<-member.done
			return true
		default:
			// The turn was picked up; completion is on its way.
			<-member.done
			return true
		}
	}
}

// terminateAllSessions pushes the exit sentinel to every member that is not
// already disconnected.
func (r *GameRoom) terminateAllSessions() {
	klog.V(1).Infof("Terminating all game sessions in room %q", r.name)
	for _, cn := range r.order {
		member := r.member(cn)
		r.mu.Lock()
		category := member.category
		r.mu.Unlock()
		if category == Disconnected {
			continue
		}
		select {
		case member.signals <- signalExit:
		default:
			// The queue already carries a sentinel; the closed channel will
			// unblock this member regardless.
		}
	}
}

// Category returns the member's current category.
func (r *GameRoom) Category(cn client.Name) Category {
	ctx := r.member(cn)
	r.mu.Lock()
	defer r.mu.Unlock()
	return ctx.category
}
