package room

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snake-arena/server/internal/client"
	"github.com/snake-arena/server/internal/game"
	"github.com/snake-arena/server/internal/proto"
)

func newTestGame(t *testing.T, players []string, maxTurns int) *game.Game {
	t.Helper()
	g, err := game.NewGame(players, game.Config{
		SnakeLen:    3,
		FieldWidth:  20,
		FieldHeight: 20,
		RespawnFood: proto.FoodRespawn{Kind: proto.RespawnNo},
		MaxTurns:    maxTurns,
	}, 100000)
	require.NoError(t, err)
	return g
}

// attachPipes attaches a pipe session per member and returns the peer ends.
func attachPipes(gr *GameRoom, names []client.Name) map[string]*proto.PipeSession {
	peers := make(map[string]*proto.PipeSession, len(names))
	for _, cn := range names {
		server, peer := proto.NewSessionPipe()
		gr.AttachSession(cn, server)
		peers[cn.String()] = peer
	}
	return peers
}

func receiveEvent(t *testing.T, sess proto.Session) proto.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sess.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, proto.MsgEventHappened, msg.Type)
	parsed, err := msg.Parse()
	require.NoError(t, err)
	return parsed.(*proto.EventHappenedMessage).Event
}

func requireNoMessage(t *testing.T, sess proto.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	msg, err := sess.Receive(ctx)
	require.Error(t, err, "unexpected message of type %q", msg.Type)
}

// The master loop must hand out turns in stable join order, at most one in
// flight at any moment.
func TestRunLoopHandsTurnsInOrder(t *testing.T) {
	names := []client.Name{player(t, "a"), player(t, "b"), player(t, "c")}
	g := newTestGame(t, []string{"a", "b", "c"}, 5)
	gr := NewGameRoom(names, g, "arena", 0, 0)
	attachPipes(gr, names)

	var inFlight atomic.Int32
	var mu sync.Mutex
	var sequence []string

	var wg sync.WaitGroup
	for _, cn := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := gr.WaitForTurn(cn)
				if errors.Is(err, ErrRoomExit) {
					return
				}
				if err != nil {
					t.Errorf("WaitForTurn(%v): %v", cn, err)
					return
				}
				if n := inFlight.Add(1); n != 1 {
					t.Errorf("%d turns in flight at once", n)
				}
				mu.Lock()
				sequence = append(sequence, cn.String())
				mu.Unlock()
				inFlight.Add(-1)
				gr.FinishTurn(cn)
			}
		}()
	}

	gr.RunLoop(context.Background())
	wg.Wait()

	require.Len(t, sequence, 15)
	for i, name := range sequence {
		assert.Equal(t, []string{"a", "b", "c"}[i%3], name)
	}
}

// Events addressed to a client whose turn is in flight are held back and
// delivered in order once the turn completes.
func TestBroadcastEventBuffersDuringTurn(t *testing.T) {
	names := []client.Name{player(t, "a"), player(t, "b")}
	g := newTestGame(t, []string{"a", "b"}, 10)
	gr := NewGameRoom(names, g, "arena", 0, 0)
	peers := attachPipes(gr, names)

	ctx := context.Background()
	release := gr.LockEventsFor(names[0])
	gr.BroadcastEvent(ctx, proto.NewSnakeDiedEvent("x"), nil)
	gr.BroadcastEvent(ctx, proto.NewClientDisconnectedEvent("y"), nil)

	assert.Equal(t, proto.EventSnakeDied, receiveEvent(t, peers["b"]).Name)
	assert.Equal(t, proto.EventClientDisconnected, receiveEvent(t, peers["b"]).Name)
	requireNoMessage(t, peers["a"])

	release()
	release() // idempotent
	gr.flushMailboxes(ctx)
	assert.Equal(t, proto.EventSnakeDied, receiveEvent(t, peers["a"]).Name)
	assert.Equal(t, proto.EventClientDisconnected, receiveEvent(t, peers["a"]).Name)
}

// An event broadcast after the turn lock is released must not overtake
// events still queued from during the turn.
func TestReleasedMailboxKeepsEventOrder(t *testing.T) {
	names := []client.Name{player(t, "a"), player(t, "b")}
	g := newTestGame(t, []string{"a", "b"}, 10)
	gr := NewGameRoom(names, g, "arena", 0, 0)
	peers := attachPipes(gr, names)

	ctx := context.Background()
	release := gr.LockEventsFor(names[0])
	gr.BroadcastEvent(ctx, proto.NewClientDisconnectedEvent("x"), nil)
	release()
	gr.BroadcastEvent(ctx, proto.NewGameScoreChangedEvent(map[string]int{"a": 1}), nil)
	gr.flushMailboxes(ctx)

	assert.Equal(t, proto.EventClientDisconnected, receiveEvent(t, peers["a"]).Name)
	assert.Equal(t, proto.EventGameScoreChanged, receiveEvent(t, peers["a"]).Name)

	assert.Equal(t, proto.EventClientDisconnected, receiveEvent(t, peers["b"]).Name)
	assert.Equal(t, proto.EventGameScoreChanged, receiveEvent(t, peers["b"]).Name)
}

// A member whose socket fails during a broadcast is forced onto the
// disconnect path; the others still get the event.
func TestFailedBroadcastForcesDisconnect(t *testing.T) {
	names := []client.Name{player(t, "a"), player(t, "b")}
	g := newTestGame(t, []string{"a", "b"}, 10)
	gr := NewGameRoom(names, g, "arena", 0, 0)
	peers := attachPipes(gr, names)
	require.NoError(t, peers["b"].Close())

	gr.BroadcastEvent(context.Background(), proto.NewSnakeDiedEvent("x"), nil)

	assert.Equal(t, proto.EventSnakeDied, receiveEvent(t, peers["a"]).Name)
	assert.ErrorIs(t, gr.WaitForTurn(names[1]), ErrForceDisconnect)
}

func TestMarkClientDisconnectedTwicePanics(t *testing.T) {
	names := []client.Name{player(t, "a"), player(t, "b")}
	g := newTestGame(t, []string{"a", "b"}, 10)
	gr := NewGameRoom(names, g, "arena", 0, 0)

	gr.MarkClientDisconnected(names[1])
	assert.Equal(t, Disconnected, gr.Category(names[1]))
	require.Panics(t, func() { gr.MarkClientDisconnected(names[1]) })
}

func TestMarkSnakeDeadTwicePanics(t *testing.T) {
	names := []client.Name{player(t, "a"), player(t, "b")}
	g := newTestGame(t, []string{"a", "b"}, 10)
	gr := NewGameRoom(names, g, "arena", 0, 0)

	gr.MarkSnakeDead(names[0])
	assert.Equal(t, DeadPlayer, gr.Category(names[0]))
	require.Panics(t, func() { gr.MarkSnakeDead(names[0]) })

	// A dead player's connection can still drop afterwards.
	gr.MarkClientDisconnected(names[0])
	assert.Equal(t, Disconnected, gr.Category(names[0]))
}

// Disconnecting one of two players satisfies the finish condition; the
// remaining player is released with the exit sentinel and wins.
func TestRunLoopEndsWhenOnePlayerRemains(t *testing.T) {
	names := []client.Name{player(t, "a"), player(t, "b")}
	g := newTestGame(t, []string{"a", "b"}, 100)
	gr := NewGameRoom(names, g, "arena", 0, 0)
	attachPipes(gr, names)

	gr.MarkClientDisconnected(names[1])

	done := make(chan struct{})
	go func() {
		gr.RunLoop(context.Background())
		close(done)
	}()

	assert.ErrorIs(t, gr.WaitForTurn(names[0]), ErrRoomExit)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("master loop did not finish")
	}
	assert.Equal(t, []string{"a"}, g.GetWinners())
}

// A turn granted to a player that disconnects before picking it up must be
// reclaimed; the loop may never block on a gone client.
func TestTurnGrantReclaimedAfterDisconnect(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		names := []client.Name{player(t, "a"), player(t, "b")}
		g := newTestGame(t, []string{"a", "b"}, 100)
		gr := NewGameRoom(names, g, "arena", 0, 0)
		attachPipes(gr, names)

		done := make(chan struct{})
		go func() {
			gr.RunLoop(context.Background())
			close(done)
		}()

		// a plays; b never asks for its turn.
		require.NoError(t, gr.WaitForTurn(names[0]))
		gr.FinishTurn(names[0])

		// Once everything is durably blocked, the loop is waiting on the
		// hand-off to b.
		synctest.Wait()
		gr.MarkClientDisconnected(names[1])

		assert.ErrorIs(t, gr.WaitForTurn(names[0]), ErrRoomExit)
		<-done
	})
}
