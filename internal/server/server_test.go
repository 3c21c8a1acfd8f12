package server

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/snake-arena/server/internal/config"
	"github.com/snake-arena/server/internal/proto"
)

// startServer runs a server on a free localhost port and stops it with the
// test.
func startServer(t *testing.T, limits config.Limits) *State {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	started := make(chan *State, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, "", limits, started) }()

	select {
	case state := <-started:
		return state
	case err := <-errCh:
		t.Fatalf("Server failed to start: %v", err)
		return nil
	}
}

func testLimits() config.Limits {
	limits := config.Default()
	limits.TurnDelay = 0
	return limits
}

type testClient struct {
	conn *websocket.Conn
}

func dialClient(state *State, name string) (*testClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+state.Address+"/ws", nil)
	if err != nil {
		return nil, err
	}
	c := &testClient{conn: conn}
	hello := proto.MustMessage(proto.MsgClientHello, proto.ClientHelloMessage{Name: name})
	if err := c.send(hello); err != nil {
		return nil, err
	}
	msg, err := c.receive()
	if err != nil {
		return nil, err
	}
	if msg.Type != proto.MsgServerHello {
		return nil, fmt.Errorf("expected a server hello, got %s", msg.Type)
	}
	return c, nil
}

func connect(t *testing.T, state *State, name string) *testClient {
	t.Helper()
	c, err := dialClient(state, name)
	if err != nil {
		t.Fatalf("Connecting %q: %v", name, err)
	}
	t.Cleanup(c.close)
	return c
}

func (c *testClient) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *testClient) send(msg proto.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *testClient) receive() (proto.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var msg proto.Message
	err := wsjson.Read(ctx, c.conn, &msg)
	return msg, err
}

// command sends a message and checks the type of the server's reply.
func (c *testClient) command(msg proto.Message, want proto.MessageType) error {
	if err := c.send(msg); err != nil {
		return err
	}
	reply, err := c.receive()
	if err != nil {
		return err
	}
	if reply.Type != want {
		return fmt.Errorf("expected %s, got %s (payload %s)", want, reply.Type, reply.Payload)
	}
	return nil
}

func (c *testClient) setProps(props map[string]json.RawMessage) error {
	msg := proto.MustMessage(proto.MsgSetRoomProps, proto.SetRoomPropsMessage{Properties: props})
	return c.command(msg, proto.MsgOk)
}

type gameResult struct {
	winners []string
	events  []proto.Event
}

// playGame answers every turn prompt with a fixed move until the game
// finishes, collecting the events seen along the way. With respond false the
// prompts are silently ignored.
func (c *testClient) playGame(respond bool) (*gameResult, error) {
	res := &gameResult{}
	for {
		msg, err := c.receive()
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case proto.MsgYourTurn:
			if !respond {
				continue
			}
			act := proto.MustMessage(proto.MsgAct, proto.ActMessage{Action: proto.Action{Move: proto.Up}})
			if err := c.send(act); err != nil {
				return nil, err
			}

		case proto.MsgEventHappened:
			payload, err := msg.Parse()
			if err != nil {
				return nil, err
			}
			ev := payload.(*proto.EventHappenedMessage).Event
			res.events = append(res.events, ev)
			if ev.Name == proto.EventGameFinished {
				var data proto.GameFinishedData
				if err := json.Unmarshal(ev.Data, &data); err != nil {
					return nil, err
				}
				res.winners = data.Winners
				return res, nil
			}

		case proto.MsgOk, proto.MsgErr, proto.MsgNewFieldState:

		default:
			return nil, fmt.Errorf("unexpected message during a game: %s", msg.Type)
		}
	}
}

func hasEvent(events []proto.Event, name string) bool {
	for _, ev := range events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

// countNamedEvents counts events whose payload is the given subject name.
func countNamedEvents(events []proto.Event, name, subject string) int {
	n := 0
	for _, ev := range events {
		if ev.Name != name {
			continue
		}
		var s string
		if json.Unmarshal(ev.Data, &s) == nil && s == subject {
			n++
		}
	}
	return n
}

// smallGameProps keeps test games short: a tiny field and a hard turn cap.
func smallGameProps() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"open":         json.RawMessage(`"open"`),
		"snake_len":    json.RawMessage(`3`),
		"field_width":  json.RawMessage(`10`),
		"field_height": json.RawMessage(`10`),
		"max_turns":    json.RawMessage(`30`),
	}
}

func TestFullGameWithViewer(t *testing.T) {
	state := startServer(t, testLimits())

	p1 := connect(t, state, "alice")
	if err := p1.command(proto.MustMessage(proto.MsgNewRoom, nil), proto.MsgOk); err != nil {
		t.Fatalf("Creating a room: %v", err)
	}
	if err := p1.setProps(smallGameProps()); err != nil {
		t.Fatalf("Configuring the room: %v", err)
	}

	// The viewer finds the room through the lobby listing.
	viewer := connect(t, state, "@viewer")
	if err := viewer.send(proto.MustMessage(proto.MsgListRooms, nil)); err != nil {
		t.Fatal(err)
	}
	msg, err := viewer.receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != proto.MsgRoomList {
		t.Fatalf("Expected a room list, got %s", msg.Type)
	}
	payload, err := msg.Parse()
	if err != nil {
		t.Fatal(err)
	}
	rooms := payload.(*proto.RoomListMessage).Rooms
	if len(rooms) != 1 {
		t.Fatalf("Expected exactly one room, got %d", len(rooms))
	}
	if rooms[0].CanJoin != proto.CanJoinYes {
		t.Errorf("Expected the room to be joinable, got %v", rooms[0].CanJoin)
	}
	enter := proto.MustMessage(proto.MsgEnterRoom, proto.EnterRoomMessage{Name: rooms[0].ID})
	if err := viewer.command(enter, proto.MsgOk); err != nil {
		t.Fatalf("Viewer entering the room: %v", err)
	}

	p2 := connect(t, state, "bob")
	if err := p2.command(proto.MustMessage(proto.MsgEnterAnyRoom, nil), proto.MsgOk); err != nil {
		t.Fatalf("Entering any room: %v", err)
	}

	clients := map[string]*testClient{"alice": p1, "bob": p2, "viewer": viewer}
	for name, c := range clients {
		if err := c.send(proto.MustMessage(proto.MsgReady, nil)); err != nil {
			t.Fatalf("Sending ready for %s: %v", name, err)
		}
	}

	results := make(map[string]chan *gameResult, len(clients))
	for name, c := range clients {
		ch := make(chan *gameResult, 1)
		results[name] = ch
		go func() {
			res, err := c.playGame(true)
			if err != nil {
				t.Errorf("Game for %s: %v", name, err)
				res = &gameResult{}
			}
			ch <- res
		}()
	}

	var winners []string
	for name, ch := range results {
		res := <-ch
		if !hasEvent(res.events, proto.EventGameStarted) {
			t.Errorf("%s never saw the game start", name)
		}
		if winners == nil {
			winners = res.winners
		} else if res.winners != nil && !slices.Equal(winners, res.winners) {
			t.Errorf("Winner lists disagree: %v vs %v", winners, res.winners)
		}
	}
}

func TestPlayerDisconnectMidGame(t *testing.T) {
	state := startServer(t, testLimits())

	p1 := connect(t, state, "alice")
	if err := p1.command(proto.MustMessage(proto.MsgNewRoom, nil), proto.MsgOk); err != nil {
		t.Fatal(err)
	}
	if err := p1.setProps(smallGameProps()); err != nil {
		t.Fatal(err)
	}

	p2 := connect(t, state, "bob")
	p3 := connect(t, state, "carol")
	for _, c := range []*testClient{p2, p3} {
		if err := c.command(proto.MustMessage(proto.MsgEnterAnyRoom, nil), proto.MsgOk); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range []*testClient{p1, p2, p3} {
		if err := c.send(proto.MustMessage(proto.MsgReady, nil)); err != nil {
			t.Fatal(err)
		}
	}

	// alice drops her connection the moment she is asked for her first move.
	go func() {
		for {
			msg, err := p1.receive()
			if err != nil {
				return
			}
			if msg.Type == proto.MsgYourTurn {
				p1.close()
				return
			}
		}
	}()

	survivors := map[string]*testClient{"bob": p2, "carol": p3}
	results := make(map[string]chan *gameResult, len(survivors))
	for name, c := range survivors {
		ch := make(chan *gameResult, 1)
		results[name] = ch
		go func() {
			res, err := c.playGame(true)
			if err != nil {
				t.Errorf("Game for %s: %v", name, err)
				res = &gameResult{}
			}
			ch <- res
		}()
	}

	for name, ch := range results {
		res := <-ch
		if n := countNamedEvents(res.events, proto.EventClientDisconnected, "alice"); n != 1 {
			t.Errorf("%s saw %d disconnect notifications for alice, want 1", name, n)
		}
		if slices.Contains(res.winners, "alice") {
			t.Errorf("A disconnected player cannot win, got %v", res.winners)
		}
	}
}

func TestTurnTimeout(t *testing.T) {
	state := startServer(t, testLimits())

	p1 := connect(t, state, "alice")
	if err := p1.command(proto.MustMessage(proto.MsgNewRoom, nil), proto.MsgOk); err != nil {
		t.Fatal(err)
	}
	props := smallGameProps()
	props["turn_timeout_seconds"] = json.RawMessage(`0.2`)
	if err := p1.setProps(props); err != nil {
		t.Fatal(err)
	}

	p2 := connect(t, state, "bob")
	if err := p2.command(proto.MustMessage(proto.MsgEnterAnyRoom, nil), proto.MsgOk); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*testClient{p1, p2} {
		if err := c.send(proto.MustMessage(proto.MsgReady, nil)); err != nil {
			t.Fatal(err)
		}
	}

	// alice never answers her turn prompts; the server eventually drops her.
	go func() { _, _ = p1.playGame(false) }()

	res, err := p2.playGame(true)
	if err != nil {
		t.Fatalf("Game for bob: %v", err)
	}
	if n := countNamedEvents(res.events, proto.EventPlayerTimedOut, "alice"); n != 1 {
		t.Errorf("Saw %d timeout notifications for alice, want 1", n)
	}
	if n := countNamedEvents(res.events, proto.EventClientDisconnected, "alice"); n != 1 {
		t.Errorf("Saw %d disconnect notifications for alice, want 1", n)
	}
	if slices.Contains(res.winners, "alice") {
		t.Errorf("A timed-out player cannot win, got %v", res.winners)
	}
}

func TestDuplicateClientNameRejected(t *testing.T) {
	state := startServer(t, testLimits())

	first := connect(t, state, "alice")

	if _, err := dialClient(state, "alice"); err == nil {
		t.Fatal("A second connection with a taken name must be rejected")
	}

	// The name frees up once the first connection ends.
	first.close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := dialClient(state, "alice")
		if err == nil {
			c.close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Name was never released: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRejectsGameMessages(t *testing.T) {
	state := startServer(t, testLimits())

	c := connect(t, state, "alice")
	act := proto.MustMessage(proto.MsgAct, proto.ActMessage{Action: proto.Action{Move: proto.Up}})
	if err := c.command(act, proto.MsgErr); err != nil {
		t.Fatalf("Expected an error response: %v", err)
	}

	// The lobby still works afterwards.
	if err := c.send(proto.MustMessage(proto.MsgListRooms, nil)); err != nil {
		t.Fatal(err)
	}
	msg, err := c.receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != proto.MsgRoomList {
		t.Fatalf("Expected a room list, got %s", msg.Type)
	}
}

func TestInvalidClientNameRejected(t *testing.T) {
	state := startServer(t, testLimits())

	for _, name := range []string{"", "white space", "bad\nname"} {
		if _, err := dialClient(state, name); err == nil {
			t.Errorf("Name %q must be rejected", name)
		}
	}
}
