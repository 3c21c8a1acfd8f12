// Package room tracks which clients are in which room, room properties and
// lifecycle, and the turn synchronization of started games.
package room

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/snake-arena/server/internal/client"
	"github.com/snake-arena/server/internal/config"
	"github.com/snake-arena/server/internal/game"
	"github.com/snake-arena/server/internal/proto"
)

// StartedGame is what the readiness barrier publishes to every waiter:
// either one shared (Game, GameRoom) pair, or the construction error.
type StartedGame struct {
	Game *game.Game
	Room *GameRoom
	Err  error
}

// roomSync carries a forming room's readiness state.
type roomSync struct {
	ready  map[client.Name]struct{}
	pubsub PubSub[StartedGame]
}

// Manager owns all rooms. Unlike game state, its maps are touched
// concurrently by every hub-state client, so a single lock guards them.
type Manager struct {
	limits config.Limits

	mu      sync.Mutex
	mapping *Mapping
	alias   map[string]string // display name (and id) -> room id
	rooms   map[string]*Details
	syncs   map[string]*roomSync
}

func NewManager(limits config.Limits) *Manager {
	return &Manager{
		limits:  limits,
		mapping: NewMapping(),
		alias:   make(map[string]string),
		rooms:   make(map[string]*Details),
		syncs:   make(map[string]*roomSync),
	}
}

// CreateRoom makes a fresh room with the invoking client as its sole admin
// and puts the client in it. The client must be in the hub.
func (m *Manager) CreateRoom(invoking client.Name) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createRoomLocked(invoking)
}

func (m *Manager) createRoomLocked(invoking client.Name) (string, error) {
	if err := m.mapping.CheckClientIsInHub(invoking); err != nil {
		return "", err
	}

	roomID := uuid.NewString()
	for m.mapping.RoomExists(roomID) {
		roomID = uuid.NewString()
	}

	klog.Infof("%v creates a room %q", invoking, roomID)
	if err := m.mapping.AddRoom(roomID); err != nil {
		return "", err
	}
	if err := m.mapping.AddClientToRoom(roomID, invoking); err != nil {
		return "", err
	}
	m.alias[roomID] = roomID
	m.rooms[roomID] = defaultDetails(roomID, invoking.String())
	m.syncs[roomID] = &roomSync{ready: make(map[client.Name]struct{})}
	return roomID, nil
}

// EnterRoom joins a named room, subject to its open policy and capacity.
func (m *Manager) EnterRoom(invoking client.Name, roomName string, password *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enterRoomLocked(invoking, roomName, password)
}

func (m *Manager) enterRoomLocked(invoking client.Name, roomName string, password *string) error {
	roomID, ok := m.alias[roomName]
	if !ok {
		return &RoomDoesNotExistError{Room: roomName}
	}
	if err := m.mapping.CheckClientIsInHub(invoking); err != nil {
		return err
	}
	details := m.rooms[roomID]
	if details.GameStarted {
		return &GameAlreadyStartedError{Room: roomName}
	}

	// Capacity applies to players only; not meeting the lower bound is fine.
	numPlayers, err := m.mapping.CountPlayersInRoom(roomID)
	if err != nil {
		return err
	}
	if invoking.IsPlayer() && numPlayers+1 > details.MaxPlayers {
		return &RoomIsFullError{Room: roomName}
	}

	if err := checkOpenness(invoking, roomName, details, password); err != nil {
		return err
	}

	klog.Infof("%v enters room %q", invoking, roomName)
	return m.mapping.AddClientToRoom(roomID, invoking)
}

func checkOpenness(invoking client.Name, roomName string, details *Details, password *string) error {
	switch details.Open.Kind {
	case proto.RoomOpen:
		return nil
	case proto.RoomClosed:
		return &RoomIsClosedError{Room: roomName}
	case proto.RoomPassword:
		if password == nil || !passwordsEqual(*password, details.Open.Password) {
			return &InvalidPasswordError{Room: roomName}
		}
		return nil
	case proto.RoomWhitelist:
		if invoking.IsPlayer() {
			for _, name := range details.Open.Whitelist {
				if name == invoking.String() {
					return nil
				}
			}
		} else {
			for _, name := range details.Open.Whitelist {
				if name == "@viewers" {
					return nil
				}
			}
		}
		return &NotWhitelistedError{Room: roomName}
	}
	panic(fmt.Sprintf("invalid openness kind: %d", details.Open.Kind))
}

func passwordsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// EnterAnyRoom joins the first joinable room, or creates a new one when no
// room accepts the client. Password-protected rooms are never auto-joined.
func (m *Manager) EnterAnyRoom(invoking client.Name) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.mapping.CheckClientIsInHub(invoking); err != nil {
		return "", err
	}

	for _, roomID := range m.sortedRoomIDs() {
		info := m.roomInfoLocked(invoking, roomID)
		if info.CanJoin != proto.CanJoinYes {
			continue
		}
		if err := m.enterRoomLocked(invoking, m.rooms[roomID].Name, nil); err == nil {
			return m.rooms[roomID].Name, nil
		}
	}
	return m.createRoomLocked(invoking)
}

// LeaveRoom removes the client from its room. An emptied room is deleted;
// a leaving admin is dropped from the admin set.
func (m *Manager) LeaveRoom(invoking client.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveRoomLocked(invoking)
}

func (m *Manager) leaveRoomLocked(invoking client.Name) error {
	roomID, err := m.mapping.RoomWithClient(invoking)
	if err != nil {
		return err
	}
	details := m.rooms[roomID]
	if details.GameStarted {
		return &GameAlreadyStartedError{Room: details.Name}
	}

	klog.Infof("%v leaves the room %q", invoking, details.Name)
	if err := m.mapping.RemoveClientFromRoom(invoking); err != nil {
		return err
	}
	delete(m.syncs[roomID].ready, invoking)

	clients, err := m.mapping.ClientsInRoom(roomID)
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		return m.removeRoomLocked(roomID)
	}
	delete(details.Admins, invoking.String())
	return nil
}

func (m *Manager) removeRoomLocked(roomID string) error {
	details, ok := m.rooms[roomID]
	if !ok {
		return &RoomDoesNotExistError{Room: roomID}
	}
	klog.Infof("Removing room %q", details.Name)
	if err := m.mapping.RemoveRoom(roomID); err != nil {
		return err
	}
	delete(m.alias, details.Name)
	delete(m.alias, roomID)
	delete(m.syncs, roomID)
	delete(m.rooms, roomID)
	return nil
}

func (m *Manager) sortedRoomIDs() []string {
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// formingRoomOf resolves the not-yet-started room the client is in.
func (m *Manager) formingRoomOf(invoking client.Name) (string, *Details, error) {
	roomID, err := m.mapping.RoomWithClient(invoking)
	if err != nil {
		return "", nil, err
	}
	details := m.rooms[roomID]
	if details.GameStarted {
		return "", nil, &GameAlreadyStartedError{Room: details.Name}
	}
	return roomID, details, nil
}

// GetRoomProperties returns the room's property map. Non-admins get the
// password value stripped, but still see that the room is password-protected.
func (m *Manager) GetRoomProperties(invoking client.Name) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, details, err := m.formingRoomOf(invoking)
	if err != nil {
		return nil, err
	}

	open := details.Open
	if !details.isAdmin(invoking.String()) {
		open = open.StripSecret()
	}

	admins := make([]string, 0, len(details.Admins))
	for name := range details.Admins {
		admins = append(admins, name)
	}
	sort.Strings(admins)

	props := map[string]any{
		"name":           details.Name,
		"players":        m.playersInRoomLocked(roomID),
		"admins":         admins,
		"min_players":    details.MinPlayers,
		"max_players":    details.MaxPlayers,
		"snake_len":      details.SnakeLen,
		"field_width":    details.FieldWidth,
		"field_height":   details.FieldHeight,
		"num_food_items": details.NumFood,
		"respawn_food":   details.RespawnFood,
		"open":           open,
	}
	if details.MaxTurns > 0 {
		props["max_turns"] = details.MaxTurns
	} else {
		props["max_turns"] = nil
	}
	if details.TurnTimeout > 0 {
		props["turn_timeout_seconds"] = details.TurnTimeout.Seconds()
	} else {
		props["turn_timeout_seconds"] = nil
	}
	return props, nil
}

func (m *Manager) playersInRoomLocked(roomID string) []string {
	clients, _ := m.mapping.ClientsInRoom(roomID)
	players := make([]string, 0, len(clients))
	for c := range clients {
		if c.IsPlayer() {
			players = append(players, c.String())
		}
	}
	sort.Strings(players)
	return players
}

// SetRoomProperties applies admin-supplied property writes. Each property is
// validated independently and fail-fast, in sorted key order.
func (m *Manager) SetRoomProperties(invoking client.Name, props map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, details, err := m.formingRoomOf(invoking)
	if err != nil {
		return err
	}
	if !invoking.IsPlayer() || !details.isAdmin(invoking.String()) {
		return &PropertyAccessDeniedError{Key: "*"}
	}

	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := m.setRoomPropertyLocked(roomID, details, key, props[key]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) setRoomPropertyLocked(roomID string, details *Details, key string, raw json.RawMessage) error {
	switch key {
	case "name":
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return &PropertyValueError{Key: key, Reason: "must be a string"}
		}
		return m.renameRoomLocked(details, name)

	case "players":
		return &PropertyReadOnlyError{Key: key}

	case "admins":
		var admins []string
		if err := json.Unmarshal(raw, &admins); err != nil {
			return &PropertyValueError{Key: key, Reason: "must be a list of player names"}
		}
		if len(admins) == 0 {
			return &PropertyValueError{Key: key, Reason: "must be non-empty"}
		}
		players := make(map[string]struct{})
		for _, p := range m.playersInRoomLocked(roomID) {
			players[p] = struct{}{}
		}
		adminSet := make(map[string]struct{}, len(admins))
		for _, name := range admins {
			if _, ok := players[name]; !ok {
				return &PropertyValueError{Key: key, Reason: fmt.Sprintf("%q is not in this room", name)}
			}
			adminSet[name] = struct{}{}
		}
		details.Admins = adminSet
		return nil

	case "min_players":
		v, err := intValue(raw, key)
		if err != nil {
			return err
		}
		if v < 1 || v > details.MaxPlayers {
			return &PropertyValueError{Key: key, Reason: "must be at least 1 and at most `max_players`"}
		}
		details.MinPlayers = v
		return nil

	case "max_players":
		v, err := intValue(raw, key)
		if err != nil {
			return err
		}
		numPlayers, _ := m.mapping.CountPlayersInRoom(roomID)
		if v < numPlayers || v < details.MinPlayers {
			return &PropertyValueError{
				Key:    key,
				Reason: "must be at least the current number of players in the room and at least `min_players`",
			}
		}
		if v > m.limits.MaxPlayersInRoom {
			return &PropertyValueError{Key: key, Reason: fmt.Sprintf("must be at most %d", m.limits.MaxPlayersInRoom)}
		}
		details.MaxPlayers = v
		return nil

	case "snake_len":
		v, err := intValue(raw, key)
		if err != nil {
			return err
		}
		if v < 1 {
			return &PropertyValueError{Key: key, Reason: "must be at least 1"}
		}
		if v > m.limits.MaxSnakeLen {
			return &PropertyValueError{Key: key, Reason: fmt.Sprintf("must be at most %d", m.limits.MaxSnakeLen)}
		}
		details.SnakeLen = v
		return nil

	case "field_width", "field_height":
		v, err := intValue(raw, key)
		if err != nil {
			return err
		}
		if v < m.limits.MinFieldSide || v < 2 {
			return &PropertyValueError{Key: key, Reason: "must be at least 2"}
		}
		if v > m.limits.MaxFieldSide {
			return &PropertyValueError{Key: key, Reason: fmt.Sprintf("must be at most %d", m.limits.MaxFieldSide)}
		}
		if key == "field_width" {
			details.FieldWidth = v
		} else {
			details.FieldHeight = v
		}
		return nil

	case "num_food_items":
		v, err := intValue(raw, key)
		if err != nil {
			return err
		}
		if v < 0 {
			return &PropertyValueError{Key: key, Reason: "must be non-negative"}
		}
		if v > m.limits.MaxFoodItems {
			return &PropertyValueError{Key: key, Reason: fmt.Sprintf("must be at most %d", m.limits.MaxFoodItems)}
		}
		details.NumFood = v
		return nil

	case "respawn_food":
		var policy proto.FoodRespawn
		if err := json.Unmarshal(raw, &policy); err != nil {
			return &PropertyValueError{Key: key, Reason: err.Error()}
		}
		details.RespawnFood = policy
		return nil

	case "open":
		var open proto.RoomOpenness
		if err := json.Unmarshal(raw, &open); err != nil {
			return &PropertyValueError{Key: key, Reason: err.Error()}
		}
		if open.Kind == proto.RoomPassword && len(open.Password) > m.limits.MaxPasswordLen {
			return &PropertyValueError{Key: key, Reason: fmt.Sprintf("password must be at most %d bytes", m.limits.MaxPasswordLen)}
		}
		details.Open = open
		return nil

	case "max_turns":
		v, err := intValue(raw, key)
		if err != nil {
			return err
		}
		if v < 1 {
			return &PropertyValueError{Key: key, Reason: "must be at least 1"}
		}
		if m.limits.MaxTurns > 0 && v > m.limits.MaxTurns {
			return &PropertyValueError{Key: key, Reason: fmt.Sprintf("must be at most %d", m.limits.MaxTurns)}
		}
		details.MaxTurns = v
		return nil

	case "turn_timeout_seconds":
		var seconds float64
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return &PropertyValueError{Key: key, Reason: "must be a number of seconds"}
		}
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
			return &PropertyValueError{Key: key, Reason: "must be finite and positive"}
		}
		timeout := time.Duration(seconds * float64(time.Second))
		if m.limits.MaxTurnTimeout > 0 && timeout > m.limits.MaxTurnTimeout {
			return &PropertyValueError{Key: key, Reason: fmt.Sprintf("must be at most %v", m.limits.MaxTurnTimeout)}
		}
		details.TurnTimeout = timeout
		return nil
	}
	return &NoSuchPropertyError{Key: key}
}

func intValue(raw json.RawMessage, key string) (int, error) {
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &PropertyValueError{Key: key, Reason: "must be an integer"}
	}
	return v, nil
}

// renameRoomLocked updates the alias table while preserving the stable id.
func (m *Manager) renameRoomLocked(details *Details, newName string) error {
	if !isRoomNameValid(newName) || len(newName) > m.limits.MaxRoomNameLen {
		return &PropertyValueError{Key: "name", Reason: "must be printable and within the length limit"}
	}
	if existing, taken := m.alias[newName]; taken && existing != details.ID {
		return &PropertyValueError{Key: "name", Reason: fmt.Sprintf("%q is already taken", newName)}
	}
	klog.Infof("Renaming room %q -> %q", details.Name, newName)
	if details.Name != details.ID {
		delete(m.alias, details.Name)
	}
	m.alias[newName] = details.ID
	details.Name = newName
	return nil
}

// WaitUntilGameStarts marks the client ready and suspends it until the
// room's game begins. Every member of the room gets the identical pair. The
// client whose readiness trips the barrier constructs the game, publishes it
// and spawns the room's master loop.
//
// A cancelled waiter is removed from the room, unless the game managed to
// start first; then the started pair is returned and the caller must run its
// disconnect path through the game room.
func (m *Manager) WaitUntilGameStarts(ctx context.Context, invoking client.Name) (*game.Game, *GameRoom, error) {
	m.mu.Lock()

	roomID, details, err := m.formingRoomOf(invoking)
	if err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}

	rs := m.syncs[roomID]
	if _, already := rs.ready[invoking]; already {
		m.mu.Unlock()
		return nil, nil, &AlreadyReadyError{Client: invoking}
	}
	rs.ready[invoking] = struct{}{}

	clients, err := m.mapping.ClientsInRoom(roomID)
	if err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}
	numPlayers, _ := m.mapping.CountPlayersInRoom(roomID)

	if numPlayers < details.MinPlayers || len(rs.ready) != len(clients) {
		// Not everyone is ready yet: wait for the publisher.
		sub := rs.pubsub.Subscribe()
		m.mu.Unlock()
		select {
		case started := <-sub:
			return started.Game, started.Room, started.Err
		case <-ctx.Done():
			// The publish happens under the manager's lock, so with the
			// lock held the outcome is settled: either the pair is already
			// in our subscription, or the game has not started and cannot
			// start until we are out of the room.
			m.mu.Lock()
			select {
			case started := <-sub:
				m.mu.Unlock()
				return started.Game, started.Room, started.Err
			default:
			}
			_ = m.leaveRoomLocked(invoking)
			m.mu.Unlock()
			return nil, nil, ctx.Err()
		}
	}

	// This client trips the barrier and builds the game for everyone.
	order := make([]client.Name, 0, len(clients))
	for c := range clients {
		order = append(order, c)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })

	playerNames := make([]string, 0, len(order))
	for _, c := range order {
		if c.IsPlayer() {
			playerNames = append(playerNames, c.String())
		}
	}

	g, err := game.NewGame(playerNames, details.GameConfig(), m.limits.WorkUnits)
	if err != nil {
		klog.Errorf("Creating game for room %q: %v", details.Name, err)
		rs.pubsub.Publish(StartedGame{Err: err})
		_ = m.removeRoomLocked(roomID)
		m.mu.Unlock()
		return nil, nil, err
	}

	gameRoom := NewGameRoom(order, g, details.Name, details.TurnTimeout, m.limits.TurnDelay)
	details.GameStarted = true
	rs.pubsub.Publish(StartedGame{Game: g, Room: gameRoom})
	klog.Infof("The game in the room %q is starting", details.Name)

	go func() {
		gameRoom.RunLoop(context.Background())
		m.mu.Lock()
		_ = m.removeRoomLocked(roomID)
		m.mu.Unlock()
	}()

	m.mu.Unlock()
	return g, gameRoom, nil
}

// ListRoomInfos snapshots all rooms from the invoking client's perspective.
func (m *Manager) ListRoomInfos(invoking client.Name) []proto.RoomInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]proto.RoomInfo, 0, len(m.rooms))
	for _, roomID := range m.sortedRoomIDs() {
		infos = append(infos, m.roomInfoLocked(invoking, roomID))
	}
	return infos
}

func (m *Manager) roomInfoLocked(invoking client.Name, roomID string) proto.RoomInfo {
	details := m.rooms[roomID]
	numPlayers, _ := m.mapping.CountPlayersInRoom(roomID)

	var canJoin proto.CanJoin
	switch {
	case details.GameStarted:
		canJoin = proto.CanJoinNo
	case invoking.IsPlayer() && numPlayers+1 > details.MaxPlayers:
		canJoin = proto.CanJoinNo
	default:
		switch details.Open.Kind {
		case proto.RoomOpen:
			canJoin = proto.CanJoinYes
		case proto.RoomClosed:
			canJoin = proto.CanJoinNo
		case proto.RoomPassword:
			canJoin = proto.CanJoinPassword
		case proto.RoomWhitelist:
			canJoin = proto.CanJoinNo
			if invoking.IsPlayer() {
				for _, name := range details.Open.Whitelist {
					if name == invoking.String() {
						canJoin = proto.CanJoinYes
					}
				}
			} else {
				for _, name := range details.Open.Whitelist {
					if name == "@viewers" {
						canJoin = proto.CanJoinYes
					}
				}
			}
		}
	}

	return proto.RoomInfo{
		ID:         roomID,
		Name:       details.Name,
		MinPlayers: details.MinPlayers,
		MaxPlayers: details.MaxPlayers,
		Players:    m.playersInRoomLocked(roomID),
		CanJoin:    canJoin,
	}
}
