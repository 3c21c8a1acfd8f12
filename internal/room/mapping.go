package room

import "github.com/snake-arena/server/internal/client"

// Mapping is the bidirectional client<->room relation. Both maps are exact
// inverses; every mutation touches both sides. A client is "in the hub" iff
// it is absent from clientToRoom. Callers hold the manager's lock.
type Mapping struct {
	clientToRoom  map[client.Name]string
	roomToClients map[string]map[client.Name]struct{}
}

func NewMapping() *Mapping {
	return &Mapping{
		clientToRoom:  make(map[client.Name]string),
		roomToClients: make(map[string]map[client.Name]struct{}),
	}
}

func (m *Mapping) RoomExists(roomID string) bool {
	_, ok := m.roomToClients[roomID]
	return ok
}

func (m *Mapping) AddRoom(roomID string) error {
	if m.RoomExists(roomID) {
		return &RoomExistsError{Room: roomID}
	}
	m.roomToClients[roomID] = make(map[client.Name]struct{})
	return nil
}

// RemoveRoom deletes the room and sends all of its clients back to the hub.
func (m *Mapping) RemoveRoom(roomID string) error {
	clients, ok := m.roomToClients[roomID]
	if !ok {
		return &RoomDoesNotExistError{Room: roomID}
	}
	for c := range clients {
		delete(m.clientToRoom, c)
	}
	delete(m.roomToClients, roomID)
	return nil
}

func (m *Mapping) AddClientToRoom(roomID string, c client.Name) error {
	if !m.RoomExists(roomID) {
		return &RoomDoesNotExistError{Room: roomID}
	}
	if err := m.CheckClientIsInHub(c); err != nil {
		return err
	}
	m.roomToClients[roomID][c] = struct{}{}
	m.clientToRoom[c] = roomID
	return nil
}

func (m *Mapping) RemoveClientFromRoom(c client.Name) error {
	roomID, ok := m.clientToRoom[c]
	if !ok {
		return &ClientNotInRoomError{Client: c}
	}
	delete(m.clientToRoom, c)
	delete(m.roomToClients[roomID], c)
	return nil
}

// RoomWithClient returns the room the client is in.
func (m *Mapping) RoomWithClient(c client.Name) (string, error) {
	roomID, ok := m.clientToRoom[c]
	if !ok {
		return "", &ClientNotInRoomError{Client: c}
	}
	return roomID, nil
}

// ClientsInRoom returns the room's member set. The returned map is live;
// callers must not mutate it.
func (m *Mapping) ClientsInRoom(roomID string) (map[client.Name]struct{}, error) {
	clients, ok := m.roomToClients[roomID]
	if !ok {
		return nil, &RoomDoesNotExistError{Room: roomID}
	}
	return clients, nil
}

// CountPlayersInRoom counts players only; viewers are exempt from capacity.
func (m *Mapping) CountPlayersInRoom(roomID string) (int, error) {
	clients, err := m.ClientsInRoom(roomID)
	if err != nil {
		return 0, err
	}
	n := 0
	for c := range clients {
		if c.IsPlayer() {
			n++
		}
	}
	return n, nil
}

// CheckClientIsInHub fails if the client is in some room.
func (m *Mapping) CheckClientIsInHub(c client.Name) error {
	if roomID, ok := m.clientToRoom[c]; ok {
		return &ClientAlreadyInRoomError{Client: c, Room: roomID}
	}
	return nil
}
