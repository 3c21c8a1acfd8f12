package proto

import (
	"encoding/json"
	"fmt"
)

// MessageType tags the variants of Message.
type MessageType string

const (
	MsgClientHello    MessageType = "client_hello"     // Client introduces itself with a name
	MsgServerHello    MessageType = "server_hello"     // Server accepts the client
	MsgReady          MessageType = "ready"            // Client declares readiness in a room
	MsgYourTurn       MessageType = "your_turn"        // Server prompts the client for an action
	MsgAct            MessageType = "act"              // Client performs an action on its turn
	MsgOk             MessageType = "ok"               // Generic success response
	MsgErr            MessageType = "err"              // Generic error response
	MsgNewFieldState  MessageType = "new_field_state"  // Server pushes a field snapshot
	MsgEventHappened  MessageType = "event_happened"   // Server pushes an out-of-band event
	MsgListRooms      MessageType = "list_rooms"       // Client asks for the room list
	MsgEnterRoom      MessageType = "enter_room"       // Client joins a named room
	MsgEnterAnyRoom   MessageType = "enter_any_room"   // Client joins or creates any room
	MsgNewRoom        MessageType = "new_room"         // Client creates a room
	MsgLeaveRoom      MessageType = "leave_room"       // Client leaves its room
	MsgGetRoomProps   MessageType = "get_room_props"   // Client reads room properties
	MsgSetRoomProps   MessageType = "set_room_props"   // Admin writes room properties
	MsgRoomList       MessageType = "room_list"        // Server's response to list_rooms
	MsgRoomProperties MessageType = "room_properties"  // Server's response to get_room_props
)

// Message is a single frame exchanged between client and server.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a Message with a marshaled payload.
func NewMessage(msgType MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
func MustMessage(msgType MessageType, payload any) Message {
	m, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Parse unmarshals the payload into the variant struct for the message type.
func (m *Message) Parse() (any, error) {
	var target any
	switch m.Type {
	case MsgClientHello:
		target = &ClientHelloMessage{}
	case MsgServerHello:
		target = &ServerHelloMessage{}
	case MsgReady:
		target = &ReadyMessage{}
	case MsgYourTurn:
		target = &YourTurnMessage{}
	case MsgAct:
		target = &ActMessage{}
	case MsgOk:
		target = &OkMessage{}
	case MsgErr:
		target = &ErrMessage{}
	case MsgNewFieldState:
		target = &NewFieldStateMessage{}
	case MsgEventHappened:
		target = &EventHappenedMessage{}
	case MsgListRooms:
		target = &ListRoomsMessage{}
	case MsgEnterRoom:
		target = &EnterRoomMessage{}
	case MsgEnterAnyRoom:
		target = &EnterAnyRoomMessage{}
	case MsgNewRoom:
		target = &NewRoomMessage{}
	case MsgLeaveRoom:
		target = &LeaveRoomMessage{}
	case MsgGetRoomProps:
		target = &GetRoomPropsMessage{}
	case MsgSetRoomProps:
		target = &SetRoomPropsMessage{}
	case MsgRoomList:
		target = &RoomListMessage{}
	case MsgRoomProperties:
		target = &RoomPropertiesMessage{}
	default:
		return nil, fmt.Errorf("unknown message type: %s", m.Type)
	}

	if len(m.Payload) == 0 {
		return target, nil
	}
	err := json.Unmarshal(m.Payload, target)
	return target, err
}

// ClientHelloMessage is the payload for MsgClientHello.
type ClientHelloMessage struct {
	Name string `json:"name"`
}

// ServerHelloMessage: empty.
type ServerHelloMessage struct{}

// ReadyMessage: empty.
type ReadyMessage struct{}

// YourTurnMessage: empty.
type YourTurnMessage struct{}

// ActMessage is the payload for MsgAct.
type ActMessage struct {
	Action Action `json:"action"`
}

// OkMessage: empty.
type OkMessage struct{}

// ErrMessage is the payload for MsgErr.
type ErrMessage struct {
	Text string `json:"text"`
}

// NewFieldStateMessage is the payload for MsgNewFieldState.
type NewFieldStateMessage struct {
	State FieldState `json:"state"`
}

// EventHappenedMessage is the payload for MsgEventHappened.
type EventHappenedMessage struct {
	Event Event `json:"event"`
}

// ListRoomsMessage: empty.
type ListRoomsMessage struct{}

// EnterRoomMessage is the payload for MsgEnterRoom.
type EnterRoomMessage struct {
	Name     string  `json:"name"`
	Password *string `json:"password,omitempty"`
}

// EnterAnyRoomMessage: empty.
type EnterAnyRoomMessage struct{}

// NewRoomMessage: empty.
type NewRoomMessage struct{}

// LeaveRoomMessage: empty.
type LeaveRoomMessage struct{}

// GetRoomPropsMessage: empty.
type GetRoomPropsMessage struct{}

// SetRoomPropsMessage is the payload for MsgSetRoomProps. Property values are
// kept raw; the room manager interprets and validates them.
type SetRoomPropsMessage struct {
	Properties map[string]json.RawMessage `json:"properties"`
}

// RoomListMessage is the payload for MsgRoomList.
type RoomListMessage struct {
	Rooms []RoomInfo `json:"rooms"`
}

// RoomPropertiesMessage is the payload for MsgRoomProperties.
type RoomPropertiesMessage struct {
	Properties map[string]any `json:"properties"`
}
