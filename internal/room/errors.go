package room

import (
	"errors"
	"fmt"

	"github.com/snake-arena/server/internal/client"
)

// Control-flow sentinels used by the turn synchronizer. They are never shown
// to users; call sites must tell them apart from protocol errors.
var (
	// ErrRoomExit means the room has ended and the caller should stop
	// processing turns.
	ErrRoomExit = errors.New("room exit")
	// ErrForceDisconnect means a send to this client already failed, so its
	// socket is dead and the connection must be torn down.
	ErrForceDisconnect = errors.New("force disconnect")
)

// RoomExistsError: a room with this id already exists.
type RoomExistsError struct{ Room string }

func (e *RoomExistsError) Error() string {
	return fmt.Sprintf("room %q already exists", e.Room)
}

// RoomDoesNotExistError: no room with this name.
type RoomDoesNotExistError struct{ Room string }

func (e *RoomDoesNotExistError) Error() string {
	return fmt.Sprintf("room %q does not exist", e.Room)
}

// ClientAlreadyInRoomError: the client must be in the hub for this.
type ClientAlreadyInRoomError struct {
	Client client.Name
	Room   string
}

func (e *ClientAlreadyInRoomError) Error() string {
	return fmt.Sprintf("%v is already in the room %q", e.Client, e.Room)
}

// ClientNotInRoomError: the client must be in a room for this.
type ClientNotInRoomError struct{ Client client.Name }

func (e *ClientNotInRoomError) Error() string {
	return fmt.Sprintf("%v is not in a room", e.Client)
}

// GameAlreadyStartedError: the room is no longer in its forming phase.
type GameAlreadyStartedError struct{ Room string }

func (e *GameAlreadyStartedError) Error() string {
	return fmt.Sprintf("game in the room %q has already started", e.Room)
}

// RoomIsFullError: joining would exceed the player capacity.
type RoomIsFullError struct{ Room string }

func (e *RoomIsFullError) Error() string {
	return fmt.Sprintf("room %q is full", e.Room)
}

// RoomIsClosedError: the room does not accept anyone.
type RoomIsClosedError struct{ Room string }

func (e *RoomIsClosedError) Error() string {
	return fmt.Sprintf("room %q is closed", e.Room)
}

// InvalidPasswordError: wrong or missing room password.
type InvalidPasswordError struct{ Room string }

func (e *InvalidPasswordError) Error() string {
	return fmt.Sprintf("your password to access the room %q is not correct", e.Room)
}

// NotWhitelistedError: the client is not on the room's whitelist.
type NotWhitelistedError struct{ Room string }

func (e *NotWhitelistedError) Error() string {
	return fmt.Sprintf("you are not in the whitelist for the room %q", e.Room)
}

// AlreadyReadyError: a client may declare readiness at most once per room.
type AlreadyReadyError struct{ Client client.Name }

func (e *AlreadyReadyError) Error() string {
	return fmt.Sprintf("%v has already declared being ready", e.Client)
}

// NoSuchPropertyError: unknown room property name.
type NoSuchPropertyError struct{ Key string }

func (e *NoSuchPropertyError) Error() string {
	return fmt.Sprintf("no such room property: %q", e.Key)
}

// PropertyAccessDeniedError: only admins may write room properties.
type PropertyAccessDeniedError struct{ Key string }

func (e *PropertyAccessDeniedError) Error() string {
	return fmt.Sprintf("access denied to property %q", e.Key)
}

// PropertyReadOnlyError: the property cannot be written at all.
type PropertyReadOnlyError struct{ Key string }

func (e *PropertyReadOnlyError) Error() string {
	return fmt.Sprintf("property %q cannot be written to", e.Key)
}

// PropertyValueError: the supplied value failed validation.
type PropertyValueError struct {
	Key    string
	Reason string
}

func (e *PropertyValueError) Error() string {
	return fmt.Sprintf("invalid value specified for %q: %s", e.Key, e.Reason)
}
