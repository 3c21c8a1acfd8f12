package proto

import (
	"encoding/json"
	"fmt"
)

// FoodRespawnKind discriminates FoodRespawn variants.
type FoodRespawnKind int

const (
	RespawnYes FoodRespawnKind = iota
	RespawnNo
	RespawnRandom
)

// FoodRespawn says whether (and how) eaten food is replaced.
// The Random variant places one food item after any move with the given
// independent probability.
type FoodRespawn struct {
	Kind        FoodRespawnKind
	Probability float64
}

func (f FoodRespawn) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case RespawnYes:
		return json.Marshal("yes")
	case RespawnNo:
		return json.Marshal("no")
	case RespawnRandom:
		return json.Marshal(map[string]float64{"random": f.Probability})
	}
	return nil, fmt.Errorf("invalid food respawn kind: %d", int(f.Kind))
}

func (f *FoodRespawn) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "yes":
			*f = FoodRespawn{Kind: RespawnYes}
			return nil
		case "no":
			*f = FoodRespawn{Kind: RespawnNo}
			return nil
		}
		return fmt.Errorf("unknown food respawn tag: %q", s)
	}
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	p, ok := m["random"]
	if !ok {
		return fmt.Errorf("invalid food respawn value: %s", data)
	}
	*f = FoodRespawn{Kind: RespawnRandom, Probability: p}
	return nil
}

// OpennessKind discriminates RoomOpenness variants.
type OpennessKind int

const (
	RoomOpen OpennessKind = iota
	RoomClosed
	RoomWhitelist
	RoomPassword
)

// RoomOpenness is a room's join policy.
type RoomOpenness struct {
	Kind      OpennessKind
	Whitelist []string
	Password  string
}

// StripSecret returns a copy with the password value blanked. The kind is
// preserved so clients can still tell the room is password-protected.
func (o RoomOpenness) StripSecret() RoomOpenness {
	if o.Kind == RoomPassword {
		return RoomOpenness{Kind: RoomPassword}
	}
	return o
}

func (o RoomOpenness) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case RoomOpen:
		return json.Marshal("open")
	case RoomClosed:
		return json.Marshal("closed")
	case RoomWhitelist:
		return json.Marshal(map[string][]string{"whitelist": o.Whitelist})
	case RoomPassword:
		return json.Marshal(map[string]string{"password": o.Password})
	}
	return nil, fmt.Errorf("invalid openness kind: %d", int(o.Kind))
}

func (o *RoomOpenness) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "open":
			*o = RoomOpenness{Kind: RoomOpen}
			return nil
		case "closed":
			*o = RoomOpenness{Kind: RoomClosed}
			return nil
		}
		return fmt.Errorf("unknown openness tag: %q", s)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["whitelist"]; ok {
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return err
		}
		*o = RoomOpenness{Kind: RoomWhitelist, Whitelist: names}
		return nil
	}
	if raw, ok := m["password"]; ok {
		var pw string
		if err := json.Unmarshal(raw, &pw); err != nil {
			return err
		}
		*o = RoomOpenness{Kind: RoomPassword, Password: pw}
		return nil
	}
	return fmt.Errorf("invalid openness value: %s", data)
}

// CanJoin is the verdict in a room listing, computed for a specific client.
type CanJoin string

const (
	CanJoinYes      CanJoin = "yes"
	CanJoinNo       CanJoin = "no"
	CanJoinPassword CanJoin = "password"
)

// RoomInfo is a read-only room summary for lobby listings.
type RoomInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	MinPlayers int      `json:"min_players"`
	MaxPlayers int      `json:"max_players"`
	Players    []string `json:"players"`
	CanJoin    CanJoin  `json:"can_join"`
}
