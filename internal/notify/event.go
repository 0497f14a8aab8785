package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies what happened to an invite. The set is closed; the
// wire name of each kind is what appears on the "event:" line.
type Kind int

const (
	KindUnknown Kind = iota
	KindInviteOffered
	KindInviteAccepted
	KindInviteDeclined
)

var kindNames = map[Kind]string{
	KindInviteOffered:  "game-invite",
	KindInviteAccepted: "game-invite-accepted",
	KindInviteDeclined: "game-invite-rejected",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindInviteOffered, KindInviteAccepted, KindInviteDeclined}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a wire name back to its Kind. Unknown names return
// KindUnknown and false so that readers can skip them.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindUnknown, false
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown event kind %q", string(b))
	}
	*k = parsed
	return nil
}

// Payload describes the invite an event refers to.
type Payload struct {
	ID           string `json:"id"`
	FromID       string `json:"fromId"`
	FromUsername string `json:"fromUsername"`
	ToID         string `json:"toId"`
	Message      string `json:"message,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// Event is one notification occurrence. Build it with NewEvent and pass
// it by value.
type Event struct {
	kind    Kind
	payload Payload
}

// NewEvent builds an Event. createdAt is rendered as RFC 3339 in UTC.
func NewEvent(kind Kind, id, fromID, fromUsername, toID, message string, createdAt time.Time) Event {
	return Event{
		kind: kind,
		payload: Payload{
			ID:           id,
			FromID:       fromID,
			FromUsername: fromUsername,
			ToID:         toID,
			Message:      message,
			CreatedAt:    createdAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// EventFromPayload wraps an already decoded payload.
func EventFromPayload(kind Kind, p Payload) Event {
	return Event{kind: kind, payload: p}
}

func (e Event) Kind() Kind       { return e.kind }
func (e Event) Payload() Payload { return e.payload }

// ID returns the invite identifier carried by the event.
func (e Event) ID() string { return e.payload.ID }

type eventJSON struct {
	Type Kind    `json:"type"`
	Data Payload `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{Type: e.kind, Data: e.payload})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.kind = raw.Type
	e.payload = raw.Data
	return nil
}
