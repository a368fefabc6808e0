package analytics

import (
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/storage/eventstore"
	"github.com/google/uuid"
)

// EventType discriminates the event variants.
type EventType string

const (
	TypeTrack    EventType = "track"
	TypeScreen   EventType = "screen"
	TypeGroup    EventType = "group"
	TypeIdentify EventType = "identify"
	TypeAlias    EventType = "alias"
)

const (
	defaultChannel  = "server"
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Properties is a free-form JSON object attached to an event.
type Properties map[string]any

// Message holds the fields shared by every event.
type Message struct {
	MessageID         string         `json:"messageId"`
	Type              EventType      `json:"type"`
	OriginalTimestamp string         `json:"originalTimestamp"`
	AnonymousID       string         `json:"anonymousId"`
	UserID            string         `json:"userId,omitempty"`
	Channel           string         `json:"channel"`
	Integrations      map[string]any `json:"integrations"`
	Context           map[string]any `json:"context"`
	SentAt            string         `json:"sentAt"`
}

// Base returns the shared fields.
func (m *Message) Base() *Message {
	return m
}

// Event is one of *Track, *Screen, *Group, *Identify or *Alias.
type Event interface {
	Base() *Message
}

type Track struct {
	Message
	Event      string     `json:"event"`
	Properties Properties `json:"properties,omitempty"`
}

type Screen struct {
	Message
	Event      string     `json:"event"`
	Properties Properties `json:"properties,omitempty"`
}

type Group struct {
	Message
	GroupID string     `json:"groupId"`
	Traits  Properties `json:"traits,omitempty"`
}

type Identify struct {
	Message
	Traits Properties `json:"traits,omitempty"`
}

type Alias struct {
	Message
	PreviousID string `json:"previousId"`
}

func newMessage(t EventType) Message {
	return Message{
		MessageID:         uuid.NewString(),
		Type:              t,
		OriginalTimestamp: time.Now().UTC().Format(timestampLayout),
		Channel:           defaultChannel,
		Integrations:      map[string]any{"All": true},
		Context:           map[string]any{},
		SentAt:            eventstore.SentAtPlaceholder,
	}
}

// NewTrack creates a track event with a fresh message id.
func NewTrack(name string, properties Properties) *Track {
	return &Track{Message: newMessage(TypeTrack), Event: name, Properties: properties}
}

// NewScreen creates a screen event with a fresh message id.
func NewScreen(name string, properties Properties) *Screen {
	return &Screen{Message: newMessage(TypeScreen), Event: name, Properties: properties}
}

// NewGroup creates a group event with a fresh message id.
func NewGroup(groupID string, traits Properties) *Group {
	return &Group{Message: newMessage(TypeGroup), GroupID: groupID, Traits: traits}
}

// NewIdentify creates an identify event for userID with a fresh message id.
func NewIdentify(userID string, traits Properties) *Identify {
	e := &Identify{Message: newMessage(TypeIdentify), Traits: traits}
	e.UserID = userID
	return e
}

// NewAlias creates an alias event linking previousID to userID.
func NewAlias(userID, previousID string) *Alias {
	e := &Alias{Message: newMessage(TypeAlias), PreviousID: previousID}
	e.UserID = userID
	return e
}
