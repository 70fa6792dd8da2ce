package types

import (
	"encoding/json"
)

// Envelope is the closed set of inbound message variants. DecodeEnvelope is
// the only constructor; a switch on the concrete type gives compile-time
// checked access to each kind's fields.
type Envelope interface {
	Kind() string
}

// Identify declares a connection's role and identity. It is the only
// envelope accepted from an unidentified connection, and a repeat on the
// same connection overwrites the prior identity.
type Identify struct {
	ClientType string      `json:"clientType"`
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`
}

func (Identify) Kind() string { return KindIdentify }

// Validate checks the required identify fields. DeviceInfo is optional.
func (m *Identify) Validate() error {
	if m.ClientType != RoleParticipant && m.ClientType != RoleCoordinator {
		return ErrInvalidClientType
	}
	if !IsValidClientID(m.ID) {
		return ErrInvalidClientID
	}
	if m.Name == "" || len(m.Name) > 200 {
		return ErrInvalidClientName
	}
	return nil
}

// ScreenUpdate carries one screen frame from a participant. ScreenData is
// opaque to the relay (base64-encoded image data in practice).
type ScreenUpdate struct {
	ScreenData string `json:"screenData"`
}

func (ScreenUpdate) Kind() string { return KindScreenUpdate }

// BlockListUpdate carries the coordinator's site-block list.
type BlockListUpdate struct {
	Sites []string `json:"sites"`
}

func (BlockListUpdate) Kind() string { return KindBlockListUpdate }

// ChatMessage is a point-to-point or broadcast text message. To is either a
// participant's externalId or DestinationAll.
type ChatMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

func (ChatMessage) Kind() string { return KindMessage }

type kindProbe struct {
	Type string `json:"type"`
}

// DecodeEnvelope parses a raw frame into its typed variant. A frame whose
// type field names no known kind yields ErrUnknownKind so callers can
// distinguish "ignore this" from "this is garbage".
func DecodeEnvelope(data []byte) (Envelope, error) {
	var probe kindProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, ErrMalformedEnvelope
	}

	var env Envelope
	switch probe.Type {
	case KindIdentify:
		env = &Identify{}
	case KindScreenUpdate:
		env = &ScreenUpdate{}
	case KindBlockListUpdate:
		env = &BlockListUpdate{}
	case KindMessage:
		env = &ChatMessage{}
	default:
		return nil, ErrUnknownKind
	}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, ErrMalformedEnvelope
	}
	return env, nil
}

// Outbound envelopes. These are plain structs with the discriminator baked
// in by their constructors; they are marshaled once per target and never
// persisted.

// Roster is the full membership broadcast sent on every join, leave, and
// enrichment attach.
type Roster struct {
	Type    string  `json:"type"`
	Clients []Party `json:"clients"`
}

func NewRoster(parties []Party) Roster {
	if parties == nil {
		parties = []Party{}
	}
	return Roster{Type: KindRoster, Clients: parties}
}

// ScreenBroadcast forwards a participant's frame to coordinators, tagged
// with the sender's externalId.
type ScreenBroadcast struct {
	Type       string `json:"type"`
	StudentID  string `json:"studentId"`
	ScreenData string `json:"screenData"`
}

func NewScreenBroadcast(studentID, screenData string) ScreenBroadcast {
	return ScreenBroadcast{Type: KindScreenUpdate, StudentID: studentID, ScreenData: screenData}
}

// BlockListBroadcast forwards the site-block list to participants.
type BlockListBroadcast struct {
	Type  string   `json:"type"`
	Sites []string `json:"sites"`
}

func NewBlockListBroadcast(sites []string) BlockListBroadcast {
	if sites == nil {
		sites = []string{}
	}
	return BlockListBroadcast{Type: KindBlockListUpdate, Sites: sites}
}

// DirectMessage delivers a text message, stamped with the sender's
// externalId.
type DirectMessage struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Content string `json:"content"`
}

func NewDirectMessage(from, content string) DirectMessage {
	return DirectMessage{Type: KindMessage, From: from, Content: content}
}
