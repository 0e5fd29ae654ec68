package telephony

import "context"

// ParticipantKind distinguishes how a participant's media reaches us.
type ParticipantKind string

const (
	ParticipantKindSIP    ParticipantKind = "sip"    // carrier trunk or registered SIP endpoint
	ParticipantKindWebRTC ParticipantKind = "webrtc" // browser/app participant
)

// OriginKind distinguishes how a SIP call arrived.
type OriginKind string

const (
	OriginRegistration OriginKind = "registration" // registered endpoint
	OriginTrunk        OriginKind = "trunk"        // carrier trunk
	OriginNone         OriginKind = ""             // not a SIP call
)

// Participant describes one leg inside a room.
type Participant struct {
	ID       string
	Kind     ParticipantKind
	Origin   OriginKind
	TrunkID  string // set when Origin == OriginTrunk
	Number   string
	Metadata map[string]string
}

// Voice selects a synthesis voice for spoken output.
type Voice struct {
	Provider string `json:"provider,omitempty"`
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
}

// Recognizer selects speech recognition behaviour for a gather.
type Recognizer struct {
	Language      string  `json:"language,omitempty"`
	MinConfidence float64 `json:"minConfidence,omitempty"`
}

// BridgeOptions carries outbound identity for a bridged leg.
type BridgeOptions struct {
	CallerID string
	TrunkID  string
}

// ReferOptions carries SIP REFER parameters.
type ReferOptions struct {
	// ReplaceParticipantID names the leg the REFER replaces. Empty means
	// the agent leg.
	ReplaceParticipantID string
}

// DialOptions carries outbound identity for a dialed participant.
type DialOptions struct {
	CallerID string
	TrunkID  string
}

// Room is the control surface for one live call room. Implementations must
// be safe for concurrent use: the watchdog recovery path issues commands
// from its own goroutine.
type Room interface {
	ID() string
	// Caller returns the human participant that originated the call.
	Caller() Participant
	Answer(ctx context.Context) error
	// Say speaks text. The playback-finished acknowledgement arrives as a
	// PlaybackEvent carrying the same correlation id.
	Say(ctx context.Context, text string, voice Voice, correlationID string) error
	// Gather (re)arms speech recognition for the next user turn.
	Gather(ctx context.Context, rec Recognizer) error
	// Bridge dials destination and mixes its media into this room,
	// returning the new leg's call id.
	Bridge(ctx context.Context, destination string, opts BridgeOptions) (string, error)
	// ReferParticipant asks the carrier to redirect a leg to destinationURI.
	ReferParticipant(ctx context.Context, participantID, destinationURI string, opts ReferOptions) error
	// Hold mutes media both ways for a participant.
	Hold(ctx context.Context, participantID string, hold bool) error
	Hangup(ctx context.Context) error
	// Events delivers telephony events for this room. The channel is
	// closed when the room closes.
	Events() <-chan Event
}

// RoomManager creates and manipulates rooms beyond the primary call room,
// used for consultation rooms during warm transfer.
type RoomManager interface {
	CreateRoom(ctx context.Context, name string) (Room, error)
	// DialParticipant dials number into the named room and returns the new
	// participant id once the leg is established.
	DialParticipant(ctx context.Context, roomID, number string, opts DialOptions) (string, error)
	// MoveParticipant moves a participant between rooms.
	MoveParticipant(ctx context.Context, participantID, fromRoomID, toRoomID string) error
	RemoveParticipant(ctx context.Context, roomID, participantID string) error
	DeleteRoom(ctx context.Context, roomID string) error
}

// IncomingCall announces a new inbound leg from the transport.
type IncomingCall struct {
	Room         Room
	CallID       string
	CallerNumber string
	CalledNumber string
	TrunkID      string
	Metadata     map[string]string
}

// Driver is the transport-facing entry point: it surfaces inbound calls and
// exposes room management for transfers.
type Driver interface {
	RoomManager
	// Calls delivers inbound calls until the driver shuts down.
	Calls() <-chan IncomingCall
	Close() error
}
