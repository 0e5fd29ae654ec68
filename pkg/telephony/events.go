package telephony

// EventType represents the type of telephony event
type EventType string

const (
	EventTypeSpeech           EventType = "speech"            // User speech recognized
	EventTypeSpeechTimeout    EventType = "speech_timeout"    // Gather timed out or confidence too low
	EventTypePlaybackFinished EventType = "playback_finished" // Say playback completed
	EventTypeClose            EventType = "close"             // Call closed by transport
	EventTypeError            EventType = "error"             // Transport error, fatal to the call
)

// Event is the base interface for all telephony events delivered to a session
type Event interface {
	Type() EventType
	CallID() string
}

// SpeechEvent carries a recognized user utterance
type SpeechEvent struct {
	callID     string
	Transcript string
	Confidence float64
}

// NewSpeechEvent creates a new SpeechEvent
func NewSpeechEvent(callID, transcript string, confidence float64) *SpeechEvent {
	return &SpeechEvent{callID: callID, Transcript: transcript, Confidence: confidence}
}

func (e *SpeechEvent) Type() EventType { return EventTypeSpeech }
func (e *SpeechEvent) CallID() string  { return e.callID }

// SpeechTimeoutEvent signals that the recognizer gave up on the current gather
type SpeechTimeoutEvent struct {
	callID string
}

// NewSpeechTimeoutEvent creates a new SpeechTimeoutEvent
func NewSpeechTimeoutEvent(callID string) *SpeechTimeoutEvent {
	return &SpeechTimeoutEvent{callID: callID}
}

func (e *SpeechTimeoutEvent) Type() EventType { return EventTypeSpeechTimeout }
func (e *SpeechTimeoutEvent) CallID() string  { return e.callID }

// PlaybackEvent acknowledges that a spoken utterance finished playing
type PlaybackEvent struct {
	callID        string
	CorrelationID string
}

// NewPlaybackEvent creates a new PlaybackEvent
func NewPlaybackEvent(callID, correlationID string) *PlaybackEvent {
	return &PlaybackEvent{callID: callID, CorrelationID: correlationID}
}

func (e *PlaybackEvent) Type() EventType { return EventTypePlaybackFinished }
func (e *PlaybackEvent) CallID() string  { return e.callID }

// CloseEvent signals the transport closed the call
type CloseEvent struct {
	callID string
	Code   int
	Reason string
}

// NewCloseEvent creates a new CloseEvent
func NewCloseEvent(callID string, code int, reason string) *CloseEvent {
	return &CloseEvent{callID: callID, Code: code, Reason: reason}
}

func (e *CloseEvent) Type() EventType { return EventTypeClose }
func (e *CloseEvent) CallID() string  { return e.callID }

// ErrorEvent signals a transport error fatal to the call
type ErrorEvent struct {
	callID string
	Err    error
}

// NewErrorEvent creates a new ErrorEvent
func NewErrorEvent(callID string, err error) *ErrorEvent {
	return &ErrorEvent{callID: callID, Err: err}
}

func (e *ErrorEvent) Type() EventType { return EventTypeError }
func (e *ErrorEvent) CallID() string  { return e.callID }
