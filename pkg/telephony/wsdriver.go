package telephony

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrDriverClosed is returned for any command issued after the driver's
// websocket has gone away.
var ErrDriverClosed = errors.New("telephony: driver closed")

const commandTimeout = 15 * time.Second

// command is one outbound control message to the telephony gateway.
type command struct {
	Action        string            `json:"action"`
	ID            string            `json:"id"`
	RoomID        string            `json:"roomId,omitempty"`
	Name          string            `json:"name,omitempty"`
	Text          string            `json:"text,omitempty"`
	Voice         *Voice            `json:"voice,omitempty"`
	Recognizer    *Recognizer       `json:"recognizer,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Destination   string            `json:"destination,omitempty"`
	Number        string            `json:"number,omitempty"`
	CallerID      string            `json:"callerId,omitempty"`
	TrunkID       string            `json:"trunkId,omitempty"`
	ParticipantID string            `json:"participantId,omitempty"`
	URI           string            `json:"uri,omitempty"`
	Replaces      string            `json:"replaces,omitempty"`
	FromRoomID    string            `json:"fromRoomId,omitempty"`
	ToRoomID      string            `json:"toRoomId,omitempty"`
	Hold          bool              `json:"hold,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// gatewayMessage is one inbound message from the telephony gateway.
type gatewayMessage struct {
	Event         string            `json:"event"`
	ID            string            `json:"id,omitempty"`
	CallID        string            `json:"callId,omitempty"`
	RoomID        string            `json:"roomId,omitempty"`
	Caller        string            `json:"caller,omitempty"`
	Called        string            `json:"called,omitempty"`
	TrunkID       string            `json:"trunkId,omitempty"`
	Origin        string            `json:"origin,omitempty"`
	Kind          string            `json:"kind,omitempty"`
	ParticipantID string            `json:"participantId,omitempty"`
	Transcript    string            `json:"transcript,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Code          int               `json:"code,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Message       string            `json:"message,omitempty"`
	OK            bool              `json:"ok,omitempty"`
	Value         string            `json:"value,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type cmdResult struct {
	ok    bool
	value string
	msg   string
}

// WSDriver speaks a JSON call-control protocol with an external telephony
// gateway over a single websocket. The gateway owns SIP/RTP/WebRTC wire
// behaviour; this side only issues commands and consumes events.
type WSDriver struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.RWMutex
	rooms   map[string]*wsRoom
	results map[string]chan cmdResult

	calls chan IncomingCall

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWSDriver wraps an established gateway websocket and starts its read loop.
func NewWSDriver(conn *websocket.Conn) *WSDriver {
	d := &WSDriver{
		conn:    conn,
		rooms:   make(map[string]*wsRoom),
		results: make(map[string]chan cmdResult),
		calls:   make(chan IncomingCall, 4),
		closed:  make(chan struct{}),
	}
	go d.readLoop()
	return d
}

// Calls delivers inbound calls announced by the gateway.
func (d *WSDriver) Calls() <-chan IncomingCall { return d.calls }

// Close tears down the websocket and fails every outstanding command.
func (d *WSDriver) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		_ = d.conn.Close()

		d.mu.Lock()
		for id, ch := range d.results {
			close(ch)
			delete(d.results, id)
		}
		for id, room := range d.rooms {
			room.closeEvents()
			delete(d.rooms, id)
		}
		d.mu.Unlock()
		close(d.calls)
	})
	return nil
}

func (d *WSDriver) readLoop() {
	for {
		var msg gatewayMessage
		if err := d.conn.ReadJSON(&msg); err != nil {
			logrus.WithError(err).Info("Telephony gateway websocket closed")
			_ = d.Close()
			return
		}
		d.dispatch(&msg)
	}
}

func (d *WSDriver) dispatch(msg *gatewayMessage) {
	switch msg.Event {
	case "result":
		d.mu.Lock()
		ch, ok := d.results[msg.ID]
		if ok {
			delete(d.results, msg.ID)
		}
		d.mu.Unlock()
		if ok {
			ch <- cmdResult{ok: msg.OK, value: msg.Value, msg: msg.Message}
			close(ch)
		}
	case "incoming":
		room := d.newRoom(msg)
		select {
		case d.calls <- IncomingCall{
			Room:         room,
			CallID:       msg.CallID,
			CallerNumber: msg.Caller,
			CalledNumber: msg.Called,
			TrunkID:      msg.TrunkID,
			Metadata:     msg.Metadata,
		}:
		case <-d.closed:
		}
	case "speech":
		d.deliver(msg.RoomID, NewSpeechEvent(msg.CallID, msg.Transcript, msg.Confidence))
	case "speech_timeout":
		d.deliver(msg.RoomID, NewSpeechTimeoutEvent(msg.CallID))
	case "playback_finished":
		d.deliver(msg.RoomID, NewPlaybackEvent(msg.CallID, msg.CorrelationID))
	case "close":
		d.deliver(msg.RoomID, NewCloseEvent(msg.CallID, msg.Code, msg.Reason))
		d.dropRoom(msg.RoomID)
	case "error":
		d.deliver(msg.RoomID, NewErrorEvent(msg.CallID, errors.New(msg.Message)))
	default:
		logrus.WithField("event", msg.Event).Warn("Unknown gateway event")
	}
}

func (d *WSDriver) newRoom(msg *gatewayMessage) *wsRoom {
	kind := ParticipantKind(msg.Kind)
	if kind == "" {
		kind = ParticipantKindSIP
	}
	room := &wsRoom{
		driver: d,
		id:     msg.RoomID,
		caller: Participant{
			ID:       msg.ParticipantID,
			Kind:     kind,
			Origin:   OriginKind(msg.Origin),
			TrunkID:  msg.TrunkID,
			Number:   msg.Caller,
			Metadata: msg.Metadata,
		},
		events: make(chan Event, 32),
	}
	d.mu.Lock()
	d.rooms[room.id] = room
	d.mu.Unlock()
	return room
}

func (d *WSDriver) deliver(roomID string, ev Event) {
	d.mu.RLock()
	room, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"type":    ev.Type(),
		}).Warn("Event for unknown room dropped")
		return
	}
	room.send(ev)
}

func (d *WSDriver) dropRoom(roomID string) {
	d.mu.Lock()
	room, ok := d.rooms[roomID]
	if ok {
		delete(d.rooms, roomID)
	}
	d.mu.Unlock()
	if ok {
		room.closeEvents()
	}
}

func (d *WSDriver) send(cmd *command) error {
	select {
	case <-d.closed:
		return ErrDriverClosed
	default:
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(cmd)
}

// call issues a command and waits for the gateway's matching result message.
func (d *WSDriver) call(ctx context.Context, cmd *command) (cmdResult, error) {
	cmd.ID = uuid.NewString()
	ch := make(chan cmdResult, 1)

	d.mu.Lock()
	d.results[cmd.ID] = ch
	d.mu.Unlock()

	if err := d.send(cmd); err != nil {
		d.mu.Lock()
		delete(d.results, cmd.ID)
		d.mu.Unlock()
		return cmdResult{}, err
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-ch:
		if !ok {
			return cmdResult{}, ErrDriverClosed
		}
		if !res.ok {
			return res, fmt.Errorf("gateway rejected %s: %s", cmd.Action, res.msg)
		}
		return res, nil
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.results, cmd.ID)
		d.mu.Unlock()
		return cmdResult{}, ctx.Err()
	case <-timer.C:
		d.mu.Lock()
		delete(d.results, cmd.ID)
		d.mu.Unlock()
		return cmdResult{}, fmt.Errorf("gateway %s timed out", cmd.Action)
	case <-d.closed:
		return cmdResult{}, ErrDriverClosed
	}
}

// CreateRoom implements RoomManager.
func (d *WSDriver) CreateRoom(ctx context.Context, name string) (Room, error) {
	res, err := d.call(ctx, &command{Action: "create_room", Name: name})
	if err != nil {
		return nil, err
	}
	room := &wsRoom{
		driver: d,
		id:     res.value,
		events: make(chan Event, 32),
	}
	d.mu.Lock()
	d.rooms[room.id] = room
	d.mu.Unlock()
	return room, nil
}

// DialParticipant implements RoomManager.
func (d *WSDriver) DialParticipant(ctx context.Context, roomID, number string, opts DialOptions) (string, error) {
	res, err := d.call(ctx, &command{
		Action:   "dial",
		RoomID:   roomID,
		Number:   number,
		CallerID: opts.CallerID,
		TrunkID:  opts.TrunkID,
	})
	if err != nil {
		return "", err
	}
	return res.value, nil
}

// MoveParticipant implements RoomManager.
func (d *WSDriver) MoveParticipant(ctx context.Context, participantID, fromRoomID, toRoomID string) error {
	_, err := d.call(ctx, &command{
		Action:        "move",
		ParticipantID: participantID,
		FromRoomID:    fromRoomID,
		ToRoomID:      toRoomID,
	})
	return err
}

// RemoveParticipant implements RoomManager.
func (d *WSDriver) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	_, err := d.call(ctx, &command{Action: "remove", RoomID: roomID, ParticipantID: participantID})
	return err
}

// DeleteRoom implements RoomManager.
func (d *WSDriver) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := d.call(ctx, &command{Action: "delete_room", RoomID: roomID})
	d.dropRoom(roomID)
	return err
}

// Verify interface compliance at compile time.
var (
	_ Driver = (*WSDriver)(nil)
	_ Room   = (*wsRoom)(nil)
)

// wsRoom is one gateway-backed call room.
type wsRoom struct {
	driver *WSDriver
	id     string
	caller Participant

	events    chan Event
	eventsMu  sync.Mutex
	eventsEnd bool
}

func (r *wsRoom) ID() string           { return r.id }
func (r *wsRoom) Caller() Participant  { return r.caller }
func (r *wsRoom) Events() <-chan Event { return r.events }

func (r *wsRoom) send(ev Event) {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	if r.eventsEnd {
		return
	}
	select {
	case r.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"room_id": r.id,
			"type":    ev.Type(),
		}).Warn("Room event buffer full, dropping event")
	}
}

func (r *wsRoom) closeEvents() {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	if !r.eventsEnd {
		r.eventsEnd = true
		close(r.events)
	}
}

func (r *wsRoom) Answer(ctx context.Context) error {
	_, err := r.driver.call(ctx, &command{Action: "answer", RoomID: r.id})
	return err
}

func (r *wsRoom) Say(ctx context.Context, text string, voice Voice, correlationID string) error {
	return r.driver.send(&command{
		Action:        "say",
		ID:            uuid.NewString(),
		RoomID:        r.id,
		Text:          text,
		Voice:         &voice,
		CorrelationID: correlationID,
	})
}

func (r *wsRoom) Gather(ctx context.Context, rec Recognizer) error {
	return r.driver.send(&command{
		Action:     "gather",
		ID:         uuid.NewString(),
		RoomID:     r.id,
		Recognizer: &rec,
	})
}

func (r *wsRoom) Bridge(ctx context.Context, destination string, opts BridgeOptions) (string, error) {
	res, err := r.driver.call(ctx, &command{
		Action:      "bridge",
		RoomID:      r.id,
		Destination: destination,
		CallerID:    opts.CallerID,
		TrunkID:     opts.TrunkID,
	})
	if err != nil {
		return "", err
	}
	return res.value, nil
}

func (r *wsRoom) ReferParticipant(ctx context.Context, participantID, destinationURI string, opts ReferOptions) error {
	_, err := r.driver.call(ctx, &command{
		Action:        "refer",
		RoomID:        r.id,
		ParticipantID: participantID,
		URI:           destinationURI,
		Replaces:      opts.ReplaceParticipantID,
	})
	return err
}

func (r *wsRoom) Hold(ctx context.Context, participantID string, hold bool) error {
	_, err := r.driver.call(ctx, &command{
		Action:        "hold",
		RoomID:        r.id,
		ParticipantID: participantID,
		Hold:          hold,
	})
	return err
}

func (r *wsRoom) Hangup(ctx context.Context) error {
	_, err := r.driver.call(ctx, &command{Action: "hangup", RoomID: r.id})
	return err
}
