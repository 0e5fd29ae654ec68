package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGateway is a scripted far end for WSDriver: it accepts one websocket
// and exposes the raw commands the driver sends.
type testGateway struct {
	srv      *httptest.Server
	conn     *websocket.Conn
	commands chan map[string]any
}

func newTestGateway(t *testing.T) (*testGateway, *WSDriver) {
	t.Helper()
	g := &testGateway{commands: make(chan map[string]any, 16)}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	connected := make(chan struct{})
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		g.conn = conn
		close(connected)
		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			g.commands <- cmd
		}
	}))
	t.Cleanup(g.srv.Close)

	url := "ws" + strings.TrimPrefix(g.srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never accepted the connection")
	}

	driver := NewWSDriver(client)
	t.Cleanup(func() { _ = driver.Close() })
	return g, driver
}

func (g *testGateway) push(t *testing.T, msg map[string]any) {
	t.Helper()
	require.NoError(t, g.conn.WriteJSON(msg))
}

// nextCommand waits for the driver's next outbound command.
func (g *testGateway) nextCommand(t *testing.T) map[string]any {
	t.Helper()
	select {
	case cmd := <-g.commands:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("driver never sent a command")
		return nil
	}
}

func TestWSDriver_IncomingCall(t *testing.T) {
	g, driver := newTestGateway(t)

	g.push(t, map[string]any{
		"event":         "incoming",
		"callId":        "call-1",
		"roomId":        "room-1",
		"caller":        "+441234567890",
		"called":        "+442071234567",
		"trunkId":       "trunk-a",
		"origin":        "trunk",
		"kind":          "sip",
		"participantId": "p-1",
		"metadata":      map[string]string{"agent.name": "support"},
	})

	var call IncomingCall
	select {
	case call = <-driver.Calls():
	case <-time.After(2 * time.Second):
		t.Fatal("incoming call never delivered")
	}

	assert.Equal(t, "call-1", call.CallID)
	assert.Equal(t, "+441234567890", call.CallerNumber)
	assert.Equal(t, "trunk-a", call.TrunkID)
	assert.Equal(t, "support", call.Metadata["agent.name"])

	caller := call.Room.Caller()
	assert.Equal(t, ParticipantKindSIP, caller.Kind)
	assert.Equal(t, OriginTrunk, caller.Origin)
	assert.Equal(t, "p-1", caller.ID)
}

func TestWSDriver_RoomEvents(t *testing.T) {
	g, driver := newTestGateway(t)

	g.push(t, map[string]any{"event": "incoming", "callId": "call-1", "roomId": "room-1"})
	call := <-driver.Calls()

	g.push(t, map[string]any{
		"event":      "speech",
		"callId":     "call-1",
		"roomId":     "room-1",
		"transcript": "hello there",
		"confidence": 0.92,
	})

	select {
	case ev := <-call.Room.Events():
		speech, ok := ev.(*SpeechEvent)
		require.True(t, ok)
		assert.Equal(t, "hello there", speech.Transcript)
		assert.InDelta(t, 0.92, speech.Confidence, 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("speech event never delivered")
	}

	// A close event ends the room's event stream.
	g.push(t, map[string]any{"event": "close", "callId": "call-1", "roomId": "room-1", "code": 200})
	select {
	case ev := <-call.Room.Events():
		_, ok := ev.(*CloseEvent)
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("close event never delivered")
	}
	select {
	case _, open := <-call.Room.Events():
		assert.False(t, open, "events channel must close after the room closes")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
}

func TestWSDriver_CommandResultRoundTrip(t *testing.T) {
	g, driver := newTestGateway(t)

	g.push(t, map[string]any{"event": "incoming", "callId": "call-1", "roomId": "room-1"})
	call := <-driver.Calls()

	done := make(chan error, 1)
	go func() { done <- call.Room.Answer(context.Background()) }()

	cmd := g.nextCommand(t)
	assert.Equal(t, "answer", cmd["action"])
	assert.Equal(t, "room-1", cmd["roomId"])
	g.push(t, map[string]any{"event": "result", "id": cmd["id"], "ok": true})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("answer never completed")
	}
}

func TestWSDriver_RejectedCommand(t *testing.T) {
	g, driver := newTestGateway(t)

	g.push(t, map[string]any{"event": "incoming", "callId": "call-1", "roomId": "room-1"})
	call := <-driver.Calls()

	done := make(chan error, 1)
	go func() {
		_, err := call.Room.Bridge(context.Background(), "+447700900123", BridgeOptions{})
		done <- err
	}()

	cmd := g.nextCommand(t)
	assert.Equal(t, "bridge", cmd["action"])
	g.push(t, map[string]any{"event": "result", "id": cmd["id"], "ok": false, "message": "no route"})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no route")
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never completed")
	}
}

func TestWSDriver_SayIsFireAndForget(t *testing.T) {
	g, driver := newTestGateway(t)

	g.push(t, map[string]any{"event": "incoming", "callId": "call-1", "roomId": "room-1"})
	call := <-driver.Calls()

	// Say returns as soon as the command is written; the ack arrives
	// later as a playback event.
	err := call.Room.Say(context.Background(), "Hello.", Voice{Name: "aria"}, "corr-1")
	require.NoError(t, err)

	cmd := g.nextCommand(t)
	assert.Equal(t, "say", cmd["action"])
	assert.Equal(t, "Hello.", cmd["text"])
	assert.Equal(t, "corr-1", cmd["correlationId"])
}

func TestWSDriver_CreateRoom(t *testing.T) {
	g, driver := newTestGateway(t)

	done := make(chan Room, 1)
	go func() {
		room, err := driver.CreateRoom(context.Background(), "consult-x")
		require.NoError(t, err)
		done <- room
	}()

	cmd := g.nextCommand(t)
	assert.Equal(t, "create_room", cmd["action"])
	assert.Equal(t, "consult-x", cmd["name"])
	g.push(t, map[string]any{"event": "result", "id": cmd["id"], "ok": true, "value": "room-9"})

	select {
	case room := <-done:
		assert.Equal(t, "room-9", room.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("create room never completed")
	}
}

func TestWSDriver_CloseFailsCommands(t *testing.T) {
	g, driver := newTestGateway(t)

	g.push(t, map[string]any{"event": "incoming", "callId": "call-1", "roomId": "room-1"})
	call := <-driver.Calls()

	require.NoError(t, driver.Close())

	err := call.Room.Say(context.Background(), "anyone there?", Voice{}, "corr")
	assert.ErrorIs(t, err, ErrDriverClosed)

	err = call.Room.Answer(context.Background())
	assert.ErrorIs(t, err, ErrDriverClosed)
}

func TestCommand_OmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(&command{Action: "answer", ID: "1", RoomID: "r"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"answer","id":"1","roomId":"r"}`, string(raw))
}
