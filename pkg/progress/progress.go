// Package progress fans session events out to observers. Delivery is
// fire-and-forget: a slow or closed observer never blocks the call.
package progress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/pkg/logger"
	"go.uber.org/zap"
)

// Event is one observer message. It serializes as a JSON object keyed by a
// single event-type field; consumers ignore keys they do not know.
type Event struct {
	Key       string
	Value     any
	Timestamp time.Time
}

// MarshalJSON renders the single-key object form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{e.Key: e.Value})
}

func newEvent(key string, value any) Event {
	return Event{Key: key, Value: value, Timestamp: time.Now()}
}

// CallStarted announces a new call with the caller number.
func CallStarted(caller string) Event { return newEvent("call", caller) }

// UserSaid carries a recognized user transcript.
func UserSaid(transcript string) Event { return newEvent("user", transcript) }

// AgentSaid carries a spoken model response.
func AgentSaid(text string) Event { return newEvent("agent", text) }

// Data carries structured payload returned by the model.
func Data(payload any) Event { return newEvent("data", payload) }

// Injected carries a phrase spoken outside the normal turn flow, such as a
// watchdog "still there?" prompt.
func Injected(text string) Event { return newEvent("inject", text) }

// Goodbye carries the final phrase before hangup.
func Goodbye(text string) Event { return newEvent("goodbye", text) }

// Hangup marks call termination.
func Hangup() Event { return newEvent("hangup", true) }

// FunctionCalls carries a batch of requested tool invocations.
func FunctionCalls(calls any) Event { return newEvent("function_calls", calls) }

// FunctionResults carries the results of a tool batch.
func FunctionResults(results any) Event { return newEvent("function_results", results) }

// FunctionNotification records a stub function firing with resolved args.
func FunctionNotification(name string, args map[string]any) Event {
	return newEvent("function_notification", map[string]any{"name": name, "args": args})
}

// RestCallout records an outbound HTTP function call.
func RestCallout(url, method string, body any, headers map[string]string) Event {
	return newEvent("rest_callout", map[string]any{
		"url":     url,
		"method":  method,
		"body":    body,
		"headers": headers,
	})
}

// TransferStatus records a transfer attempt outcome.
func TransferStatus(status string) Event { return newEvent("transfer", status) }

// Sink receives events. Send must not block; drop on backpressure.
type Sink interface {
	Send(Event)
	Close()
}

// Emitter fans events out to attached sinks.
type Emitter struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Attach adds a sink.
func (e *Emitter) Attach(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// Detach removes a sink.
func (e *Emitter) Detach(s Sink) {
	e.mu.Lock()
	for i, have := range e.sinks {
		if have == s {
			e.sinks = append(e.sinks[:i], e.sinks[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

// Emit delivers ev to every sink. Never blocks.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	sinks := make([]Sink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.RUnlock()
	for _, s := range sinks {
		s.Send(ev)
	}
}

// Close closes all sinks.
func (e *Emitter) Close() {
	e.mu.Lock()
	sinks := e.sinks
	e.sinks = nil
	e.mu.Unlock()
	for _, s := range sinks {
		s.Close()
	}
}

// LogSink writes events to the application log, used when no live observer
// is attached.
type LogSink struct{}

func (LogSink) Send(ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	logger.Debug("progress", zap.ByteString("event", raw))
}

func (LogSink) Close() {}
