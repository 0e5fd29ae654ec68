package progress

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/voxbridge/voxbridge/pkg/logger"
	"go.uber.org/zap"
)

const wsSinkBuffer = 64

// WSSink streams events to one observer websocket. Writes happen on a
// dedicated goroutine; when the buffer fills or the socket closes, events
// are dropped without affecting the session.
type WSSink struct {
	conn   *websocket.Conn
	queue  chan Event
	once   sync.Once
	closed chan struct{}
}

// NewWSSink wraps an upgraded observer connection and starts its writer.
func NewWSSink(conn *websocket.Conn) *WSSink {
	s := &WSSink{
		conn:   conn,
		queue:  make(chan Event, wsSinkBuffer),
		closed: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *WSSink) writeLoop() {
	for {
		select {
		case ev := <-s.queue:
			if err := s.conn.WriteJSON(ev); err != nil {
				logger.Debug("observer socket write failed", zap.Error(err))
				s.Close()
				return
			}
		case <-s.closed:
			_ = s.conn.Close()
			return
		}
	}
}

// Send queues an event, dropping it when the observer cannot keep up.
func (s *WSSink) Send(ev Event) {
	select {
	case <-s.closed:
	case s.queue <- ev:
	default:
		// observer too slow, drop
	}
}

// Close stops the writer and closes the socket.
func (s *WSSink) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Done reports when the sink has shut down.
func (s *WSSink) Done() <-chan struct{} { return s.closed }
