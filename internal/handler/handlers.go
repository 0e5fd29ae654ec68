package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/voxbridge/voxbridge/pkg/progress"
	"github.com/voxbridge/voxbridge/pkg/telephony"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handlers is the HTTP surface: call records, agent configuration, live
// observers, and the telephony gateway socket.
type Handlers struct {
	db  *gorm.DB
	hub *progress.Hub
	// onDriver receives each connected telephony gateway.
	onDriver func(telephony.Driver)
	// gatewayToken, when set, must match the X-Gateway-Token header.
	gatewayToken string
}

// NewHandlers creates the handler set.
func NewHandlers(db *gorm.DB, hub *progress.Hub, gatewayToken string, onDriver func(telephony.Driver)) *Handlers {
	return &Handlers{db: db, hub: hub, gatewayToken: gatewayToken, onDriver: onDriver}
}

// Register mounts all routes under prefix.
func (h *Handlers) Register(r *gin.Engine, prefix string) {
	api := r.Group(prefix)
	api.GET("/calls", h.listCalls)
	api.GET("/calls/:callId", h.getCall)
	api.GET("/agents", h.listAgents)
	api.POST("/agents", h.createAgent)
	api.GET("/observe/:callId", h.observe)
	api.GET("/telephony/ws", h.gateway)
}

// gateway upgrades the telephony gateway connection and hands the
// resulting driver to the bridge service.
func (h *Handlers) gateway(c *gin.Context) {
	if h.gatewayToken != "" && c.GetHeader("X-Gateway-Token") != h.gatewayToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad gateway token"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Gateway websocket upgrade failed")
		return
	}
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("Telephony gateway connected")
	h.onDriver(telephony.NewWSDriver(conn))
}

// observe streams a live call's progress events to an observer websocket.
func (h *Handlers) observe(c *gin.Context) {
	callID := c.Param("callId")
	emitter := h.hub.Get(callID)
	if emitter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such live call"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Observer websocket upgrade failed")
		return
	}
	sink := progress.NewWSSink(conn)
	emitter.Attach(sink)

	// Keep reading to detect the observer going away, then detach.
	go func() {
		defer func() {
			emitter.Detach(sink)
			sink.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
