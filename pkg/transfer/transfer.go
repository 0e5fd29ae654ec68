// Package transfer decides and executes how a caller is moved to a human:
// blind SIP REFER, blind bridge, or consultative transfer through a
// temporary consultation room. A failed transfer never breaks the main
// conversation.
package transfer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"
	"github.com/patrickmn/go-cache"
	"github.com/voxbridge/voxbridge/internal/models"
	"github.com/voxbridge/voxbridge/pkg/agent"
	"github.com/voxbridge/voxbridge/pkg/logger"
	"github.com/voxbridge/voxbridge/pkg/metrics"
	"github.com/voxbridge/voxbridge/pkg/progress"
	"github.com/voxbridge/voxbridge/pkg/session"
	"github.com/voxbridge/voxbridge/pkg/telephony"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Operation selects the transfer flavour requested by the model.
type Operation string

const (
	OperationBlind           Operation = "blind"
	OperationConsultStart    Operation = "consult_start"
	OperationConsultFinalise Operation = "consult_finalise"
	OperationConsultReject   Operation = "consult_reject"
)

// State is the coordinator's position in a transfer attempt. Idle is both
// initial and terminal; no transfer state survives a call boundary.
type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateDialing        State = "dialing"
	StateConsultDialing State = "consult_dialing"
	StateActive         State = "active"
	StateConsultActive  State = "consult_active"
	StateFailed         State = "failed"
	StateFinalised      State = "finalised"
	StateRejected       State = "rejected"
)

// Strategy is how a transfer ultimately hands the caller over.
type Strategy string

const (
	StrategyRefer  Strategy = "refer"
	StrategyBridge Strategy = "bridge"
)

// Request is a transfer request as received from the conversation model.
type Request struct {
	Number    string    `json:"number"`
	Operation Operation `json:"operation,omitempty"`
	CallerID  string    `json:"callerId,omitempty"`
}

// Result is returned to the conversation model. Failures are non-fatal:
// the model may retry or apologize.
type Result struct {
	Status string `json:"status"` // OK | ERROR
	Detail string `json:"detail,omitempty"`
}

func ok(detail string) Result     { return Result{Status: "OK", Detail: detail} }
func failed(detail string) Result { return Result{Status: "ERROR", Detail: detail} }

// destinationPattern accepts national or international mobile/geographic
// numbers. Anything else fails validation before any side effect.
var destinationPattern = regexp.MustCompile(`^(\+44|0)[127]\d{8,9}$`)

// ValidDestination reports whether number is an acceptable transfer target.
func ValidDestination(number string) bool {
	return destinationPattern.MatchString(number)
}

// ChooseStrategy reproduces the routing decision: SIP legs whose carrier
// may REFER are redirected at the SIP layer, everything else is bridged
// locally. canRefer is irrelevant when the leg is not SIP.
func ChooseStrategy(isSip, canRefer bool) Strategy {
	if isSip && canRefer {
		return StrategyRefer
	}
	return StrategyBridge
}

// trunkCache is the process-wide directory of outbound trunk records.
// Entries are never invalidated automatically; trunk updates need an
// explicit refresh, which is out of scope here.
var trunkCache = cache.New(cache.NoExpiration, 0)

// Config wires a Coordinator to one call.
type Config struct {
	CallID string
	OrgID  string
	// Room is the caller's room.
	Room  telephony.Room
	Rooms telephony.RoomManager
	DB    *gorm.DB
	// CalledNumber is the default outbound caller-id.
	CalledNumber string
	Emitter      *progress.Emitter

	Voice      telephony.Voice
	Recognizer telephony.Recognizer

	// History supplies the main conversation so far, used to brief the
	// transfer assistant.
	History func() []agent.Turn
	// NewAssistant creates the transfer-assistant model for a
	// consultation room, seeded with the brief. The model is the same
	// backend as the main call but a separate conversation context.
	NewAssistant func(brief string) (agent.Agent, error)
	// CloseAgent closes the main conversation model once the caller has
	// been handed over.
	CloseAgent func() error

	// TrunkCache overrides the shared trunk directory, used by tests.
	TrunkCache *cache.Cache
}

// consultation is the state of one open warm transfer.
type consultation struct {
	room     telephony.Room
	roomID   string
	humanID  string
	target   string
	callerID string
	trunkID  string
	strategy Strategy

	assistant agent.Agent
	sess      *session.Session
	cancel    context.CancelFunc
}

// Coordinator runs transfer attempts for one call.
type Coordinator struct {
	cfg    Config
	trunks *cache.Cache

	mu      sync.Mutex
	state   State
	consult *consultation
}

// New creates an idle Coordinator.
func New(cfg Config) *Coordinator {
	trunks := cfg.TrunkCache
	if trunks == nil {
		trunks = trunkCache
	}
	return &Coordinator{cfg: cfg, trunks: trunks, state: StateIdle}
}

// State reports the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Execute runs one transfer request. Any error is contained: the caller's
// conversation continues as if the transfer was never requested.
func (c *Coordinator) Execute(ctx context.Context, req Request) Result {
	op := req.Operation
	if op == "" {
		op = OperationBlind
	}
	logger.Info("transfer requested",
		zap.String("call_id", c.cfg.CallID),
		zap.String("operation", string(op)),
		zap.String("number", req.Number))

	var res Result
	switch op {
	case OperationBlind:
		res = c.blind(ctx, req)
	case OperationConsultStart:
		res = c.consultStart(ctx, req)
	case OperationConsultFinalise:
		res = c.consultFinalise(ctx)
	case OperationConsultReject:
		res = c.consultReject(ctx)
	default:
		res = failed(fmt.Sprintf("unknown operation %q", op))
	}
	if res.Status != "OK" {
		c.setState(StateIdle)
	}
	if c.cfg.Emitter != nil {
		c.cfg.Emitter.Emit(progress.TransferStatus(string(op) + ":" + res.Status))
	}
	return res
}

// identity is the validated outbound identity for a dial.
type identity struct {
	callerID string
	trunkID  string
}

// capabilities of the current caller leg.
type capabilities struct {
	isSip    bool
	canRefer bool
}

// prepare validates the destination and resolves outbound identity and leg
// capabilities. It performs no side effects.
func (c *Coordinator) prepare(req Request) (identity, capabilities, error) {
	c.setState(StateValidating)

	if !ValidDestination(req.Number) {
		return identity{}, capabilities{}, fmt.Errorf("invalid destination number %q", req.Number)
	}

	caller := c.cfg.Room.Caller()
	ident := identity{callerID: c.cfg.CalledNumber, trunkID: caller.TrunkID}
	if req.CallerID != "" {
		owned, err := models.ResolveCallerID(c.cfg.DB, c.cfg.OrgID, req.CallerID, caller.TrunkID)
		if err != nil {
			return identity{}, capabilities{}, fmt.Errorf("caller id %s: %w", req.CallerID, err)
		}
		ident.callerID = owned.Number
		if owned.TrunkID != "" {
			ident.trunkID = owned.TrunkID
		}
	}

	caps := capabilities{isSip: caller.Kind == telephony.ParticipantKindSIP}
	if caps.isSip {
		switch caller.Origin {
		case telephony.OriginRegistration:
			caps.canRefer = true
		case telephony.OriginTrunk:
			// Missing or unknown trunk metadata defaults to no REFER.
			if trunk := c.lookupTrunk(caller.TrunkID); trunk != nil {
				caps.canRefer = trunk.CanRefer
			}
		}
	}
	return ident, caps, nil
}

// lookupTrunk consults the process-wide trunk directory, falling back to
// the database on a miss.
func (c *Coordinator) lookupTrunk(trunkID string) *models.Trunk {
	if trunkID == "" {
		return nil
	}
	if hit, found := c.trunks.Get(trunkID); found {
		return hit.(*models.Trunk)
	}
	if c.cfg.DB == nil {
		return nil
	}
	trunk, err := models.GetTrunk(c.cfg.DB, trunkID)
	if err != nil {
		logger.Warn("trunk lookup failed",
			zap.String("trunk_id", trunkID),
			zap.Error(err))
		return nil
	}
	c.trunks.Set(trunkID, trunk, cache.NoExpiration)
	return trunk
}

// blind hands the caller over immediately: SIP REFER when the carrier
// allows it, a locally bridged outbound leg otherwise.
func (c *Coordinator) blind(ctx context.Context, req Request) Result {
	ident, caps, err := c.prepare(req)
	if err != nil {
		metrics.Transfers.WithLabelValues("blind", "failed").Inc()
		return failed(err.Error())
	}
	c.setState(StateDialing)

	strategy := ChooseStrategy(caps.isSip, caps.canRefer)
	caller := c.cfg.Room.Caller()

	var bridgedID string
	switch strategy {
	case StrategyRefer:
		uri, err := telephony.ReferURI(req.Number, "")
		if err != nil {
			metrics.Transfers.WithLabelValues("blind_refer", "failed").Inc()
			return failed(err.Error())
		}
		if err := c.cfg.Room.ReferParticipant(ctx, caller.ID, uri, telephony.ReferOptions{}); err != nil {
			metrics.Transfers.WithLabelValues("blind_refer", "failed").Inc()
			return failed(err.Error())
		}
		bridgedID = uuid.NewString()
	case StrategyBridge:
		legID, err := c.cfg.Room.Bridge(ctx, req.Number, telephony.BridgeOptions{
			CallerID: ident.callerID,
			TrunkID:  ident.trunkID,
		})
		if err != nil {
			metrics.Transfers.WithLabelValues("blind_bridge", "failed").Inc()
			return failed(err.Error())
		}
		bridgedID = legID
	}

	c.setState(StateActive)
	c.completeHandoff(bridgedID, req.Number, ident)
	metrics.Transfers.WithLabelValues("blind_"+string(strategy), "ok").Inc()
	c.setState(StateIdle)
	return ok(string(strategy))
}

// consultStart opens a warm transfer: hold the caller, create a
// consultation room, brief a transfer assistant, and dial the human. Any
// failure rolls everything back and the main conversation continues.
func (c *Coordinator) consultStart(ctx context.Context, req Request) Result {
	c.mu.Lock()
	if c.consult != nil {
		c.mu.Unlock()
		return failed("a consultation is already in progress")
	}
	c.mu.Unlock()

	ident, caps, err := c.prepare(req)
	if err != nil {
		metrics.Transfers.WithLabelValues("consult", "failed").Inc()
		return failed(err.Error())
	}
	c.setState(StateConsultDialing)

	caller := c.cfg.Room.Caller()
	if err := c.cfg.Room.Hold(ctx, caller.ID, true); err != nil {
		metrics.Transfers.WithLabelValues("consult", "failed").Inc()
		return failed(fmt.Sprintf("hold failed: %v", err))
	}

	roomName, _ := gonanoid.Nanoid()
	consultRoom, err := c.cfg.Rooms.CreateRoom(ctx, "consult-"+roomName)
	if err != nil {
		c.rollbackConsult(ctx, nil, caller.ID)
		metrics.Transfers.WithLabelValues("consult", "failed").Inc()
		return failed(fmt.Sprintf("consultation room: %v", err))
	}

	assistant, err := c.cfg.NewAssistant(Brief(c.cfg.History()))
	if err != nil {
		c.rollbackConsult(ctx, consultRoom, caller.ID)
		metrics.Transfers.WithLabelValues("consult", "failed").Inc()
		return failed(fmt.Sprintf("transfer assistant: %v", err))
	}

	humanID, err := c.cfg.Rooms.DialParticipant(ctx, consultRoom.ID(), req.Number, telephony.DialOptions{
		CallerID: ident.callerID,
		TrunkID:  ident.trunkID,
	})
	if err != nil {
		_ = assistant.Close()
		c.rollbackConsult(ctx, consultRoom, caller.ID)
		metrics.Transfers.WithLabelValues("consult", "failed").Inc()
		return failed(fmt.Sprintf("dial failed: %v", err))
	}

	// The assistant session runs the consultation room like any other
	// call until finalise or reject tears it down.
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := session.New(session.Config{
		CallID:     consultRoom.ID(),
		Room:       consultRoom,
		Agent:      assistant,
		Emitter:    c.cfg.Emitter,
		Voice:      c.cfg.Voice,
		Recognizer: c.cfg.Recognizer,
	})
	go func() {
		if err := sess.Run(sessCtx); err != nil && sessCtx.Err() == nil {
			logger.Warn("assistant session ended with error",
				zap.String("room_id", consultRoom.ID()),
				zap.Error(err))
		}
	}()

	c.mu.Lock()
	c.consult = &consultation{
		room:      consultRoom,
		roomID:    consultRoom.ID(),
		humanID:   humanID,
		target:    req.Number,
		callerID:  ident.callerID,
		trunkID:   ident.trunkID,
		strategy:  ChooseStrategy(caps.isSip, caps.canRefer),
		assistant: assistant,
		sess:      sess,
		cancel:    cancel,
	}
	c.state = StateConsultActive
	c.mu.Unlock()

	metrics.Transfers.WithLabelValues("consult", "ok").Inc()
	return ok("consultation started")
}

// consultFinalise connects the consulted human to the caller and retires
// the agent.
func (c *Coordinator) consultFinalise(ctx context.Context) Result {
	c.mu.Lock()
	consult := c.consult
	c.mu.Unlock()
	if consult == nil {
		return failed("no consultation in progress")
	}

	caller := c.cfg.Room.Caller()
	// Unhold always happens first so the caller is never left muted.
	if err := c.cfg.Room.Hold(ctx, caller.ID, false); err != nil {
		logger.Warn("unhold failed", zap.String("call_id", c.cfg.CallID), zap.Error(err))
	}

	var handoffErr error
	switch consult.strategy {
	case StrategyRefer:
		uri, err := telephony.ReferURI(consult.target, "")
		if err == nil {
			err = c.cfg.Room.ReferParticipant(ctx, caller.ID, uri, telephony.ReferOptions{})
		}
		handoffErr = err
	case StrategyBridge:
		handoffErr = c.cfg.Rooms.MoveParticipant(ctx, consult.humanID, consult.roomID, c.cfg.Room.ID())
	}

	c.teardownConsult(ctx, consult)

	if handoffErr != nil {
		metrics.Transfers.WithLabelValues("consult_"+string(consult.strategy), "failed").Inc()
		return failed(handoffErr.Error())
	}

	c.setState(StateFinalised)
	c.completeHandoff(uuid.NewString(), consult.target, identity{
		callerID: consult.callerID,
		trunkID:  consult.trunkID,
	})
	metrics.Transfers.WithLabelValues("consult_"+string(consult.strategy), "ok").Inc()
	c.setState(StateIdle)
	return ok(string(consult.strategy))
}

// consultReject abandons the consultation: hang up the human, tear the
// room down, and resume the original conversation.
func (c *Coordinator) consultReject(ctx context.Context) Result {
	c.mu.Lock()
	consult := c.consult
	c.mu.Unlock()
	if consult == nil {
		return failed("no consultation in progress")
	}

	if err := c.cfg.Rooms.RemoveParticipant(ctx, consult.roomID, consult.humanID); err != nil {
		logger.Warn("human leg removal failed",
			zap.String("room_id", consult.roomID),
			zap.Error(err))
	}
	caller := c.cfg.Room.Caller()
	if err := c.cfg.Room.Hold(ctx, caller.ID, false); err != nil {
		logger.Warn("unhold failed", zap.String("call_id", c.cfg.CallID), zap.Error(err))
	}
	c.teardownConsult(ctx, consult)

	c.setState(StateRejected)
	metrics.Transfers.WithLabelValues("consult", "rejected").Inc()
	c.setState(StateIdle)
	return ok("consultation rejected")
}

// Close force-cleans any consultation still open when the owning call
// ends. A consultation room must never outlive the session that opened
// it: the dialed human is dropped, the assistant retired, the room
// deleted. Safe to call on an idle coordinator.
func (c *Coordinator) Close() {
	c.mu.Lock()
	consult := c.consult
	c.mu.Unlock()
	if consult == nil {
		return
	}
	logger.Info("abandoning open consultation",
		zap.String("call_id", c.cfg.CallID),
		zap.String("room_id", consult.roomID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cfg.Rooms.RemoveParticipant(ctx, consult.roomID, consult.humanID); err != nil {
		logger.Warn("human leg removal failed",
			zap.String("room_id", consult.roomID),
			zap.Error(err))
	}
	c.teardownConsult(ctx, consult)
	c.setState(StateIdle)
	metrics.Transfers.WithLabelValues("consult", "abandoned").Inc()
}

// teardownConsult runs the shared terminal path: close the assistant
// session, then disconnect and delete the room. Every exit from a warm
// transfer goes through here so nothing dangles.
func (c *Coordinator) teardownConsult(ctx context.Context, consult *consultation) {
	consult.cancel()
	select {
	case <-consult.sess.Done():
	case <-time.After(2 * time.Second):
		logger.Warn("assistant session slow to close", zap.String("room_id", consult.roomID))
	}
	if err := c.cfg.Rooms.DeleteRoom(ctx, consult.roomID); err != nil {
		logger.Warn("consultation room delete failed",
			zap.String("room_id", consult.roomID),
			zap.Error(err))
	}
	c.mu.Lock()
	c.consult = nil
	c.mu.Unlock()
}

// rollbackConsult cleans up a partially built consultation after a setup
// failure: unhold the caller, best-effort delete the room.
func (c *Coordinator) rollbackConsult(ctx context.Context, room telephony.Room, callerID string) {
	if err := c.cfg.Room.Hold(ctx, callerID, false); err != nil {
		logger.Warn("rollback unhold failed", zap.String("call_id", c.cfg.CallID), zap.Error(err))
	}
	if room != nil {
		if err := c.cfg.Rooms.DeleteRoom(ctx, room.ID()); err != nil {
			logger.Warn("rollback room delete failed",
				zap.String("room_id", room.ID()),
				zap.Error(err))
		}
	}
}

// completeHandoff closes the main conversation model and records the
// bridged leg against the original call.
func (c *Coordinator) completeHandoff(bridgedCallID, target string, ident identity) {
	if c.cfg.CloseAgent != nil {
		if err := c.cfg.CloseAgent(); err != nil {
			logger.Debug("main model close failed", zap.String("call_id", c.cfg.CallID), zap.Error(err))
		}
	}
	if c.cfg.DB == nil {
		return
	}
	caller := c.cfg.Room.Caller()
	if _, err := models.CreateBridgedCall(c.cfg.DB, c.cfg.CallID, bridgedCallID, caller.Number, target, ident.trunkID); err != nil {
		logger.Warn("bridged call record failed", zap.String("call_id", c.cfg.CallID), zap.Error(err))
	}
	if err := models.EndCall(c.cfg.DB, c.cfg.CallID, "transferred"); err != nil {
		logger.Warn("original call end failed", zap.String("call_id", c.cfg.CallID), zap.Error(err))
	}
}

// Brief renders a compact conversation history, alternating user and
// assistant lines, to seed the transfer assistant.
func Brief(turns []agent.Turn) string {
	if len(turns) == 0 {
		return "No conversation so far."
	}
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}
