// Package bridge connects inbound telephony calls to conversation
// sessions: one session per call, each wired with its agent, function
// dispatcher, and transfer coordinator.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voxbridge/voxbridge/internal/models"
	"github.com/voxbridge/voxbridge/pkg/agent"
	"github.com/voxbridge/voxbridge/pkg/dispatch"
	"github.com/voxbridge/voxbridge/pkg/logger"
	"github.com/voxbridge/voxbridge/pkg/progress"
	"github.com/voxbridge/voxbridge/pkg/session"
	"github.com/voxbridge/voxbridge/pkg/telephony"
	"github.com/voxbridge/voxbridge/pkg/transfer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const assistantPrompt = `You are briefing a human colleague who is about to
take over a phone call. Summarise the conversation so far, answer their
questions, and tell them who is waiting. Conversation so far:

`

// Options configures session policy for every call the service accepts.
type Options struct {
	OrgID string

	LLMApiKey  string
	LLMBaseURL string
	LLMModel   string

	Voice      telephony.Voice
	Recognizer telephony.Recognizer

	WatchdogTimeout time.Duration
	GatherRetries   int
	ToolLoopLimit   int
}

// Service accepts calls from a telephony driver and runs their sessions.
type Service struct {
	db   *gorm.DB
	hub  *progress.Hub
	opts Options
}

// New creates a Service.
func New(db *gorm.DB, hub *progress.Hub, opts Options) *Service {
	return &Service{db: db, hub: hub, opts: opts}
}

// Serve consumes inbound calls from driver until ctx is cancelled or the
// driver closes. Each call runs independently.
func (s *Service) Serve(ctx context.Context, driver telephony.Driver) {
	for {
		select {
		case <-ctx.Done():
			return
		case call, ok := <-driver.Calls():
			if !ok {
				return
			}
			go s.handle(ctx, driver, call)
		}
	}
}

// handle wires and runs one call session from answer to hangup.
func (s *Service) handle(ctx context.Context, driver telephony.Driver, call telephony.IncomingCall) {
	logger.Info("inbound call",
		zap.String("call_id", call.CallID),
		zap.String("caller", call.CallerNumber),
		zap.String("called", call.CalledNumber))

	cfg, err := s.agentConfig(call)
	if err != nil {
		logger.Error("no agent for call", zap.String("call_id", call.CallID), zap.Error(err))
		_ = call.Room.Hangup(ctx)
		return
	}

	var decls []dispatch.Declaration
	if len(cfg.Functions) > 0 {
		if err := json.Unmarshal(cfg.Functions, &decls); err != nil {
			logger.Error("bad function declarations",
				zap.String("agent", cfg.Name),
				zap.Error(err))
			_ = call.Room.Hangup(ctx)
			return
		}
	}
	credentials := map[string]dispatch.Credential{}
	if len(cfg.Credentials) > 0 {
		var list []dispatch.Credential
		if err := json.Unmarshal(cfg.Credentials, &list); err != nil {
			logger.Error("bad credentials", zap.String("agent", cfg.Name), zap.Error(err))
			_ = call.Room.Hangup(ctx)
			return
		}
		for _, cred := range list {
			credentials[cred.Name] = cred
		}
	}

	emitter := progress.NewEmitter()
	emitter.Attach(progress.LogSink{})
	s.hub.Register(call.CallID, emitter)
	defer func() {
		s.hub.Unregister(call.CallID)
		emitter.Close()
	}()

	mainAgent := agent.NewOpenAIAgent(agent.OpenAIConfig{
		APIKey:       s.opts.LLMApiKey,
		BaseURL:      s.opts.LLMBaseURL,
		Model:        s.opts.LLMModel,
		SystemPrompt: cfg.SystemPrompt,
		Greeting:     cfg.Greeting,
		Tools:        dispatch.ToolSpecs(decls),
	})

	coordinator := transfer.New(transfer.Config{
		CallID:       call.CallID,
		OrgID:        cfg.OrgID,
		Room:         call.Room,
		Rooms:        driver,
		DB:           s.db,
		CalledNumber: call.CalledNumber,
		Emitter:      emitter,
		Voice:        s.opts.Voice,
		Recognizer:   s.opts.Recognizer,
		History:      mainAgent.History,
		CloseAgent:   mainAgent.Close,
		NewAssistant: func(brief string) (agent.Agent, error) {
			return agent.NewOpenAIAgent(agent.OpenAIConfig{
				APIKey:       s.opts.LLMApiKey,
				BaseURL:      s.opts.LLMBaseURL,
				Model:        s.opts.LLMModel,
				SystemPrompt: assistantPrompt + brief,
			}), nil
		},
	})
	// The session owns the consultation's lifetime: whatever is still
	// open when the call ends is torn down with it.
	defer coordinator.Close()

	dispatcher, err := dispatch.New(decls, dispatch.Options{
		Metadata:    call.Metadata,
		Credentials: credentials,
		Builtins: map[string]dispatch.Builtin{
			transfer.BuiltinKey: coordinator.Builtin(),
		},
		Emitter: emitter,
	})
	if err != nil {
		logger.Error("dispatcher setup failed", zap.String("call_id", call.CallID), zap.Error(err))
		_ = call.Room.Hangup(ctx)
		return
	}

	sess := session.New(session.Config{
		CallID:          call.CallID,
		CalledNumber:    call.CalledNumber,
		Room:            call.Room,
		Agent:           mainAgent,
		Dispatcher:      dispatcher,
		Emitter:         emitter,
		DB:              s.db,
		Voice:           s.opts.Voice,
		Recognizer:      s.opts.Recognizer,
		OnHold: func() bool {
			return coordinator.State() == transfer.StateConsultActive
		},
		WatchdogTimeout: s.opts.WatchdogTimeout,
		GatherRetries:   s.opts.GatherRetries,
		ToolLoopLimit:   s.opts.ToolLoopLimit,
	})
	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("session ended with error", zap.String("call_id", call.CallID), zap.Error(err))
	}
}

// agentConfig picks the agent for a call: the one named in the call
// metadata when present, otherwise the newest configured agent.
func (s *Service) agentConfig(call telephony.IncomingCall) (*models.AgentConfig, error) {
	var cfg models.AgentConfig
	if name, ok := call.Metadata["agent.name"]; ok {
		if err := s.db.Where("name = ?", name).First(&cfg).Error; err == nil {
			return &cfg, nil
		}
	}
	if err := s.db.Order("id DESC").First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}
