// Package service runs user commands end to end: throttling, validation,
// execution against a provider and persistence of the result.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Hibiki/common/redact"
	"github.com/bdobrica/Hibiki/common/trace"
	"github.com/bdobrica/Hibiki/internal/hibiki/commands"
	"github.com/bdobrica/Hibiki/internal/hibiki/gateway"
	"github.com/bdobrica/Hibiki/internal/hibiki/ratelimit"
	"github.com/bdobrica/Hibiki/internal/hibiki/store"
)

// ErrUnsupported is returned when no provider can run a command right now.
var ErrUnsupported = errors.New("no provider available for command")

// Provider executes parsed commands.
type Provider interface {
	Descriptor() gateway.Descriptor
	Supports(command string) bool
	Execute(ctx context.Context, payload gateway.Payload, pc gateway.Context) (*gateway.Result, error)
}

// Auditor records actions.
type Auditor interface {
	WriteAudit(ctx context.Context, e store.AuditEntry) error
}

// Request is one command submitted by a user.
type Request struct {
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
	UserID    string `json:"user_id" validate:"required,max=255"`
	Input     string `json:"input" validate:"required"`
}

// Execution is a completed command.
type Execution struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	UserID      string          `json:"user_id"`
	TraceID     string          `json:"trace_id"`
	Payload     gateway.Payload `json:"payload"`
	Result      *gateway.Result `json:"result"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Deps are the collaborators of a Service. History, Audit and Limiter are
// optional.
type Deps struct {
	Catalog  *commands.Catalog
	Provider Provider
	Limiter  *ratelimit.Limiter
	History  store.History
	Audit    Auditor
	Logger   *slog.Logger
}

// Service executes commands.
type Service struct {
	catalog  *commands.Catalog
	provider Provider
	limiter  *ratelimit.Limiter
	history  store.History
	audit    Auditor
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Service from deps.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog:  deps.Catalog,
		provider: deps.Provider,
		limiter:  deps.Limiter,
		history:  deps.History,
		audit:    deps.Audit,
		logger:   logger.With("component", "service"),
		now:      time.Now,
	}
}

// Catalog returns the command catalog.
func (s *Service) Catalog() *commands.Catalog {
	return s.catalog
}

// Execute runs req and returns the persisted execution.
//
// Errors are *ratelimit.Error, *commands.Error, ErrUnsupported, or the
// provider's transport error. Failing to persist a result is logged and
// audited but not returned.
func (s *Service) Execute(ctx context.Context, req Request) (*Execution, error) {
	ctx, traceID := trace.Ensure(ctx)
	log := s.logger.With("trace_id", traceID, "user_id", req.UserID)

	if s.limiter != nil {
		if err := s.limiter.Check(req.UserID).Err(); err != nil {
			log.Info("command throttled", "err", err)
			s.writeAudit(ctx, store.AuditEntry{
				TraceID: traceID, Actor: req.UserID, Action: "command.throttle",
				Result: store.AuditDenied, ErrorMessage: err.Error(),
			})
			return nil, err
		}
	}

	cmd, err := commands.Parse(req.Input)
	if err == nil {
		err = s.catalog.Validate(cmd)
	}
	if err != nil {
		log.Info("command rejected", "input", redact.Command(req.Input), "err", err)
		s.writeAudit(ctx, store.AuditEntry{
			TraceID: traceID, Actor: req.UserID, Action: "command.validate",
			Target: redact.Command(req.Input), Result: store.AuditDenied, ErrorMessage: err.Error(),
		})
		return nil, err
	}

	if !s.provider.Supports(cmd.Name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cmd.Name)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	payload := gateway.Payload{Raw: cmd.Raw, Command: cmd.Name, Args: cmd.Args}
	providerPayload := payload
	providerPayload.Raw = s.catalog.ProviderRaw(cmd)

	started := s.now()
	log.Info("executing command", "command", cmd.Name, "provider", s.provider.Descriptor().Name)

	result, err := s.provider.Execute(ctx, providerPayload, gateway.Context{UserID: req.UserID, SessionID: sessionID})
	if err != nil {
		log.Warn("command failed", "command", cmd.Name, "err", err)
		s.writeAudit(ctx, store.AuditEntry{
			TraceID: traceID, Actor: req.UserID, Action: "command.execute",
			Target: cmd.Name, Result: store.AuditError, ErrorMessage: err.Error(),
		})
		return nil, err
	}

	exec := &Execution{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      req.UserID,
		TraceID:     traceID,
		Payload:     payload,
		Result:      result,
		StartedAt:   started,
		CompletedAt: s.now(),
	}

	s.writeAudit(ctx, store.AuditEntry{
		TraceID: traceID, Actor: req.UserID, Action: "command.execute", Target: cmd.Name,
		Result: store.AuditSuccess,
		Payload: map[string]any{
			"execution_id": exec.ID,
			"command_id":   string(result.Meta.CommandID),
			"state":        string(result.Meta.State),
			"fragments":    result.Meta.Fragments,
			"messages":     len(result.Messages),
			"dropped":      result.Meta.Dropped,
		},
	})

	if err := s.persist(ctx, exec); err != nil {
		log.Error("failed to persist execution", "execution_id", exec.ID, "err", err)
		s.writeAudit(ctx, store.AuditEntry{
			TraceID: traceID, Actor: req.UserID, Action: "command.persist",
			Target: exec.ID, Result: store.AuditError, ErrorMessage: err.Error(),
		})
	}

	return exec, nil
}

// Get returns a stored execution.
func (s *Service) Get(ctx context.Context, id string) (*Execution, error) {
	if s.history == nil {
		return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}
	rec, err := s.history.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

// History returns userID's recent executions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Execution, error) {
	if s.history == nil {
		return nil, nil
	}
	recs, err := s.history.ListExecutions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Execution, 0, len(recs))
	for _, rec := range recs {
		e, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) persist(ctx context.Context, e *Execution) error {
	if s.history == nil {
		return nil
	}
	body, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.history.SaveExecution(ctx, &store.Execution{
		ID:          e.ID,
		SessionID:   e.SessionID,
		UserID:      e.UserID,
		Command:     e.Payload.Command,
		Raw:         e.Payload.Raw,
		Args:        e.Payload.Args,
		TraceID:     e.TraceID,
		CommandID:   string(e.Result.Meta.CommandID),
		State:       string(e.Result.Meta.State),
		Result:      body,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	})
}

func fromRecord(rec *store.Execution) (*Execution, error) {
	var result gateway.Result
	if len(rec.Result) > 0 {
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			return nil, fmt.Errorf("execution %s: decode result: %w", rec.ID, err)
		}
	}
	return &Execution{
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		UserID:      rec.UserID,
		TraceID:     rec.TraceID,
		Payload:     gateway.Payload{Raw: rec.Raw, Command: rec.Command, Args: rec.Args},
		Result:      &result,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}, nil
}

func (s *Service) writeAudit(ctx context.Context, e store.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.WriteAudit(ctx, e); err != nil {
		s.logger.Warn("failed to write audit entry", "action", e.Action, "err", err)
	}
}
