package broker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/quota"
	"github.com/UKPLab/CARE-broker/internal/tasks"
)

func (b *Broker) handleAuthRequest(ctx context.Context, sessionID string, _ json.RawMessage) Result {
	return FromError(b.auth.Request(ctx, sessionID), nil)
}

func (b *Broker) handleAuthResponse(ctx context.Context, sessionID string, data json.RawMessage) Result {
	var resp protocol.AuthResponse
	if err := protocol.DecodeObject(data, &resp); err != nil {
		return Fail(protocol.CodeAuthFailed, nil)
	}
	return FromError(b.auth.Response(ctx, sessionID, resp), nil)
}

func (b *Broker) handleAuthStatus(ctx context.Context, sessionID string, _ json.RawMessage) Result {
	return FromError(b.auth.Status(ctx, sessionID), nil)
}

func (b *Broker) handleSkillRegister(_ context.Context, sessionID string, data json.RawMessage) Result {
	if b.overRequests(sessionID) {
		return Fail(protocol.CodeRequestQuota, nil)
	}
	cfg, err := protocol.ParseSkillConfig(data)
	if err != nil {
		return Fail(protocol.CodeSkillMissingName, nil)
	}
	return FromError(b.skills.Register(sessionID, cfg), nil)
}

func (b *Broker) handleSkillGetAll(_ context.Context, sessionID string, _ json.RawMessage) Result {
	if b.overRequests(sessionID) {
		return Fail(protocol.CodeRequestQuota, nil)
	}
	b.skills.SendAll(b.sessions.Role(sessionID), sessionID)
	return OK()
}

func (b *Broker) handleSkillGetConfig(_ context.Context, sessionID string, data json.RawMessage) Result {
	if b.overRequests(sessionID) {
		return Fail(protocol.CodeRequestQuota, nil)
	}
	var req protocol.SkillGetConfig
	if err := protocol.DecodeObject(data, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		return Fail(protocol.CodeSkillConfigAbsent, nil)
	}
	summary, ok := b.skills.Config(b.sessions.Role(sessionID), req.Name)
	if !ok || summary.Config == nil {
		return Fail(protocol.CodeSkillConfigAbsent, nil)
	}
	b.emitter.Emit(sessionID, protocol.EventSkillConfig, summary.Config)
	return OK()
}

// handleSkillRequest routes a request to a provider. The job slot is
// reserved before the task exists and committed to the task id by Create.
func (b *Broker) handleSkillRequest(_ context.Context, sessionID string, data json.RawMessage) Result {
	var req protocol.SkillRequest
	if err := protocol.DecodeObject(data, &req); err != nil {
		b.logger.Debug("malformed skill request", zap.String("session_id", sessionID), zap.Error(err))
		return Fail(protocol.CodeInternal, nil)
	}
	if b.overRequests(sessionID) {
		return Fail(protocol.CodeRequestQuota, req.ID)
	}
	role := b.sessions.Role(sessionID)
	provider, ok := b.skills.SelectProvider(role, req.Name)
	if !ok {
		return Fail(protocol.CodeNoProvider, req.ID)
	}
	reservation, ok := b.sessions.ReserveJob(sessionID)
	if !ok {
		return Fail(protocol.CodeJobQuota, req.ID)
	}
	var gone []string
	for {
		_, err := b.tasks.Create(tasks.CreateRequest{
			RequesterID:   sessionID,
			ProviderID:    provider,
			ReservationID: reservation,
			Request:       req,
		})
		if err == nil {
			return OK()
		}
		if !errors.Is(err, tasks.ErrProviderGone) {
			b.sessions.ReleaseJob(sessionID, reservation)
			return FromError(err, req.ID)
		}
		gone = append(gone, provider)
		if provider, ok = b.skills.SelectProvider(role, req.Name, gone...); !ok {
			b.sessions.ReleaseJob(sessionID, reservation)
			return Fail(protocol.CodeNoProvider, req.ID)
		}
	}
}

func (b *Broker) handleTaskResults(_ context.Context, sessionID string, data json.RawMessage) Result {
	if b.sessions.CheckQuota(sessionID, quota.KindResults, true) {
		return Fail(protocol.CodeRequestQuota, nil)
	}
	var res protocol.TaskResult
	if err := protocol.DecodeObject(data, &res); err != nil {
		return Fail(protocol.CodeMalformedResult, nil)
	}
	if !res.Valid() {
		return Fail(protocol.CodeMalformedResult, res.ID)
	}
	return FromError(b.tasks.Update(sessionID, res), res.ID)
}

func (b *Broker) handleRequestAbort(_ context.Context, sessionID string, data json.RawMessage) Result {
	if b.overRequests(sessionID) {
		return Fail(protocol.CodeRequestQuota, nil)
	}
	var req protocol.RequestAbort
	if err := protocol.DecodeObject(data, &req); err != nil {
		return Fail(protocol.CodeAbortNotFound, nil)
	}
	if !b.tasks.AbortByUser(sessionID, req.ID) {
		return Fail(protocol.CodeAbortNotFound, req.ID)
	}
	return OK()
}

func (b *Broker) overRequests(sessionID string) bool {
	return b.sessions.CheckQuota(sessionID, quota.KindRequests, true)
}
