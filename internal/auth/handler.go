package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/quota"
	"github.com/UKPLab/CARE-broker/internal/roles"
	"github.com/UKPLab/CARE-broker/internal/session"
	"github.com/UKPLab/CARE-broker/internal/users"
)

var ErrQuotaExceeded = errors.New("request quota exceeded")

const nonceSize = 16

// Sessions is the part of the session registry the auth flow needs.
type Sessions interface {
	CheckQuota(sessionID string, kind quota.Kind, consume bool) bool
	Get(sessionID string) (session.Session, error)
	SetSecret(sessionID, secret string) error
	TakeSecret(sessionID string) (string, bool)
	SetRole(sessionID, role string) error
	LinkUser(sessionID, userKey string) error
}

// Skills re-sends the capability list after a role change.
type Skills interface {
	SendAll(role, room string)
}

type Options struct {
	Sessions Sessions
	Users    users.Store
	Skills   Skills
	Emitter  hub.Emitter
	// Secret keys the challenge derivation. Challenges are unpredictable
	// without it.
	Secret string
	Logger *zap.Logger
}

// Handler runs the challenge/response flow that elevates a session from
// guest to the role stored for its public key.
type Handler struct {
	sessions Sessions
	users    users.Store
	skills   Skills
	emitter  hub.Emitter
	key      [32]byte
	logger   *zap.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		sessions: opts.Sessions,
		users:    opts.Users,
		skills:   opts.Skills,
		emitter:  opts.Emitter,
		key:      blake3.Sum256([]byte(opts.Secret)),
		logger:   opts.Logger.With(zap.String("component", "auth")),
	}
}

// Request issues a fresh challenge to the session, replacing any pending
// one.
func (h *Handler) Request(_ context.Context, sessionID string) error {
	if h.sessions.CheckQuota(sessionID, quota.KindRequests, true) {
		return ErrQuotaExceeded
	}
	return h.challenge(sessionID)
}

func (h *Handler) challenge(sessionID string) error {
	secret, err := h.deriveSecret(sessionID)
	if err != nil {
		return err
	}
	if err := h.sessions.SetSecret(sessionID, secret); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	h.emitter.Emit(sessionID, protocol.EventAuthChallenge, protocol.AuthChallenge{Secret: secret})
	return nil
}

func (h *Handler) deriveSecret(sessionID string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	hasher, err := blake3.NewKeyed(h.key[:])
	if err != nil {
		return "", fmt.Errorf("init keyed hash: %w", err)
	}
	_, _ = hasher.Write([]byte(sessionID))
	_, _ = hasher.Write(nonce)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Response verifies the signed challenge. Without a pending challenge a
// new one is issued instead. The challenge is consumed either way.
func (h *Handler) Response(ctx context.Context, sessionID string, resp protocol.AuthResponse) error {
	if h.sessions.CheckQuota(sessionID, quota.KindRequests, true) {
		return ErrQuotaExceeded
	}
	secret, ok := h.sessions.TakeSecret(sessionID)
	if !ok {
		return h.challenge(sessionID)
	}
	if err := Verify(secret, resp.Pub, resp.Sig); err != nil {
		h.logger.Warn("auth verification failed", zap.String("session_id", sessionID), zap.Error(err))
		return ErrInvalidSignature
	}

	user, err := h.users.AuthenticateUser(ctx, resp.Pub, roles.User)
	if err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	role := user.Role
	if !roles.Valid(role) {
		h.logger.Warn("stored role unknown, using default", zap.String("role", role))
		role = roles.User
	}
	if err := h.sessions.SetRole(sessionID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if err := h.sessions.LinkUser(sessionID, user.Key); err != nil {
		return fmt.Errorf("link user: %w", err)
	}
	if h.skills != nil {
		h.skills.SendAll(role, sessionID)
	}
	h.emitter.Emit(sessionID, protocol.EventAuthInfo, protocol.AuthInfo{Role: role})
	h.logger.Info("session authenticated",
		zap.String("session_id", sessionID),
		zap.String("role", role),
		zap.Int("count", user.Authenticated),
	)
	return nil
}

// Status reports the role of the user linked to the session, or guest.
func (h *Handler) Status(ctx context.Context, sessionID string) error {
	if h.sessions.CheckQuota(sessionID, quota.KindRequests, true) {
		return ErrQuotaExceeded
	}
	role := roles.Guest
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if s.UserKey != "" {
		user, err := h.users.GetUser(ctx, s.UserKey)
		switch {
		case err == nil:
			role = user.Role
		case !errors.Is(err, users.ErrNotFound):
			return fmt.Errorf("get user: %w", err)
		}
	}
	h.emitter.Emit(sessionID, protocol.EventAuthInfo, protocol.AuthInfo{Role: role})
	return nil
}
