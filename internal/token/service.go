// Package token issues, verifies and revokes the gateway's JWT access
// and refresh tokens.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/session"
	"github.com/cellvista/gateway/internal/util"
)

// Token type claim values.
const (
	typeAccess  = "access"
	typeRefresh = "refresh"

	claimType        = "typ"
	claimRoles       = "roles"
	claimPermissions = "permissions"
	claimSessionID   = "sid"
)

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	SessionID    string    `json:"sessionId"`
}

// Service signs and verifies tokens with HMAC-SHA256 and tracks
// sessions and revocations. Verification fails closed: when the
// blacklist cannot be consulted the token is rejected.
type Service struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	sessions  session.Store
	blacklist Blacklist
	logger    observability.Logger
	now       func() time.Time
}

// Option is a functional option for the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a token service.
func NewService(secret, issuer string, accessTTL, refreshTTL time.Duration, sessions session.Store, blacklist Blacklist, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if sessions == nil || blacklist == nil {
		return nil, fmt.Errorf("session store and blacklist are required")
	}

	s := &Service{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		sessions:   sessions,
		blacklist:  blacklist,
		logger:     observability.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login issues a token pair for the subject and opens a refresh
// session bound to the device.
func (s *Service) Login(ctx context.Context, subject string, roles, permissions []string, device string) (*Pair, error) {
	now := s.now()
	sessionID := uuid.NewString()
	refreshID := uuid.NewString()

	sess := &session.Session{
		ID:             sessionID,
		UserID:         subject,
		Device:         device,
		RefreshTokenID: refreshID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.refreshTTL),
		RefreshedAt:    now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	pair, err := s.issuePair(subject, roles, permissions, sessionID, refreshID, now)
	if err != nil {
		return nil, err
	}

	issuedTotal.WithLabelValues("login").Inc()
	s.logger.Info("session opened",
		observability.String("subject", subject),
		observability.String("session_id", sessionID),
		observability.String("device", device),
	)
	return pair, nil
}

// Refresh rotates the refresh token and issues a new pair. Each
// refresh token is single use; presenting a rotated-out token revokes
// the whole session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	tok, err := s.parse(refreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.requireType(tok, typeRefresh); err != nil {
		return nil, err
	}

	refreshID := tok.JwtID()
	sessionID, _ := stringClaim(tok, claimSessionID)

	sess, err := s.sessions.GetByRefreshToken(ctx, refreshID)
	if err != nil {
		// The token verified but is not the session's current refresh
		// token: either the session ended or the token was already
		// rotated out. A replay burns the session.
		if sessionID != "" {
			if cur, getErr := s.sessions.Get(ctx, sessionID); getErr == nil && cur.RefreshTokenID != refreshID {
				_ = s.sessions.Delete(ctx, sessionID)
				reuseTotal.Inc()
				s.logger.Warn("refresh token replay detected, session revoked",
					observability.String("subject", cur.UserID),
					observability.String("session_id", sessionID),
				)
				return nil, ErrRefreshReused
			}
		}
		return nil, ErrSessionExpired
	}

	roles, _ := stringSliceClaim(tok, claimRoles)
	permissions, _ := stringSliceClaim(tok, claimPermissions)

	now := s.now()
	newRefreshID := uuid.NewString()
	sess.RefreshTokenID = newRefreshID
	sess.RefreshedAt = now
	sess.ExpiresAt = now.Add(s.refreshTTL)
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	pair, err := s.issuePair(sess.UserID, roles, permissions, sess.ID, newRefreshID, now)
	if err != nil {
		return nil, err
	}

	issuedTotal.WithLabelValues("refresh").Inc()
	return pair, nil
}

// VerifyAccess validates an access token and returns the caller's
// identity. Revoked tokens and blacklist failures both reject.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (*util.Identity, error) {
	tok, err := s.parse(accessToken)
	if err != nil {
		verificationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := s.requireType(tok, typeAccess); err != nil {
		verificationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	revoked, err := s.blacklist.Contains(ctx, tok.JwtID())
	if err != nil {
		verificationsTotal.WithLabelValues("error").Inc()
		s.logger.Error("blacklist lookup failed, rejecting token", observability.Error(err))
		return nil, fmt.Errorf("%w: revocation status unknown", ErrTokenRevoked)
	}
	if revoked {
		verificationsTotal.WithLabelValues("revoked").Inc()
		return nil, ErrTokenRevoked
	}

	roles, _ := stringSliceClaim(tok, claimRoles)
	permissions, _ := stringSliceClaim(tok, claimPermissions)
	sessionID, _ := stringClaim(tok, claimSessionID)

	verificationsTotal.WithLabelValues("ok").Inc()
	return &util.Identity{
		Subject:     tok.Subject(),
		Roles:       roles,
		Permissions: permissions,
		SessionID:   sessionID,
	}, nil
}

// Revoke blacklists the access token for its remaining lifetime and
// ends its session.
func (s *Service) Revoke(ctx context.Context, accessToken string) error {
	tok, err := s.parse(accessToken)
	if err != nil {
		return err
	}
	if err := s.requireType(tok, typeAccess); err != nil {
		return err
	}

	remaining := time.Until(tok.Expiration())
	if err := s.blacklist.Add(ctx, tok.JwtID(), remaining); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	if sessionID, ok := stringClaim(tok, claimSessionID); ok && sessionID != "" {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
	}

	revocationsTotal.WithLabelValues("single").Inc()
	return nil
}

// RevokeAll ends every session the user has, optionally sparing one
// (typically the caller's own), returning how many were removed.
// Outstanding access tokens expire on their own TTL.
func (s *Service) RevokeAll(ctx context.Context, userID, exceptSessionID string) (int, error) {
	var count int
	var err error

	if exceptSessionID == "" {
		count, err = s.sessions.DeleteByUser(ctx, userID)
	} else {
		var sessions []*session.Session
		sessions, err = s.sessions.ListByUser(ctx, userID)
		if err == nil {
			for _, sess := range sessions {
				if sess.ID == exceptSessionID {
					continue
				}
				if delErr := s.sessions.Delete(ctx, sess.ID); delErr != nil {
					err = delErr
					break
				}
				count++
			}
		}
	}
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	revocationsTotal.WithLabelValues("bulk").Inc()
	s.logger.Info("all sessions revoked",
		observability.String("subject", userID),
		observability.Int("count", count),
	)
	return count, nil
}

// ListSessions returns the user's live sessions across devices.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return s.sessions.ListByUser(ctx, userID)
}

func (s *Service) issuePair(subject string, roles, permissions []string, sessionID, refreshID string, now time.Time) (*Pair, error) {
	accessExpiry := now.Add(s.accessTTL)

	access, err := s.sign(subject, typeAccess, uuid.NewString(), sessionID, roles, permissions, now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := s.sign(subject, typeRefresh, refreshID, sessionID, roles, permissions, now, now.Add(s.refreshTTL))
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpiry,
		SessionID:    sessionID,
	}, nil
}

func (s *Service) sign(subject, tokenType, jti, sessionID string, roles, permissions []string, issuedAt, expiry time.Time) (string, error) {
	builder := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(subject).
		IssuedAt(issuedAt).
		Expiration(expiry).
		JwtID(jti).
		Claim(claimType, tokenType).
		Claim(claimSessionID, sessionID)

	if len(roles) > 0 {
		builder = builder.Claim(claimRoles, roles)
	}
	if len(permissions) > 0 {
		builder = builder.Claim(claimPermissions, permissions)
	}

	tok, err := builder.Build()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (s *Service) parse(raw string) (jwt.Token, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithIssuer(s.issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return tok, nil
}

func (s *Service) requireType(tok jwt.Token, want string) error {
	got, ok := stringClaim(tok, claimType)
	if !ok || got != want {
		return ErrWrongTokenType
	}
	return nil
}

func stringClaim(tok jwt.Token, name string) (string, bool) {
	v, ok := tok.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringSliceClaim(tok jwt.Token, name string) ([]string, bool) {
	v, ok := tok.Get(name)
	if !ok {
		return nil, false
	}

	switch vals := v.(type) {
	case []string:
		return vals, true
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
