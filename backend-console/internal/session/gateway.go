package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/dto"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

// Notifier delivers user notifications such as password reset links
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification) error
}

// Config holds configuration for Gateway
type Config struct {
	JWTSecret       string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	BcryptCost      int
	// RequireEmailConfirmation rejects sign-in until the address is confirmed
	RequireEmailConfirmation bool
	Now                      func() time.Time
}

// Claims are the access token claims
type Claims struct {
	Email         string `json:"email"`
	SessionID     string `json:"sid"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Result is the outcome of a successful sign-in, sign-up or refresh.
// Session is nil after a sign-up that still needs email confirmation.
type Result struct {
	Session *domain.AuthSession
	User    *domain.User
}

// Gateway issues and verifies sessions against the auth tables
type Gateway struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	resets   repository.PasswordResetRepository
	notifier Notifier
	cfg      Config
	log      *logger.Logger
}

// NewGateway creates a new Gateway
func NewGateway(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	resets repository.PasswordResetRepository,
	notifier Notifier,
	cfg Config,
	log *logger.Logger,
) *Gateway {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Get()
	}
	return &Gateway{
		users:    users,
		sessions: sessions,
		resets:   resets,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// SignIn authenticates with email and password and opens a session
func (g *Gateway) SignIn(ctx context.Context, email, password, userAgent, ip string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.sign_in")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	span.SetAttributes(attribute.String("email", email))

	user, err := g.users.GetByEmail(ctx, email)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if user == nil {
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		span.SetStatus(codes.Error, "user inactive")
		return nil, domain.ErrUserInactive
	}
	if g.cfg.RequireEmailConfirmation && !user.EmailConfirmed {
		span.SetStatus(codes.Error, "email not confirmed")
		return nil, domain.ErrEmailNotConfirmed
	}

	auth, err := g.openSession(ctx, user, userAgent, ip)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := g.users.UpdateLastSignIn(ctx, user.ID, g.cfg.Now()); err != nil {
		g.log.Warn("failed to stamp last sign-in", zap.String("user_id", user.ID), zap.Error(err))
	}

	span.SetAttributes(attribute.String("user_id", user.ID))
	span.SetStatus(codes.Ok, "")
	return &Result{Session: auth, User: user}, nil
}

// SignUp registers a new account. When email confirmation is required no
// session is opened.
func (g *Gateway) SignUp(ctx context.Context, req *dto.SignUpRequest, userAgent, ip string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.sign_up")
	defer span.End()

	req.Normalize()
	span.SetAttributes(attribute.String("email", req.Email))

	if err := dto.ValidateEmail(req.Email); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := dto.ValidatePassword(req.Password); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	exists, err := g.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if exists {
		span.SetStatus(codes.Error, "user already exists")
		return nil, domain.ErrUserAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), g.cfg.BcryptCost)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	now := g.cfg.Now()
	user := &domain.User{
		ID:             uuid.New().String(),
		Email:          req.Email,
		PasswordHash:   string(hash),
		FullName:       req.FullName,
		EmailConfirmed: !g.cfg.RequireEmailConfirmation,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.users.Create(ctx, user); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("user_id", user.ID))
	if g.cfg.RequireEmailConfirmation {
		span.SetStatus(codes.Ok, "")
		return &Result{User: user}, nil
	}

	auth, err := g.openSession(ctx, user, userAgent, ip)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return &Result{Session: auth, User: user}, nil
}

// SignOut ends a session. Unknown sessions are ignored.
func (g *Gateway) SignOut(ctx context.Context, sessionID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.session.sign_out")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))
	if err := g.sessions.Delete(ctx, sessionID); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Refresh rotates the refresh token and issues a new access token. Presenting
// a refresh token that was already rotated away revokes the session.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.refresh")
	defer span.End()

	sessionID, _, ok := strings.Cut(refreshToken, ".")
	if !ok || sessionID == "" {
		span.SetStatus(codes.Error, "malformed refresh token")
		return nil, domain.ErrInvalidToken
	}
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := g.sessions.GetByID(ctx, sessionID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if sess == nil {
		span.SetStatus(codes.Error, "session not found")
		return nil, domain.ErrInvalidToken
	}

	if subtle.ConstantTimeCompare([]byte(hashToken(refreshToken)), []byte(sess.RefreshToken)) != 1 {
		g.log.Warn("refresh token reuse detected, revoking session",
			zap.String("session_id", sess.ID),
			zap.String("user_id", sess.UserID),
		)
		_ = g.sessions.Delete(ctx, sess.ID)
		span.SetStatus(codes.Error, "refresh token reuse")
		return nil, domain.ErrInvalidToken
	}

	now := g.cfg.Now()
	if !sess.ExpiresAt.After(now) {
		_ = g.sessions.Delete(ctx, sess.ID)
		span.SetStatus(codes.Error, "session expired")
		return nil, domain.ErrTokenExpired
	}

	user, err := g.users.GetByID(ctx, sess.UserID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if user == nil {
		_ = g.sessions.Delete(ctx, sess.ID)
		span.SetStatus(codes.Error, "user not found")
		return nil, domain.ErrInvalidToken
	}
	if !user.IsActive {
		span.SetStatus(codes.Error, "user inactive")
		return nil, domain.ErrUserInactive
	}

	next, err := newRefreshToken(sess.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := g.sessions.Rotate(ctx, sess.ID, hashToken(next), now.Add(g.cfg.RefreshTokenTTL)); err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}

	access, expiresAt, err := g.signAccessToken(user, sess.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("user_id", user.ID))
	span.SetStatus(codes.Ok, "")
	return &Result{
		Session: g.authSession(user, sess.ID, access, next, expiresAt),
		User:    user,
	}, nil
}

// GetSession returns the session an access token belongs to. The refresh
// token is never echoed back.
func (g *Gateway) GetSession(ctx context.Context, accessToken string) (*domain.AuthSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.session.get_session")
	defer span.End()

	claims, err := g.parse(accessToken)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	sess, err := g.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if sess == nil {
		span.SetStatus(codes.Error, "session not found")
		return nil, domain.ErrSessionNotFound
	}

	span.SetAttributes(attribute.String("user_id", claims.Subject))
	span.SetStatus(codes.Ok, "")
	return &domain.AuthSession{
		SessionID:     claims.SessionID,
		UserID:        claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		AccessToken:   accessToken,
		ExpiresAt:     claims.ExpiresAt.Time,
	}, nil
}

// VerifyAccessToken checks the token signature, its expiry and that the
// session has not been revoked
func (g *Gateway) VerifyAccessToken(ctx context.Context, token string) (*middleware.Identity, error) {
	auth, err := g.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Identity{
		UserID:    auth.UserID,
		Email:     auth.Email,
		SessionID: auth.SessionID,
	}, nil
}

// RequestPasswordReset emails a reset link. Unknown addresses succeed
// silently so the endpoint cannot be used to discover accounts.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.session.request_password_reset")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := g.users.GetByEmail(ctx, email)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if user == nil || !user.IsActive {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	token, err := randomToken()
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	now := g.cfg.Now()
	reset := &domain.PasswordReset{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(g.cfg.ResetTokenTTL),
		CreatedAt: now,
	}
	if err := g.resets.Create(ctx, reset); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	if g.notifier != nil {
		n := &domain.Notification{
			ID:      uuid.New().String(),
			UserID:  user.ID,
			Channel: "email",
			Title:   "Reset your password",
			Body:    "Use the link below to choose a new password. It expires in " + g.cfg.ResetTokenTTL.String() + ".",
			Data: map[string]string{
				"email":     user.Email,
				"reset_url": resetURL(redirectTo, token),
			},
			CreatedAt: now,
		}
		if err := g.notifier.Notify(ctx, n); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}

	span.SetAttributes(attribute.String("user_id", user.ID))
	span.SetStatus(codes.Ok, "")
	return nil
}

// CompletePasswordReset sets a new password and signs the user out everywhere
func (g *Gateway) CompletePasswordReset(ctx context.Context, token, password string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.session.complete_password_reset")
	defer span.End()

	if err := dto.ValidatePassword(password); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	reset, err := g.resets.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if reset == nil || reset.UsedAt != nil {
		span.SetStatus(codes.Error, "invalid reset token")
		return domain.ErrInvalidToken
	}
	now := g.cfg.Now()
	if !reset.ExpiresAt.After(now) {
		span.SetStatus(codes.Error, "reset token expired")
		return domain.ErrTokenExpired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), g.cfg.BcryptCost)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if err := g.resets.MarkUsed(ctx, reset.ID, now); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if err := g.users.UpdatePassword(ctx, reset.UserID, string(hash)); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if err := g.sessions.DeleteByUserID(ctx, reset.UserID); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	span.SetAttributes(attribute.String("user_id", reset.UserID))
	span.SetStatus(codes.Ok, "")
	return nil
}

func (g *Gateway) openSession(ctx context.Context, user *domain.User, userAgent, ip string) (*domain.AuthSession, error) {
	sessionID := uuid.New().String()
	refresh, err := newRefreshToken(sessionID)
	if err != nil {
		return nil, err
	}
	now := g.cfg.Now()
	sess := &domain.Session{
		ID:           sessionID,
		UserID:       user.ID,
		RefreshToken: hashToken(refresh),
		UserAgent:    userAgent,
		IP:           ip,
		ExpiresAt:    now.Add(g.cfg.RefreshTokenTTL),
		CreatedAt:    now,
	}
	if err := g.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	access, expiresAt, err := g.signAccessToken(user, sessionID)
	if err != nil {
		return nil, err
	}
	return g.authSession(user, sessionID, access, refresh, expiresAt), nil
}

func (g *Gateway) authSession(user *domain.User, sessionID, access, refresh string, expiresAt time.Time) *domain.AuthSession {
	return &domain.AuthSession{
		SessionID:     sessionID,
		UserID:        user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailConfirmed,
		AccessToken:   access,
		RefreshToken:  refresh,
		ExpiresAt:     expiresAt,
	}
}

func (g *Gateway) signAccessToken(user *domain.User, sessionID string) (string, time.Time, error) {
	now := g.cfg.Now()
	expiresAt := now.Add(g.cfg.AccessTokenTTL)
	claims := Claims{
		Email:         user.Email,
		SessionID:     sessionID,
		EmailVerified: user.EmailConfirmed,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    g.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(g.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate drops sub-second precision
	return signed, claims.ExpiresAt.Time, nil
}

func (g *Gateway) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if g.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.cfg.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(g.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// newRefreshToken prefixes the random part with the session id so a refresh
// can find its session without a token index
func newRefreshToken(sessionID string) (string, error) {
	secret, err := randomToken()
	if err != nil {
		return "", err
	}
	return sessionID + "." + secret, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetURL(redirectTo, token string) string {
	if redirectTo == "" {
		redirectTo = middleware.AuthRoute
	}
	sep := "?"
	if strings.Contains(redirectTo, "?") {
		sep = "&"
	}
	return redirectTo + sep + "token=" + token
}
