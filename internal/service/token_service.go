package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TokenService mints and validates entry tokens
type TokenService interface {
	// Mint signs a new entry token. It is mirrored server-side by the promote
	// primitive, not here.
	Mint(userID, eventID string, now time.Time) (*domain.EntryToken, error)

	// Validate checks the signature, then requires the exact token to be the
	// user's mirrored token
	Validate(ctx context.Context, token string) (*domain.EntryGrant, error)

	// Revoke ends a user's entry slot before its TTL
	Revoke(ctx context.Context, userID string) (string, bool, error)

	// Invalidate ends the slot a grant was issued for, after checkout
	Invalidate(ctx context.Context, grant *domain.EntryGrant) (bool, error)
}

// EntryTokenClaims represents the claims of an entry token JWT
type EntryTokenClaims struct {
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenServiceConfig contains configuration for the token service
type TokenServiceConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

type tokenService struct {
	slots    repository.SlotStore
	releaser *SlotReleaser
	secret   []byte
	issuer   string
	ttl      time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(slots repository.SlotStore, releaser *SlotReleaser, cfg *TokenServiceConfig) TokenService {
	if cfg == nil || cfg.Secret == "" {
		panic("TokenServiceConfig.Secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "booking-rush-gate"
	}
	return &tokenService{
		slots:    slots,
		releaser: releaser,
		secret:   []byte(cfg.Secret),
		issuer:   issuer,
		ttl:      ttl,
	}
}

func (s *tokenService) Mint(userID, eventID string, now time.Time) (*domain.EntryToken, error) {
	expiresAt := now.Add(s.ttl)
	claims := EntryTokenClaims{
		UserID:  userID,
		EventID: eventID,
		Purpose: domain.EntryTokenPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   userID,
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign entry token: %w", err)
	}

	return &domain.EntryToken{
		UserID:    userID,
		EventID:   eventID,
		Token:     signed,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *tokenService) Validate(ctx context.Context, token string) (*domain.EntryGrant, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.token.validate")
	defer span.End()

	if token == "" {
		span.SetStatus(codes.Error, "entry token required")
		return nil, domain.ErrEntryTokenMissing
	}

	parsed, err := jwt.ParseWithClaims(token, &EntryTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid entry token")
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrEntryTokenExpired
		}
		return nil, domain.ErrInvalidEntryToken
	}

	claims, ok := parsed.Claims.(*EntryTokenClaims)
	if !ok || !parsed.Valid || claims.Purpose != domain.EntryTokenPurpose || claims.UserID == "" || claims.Subject != claims.UserID {
		span.SetStatus(codes.Error, "invalid entry token claims")
		return nil, domain.ErrInvalidEntryToken
	}

	span.SetAttributes(
		attribute.String("user_id", claims.UserID),
		attribute.String("event_id", claims.EventID),
	)

	mirrored, _, err := s.slots.MirroredToken(ctx, claims.UserID)
	if err != nil {
		return nil, telemetry.Fail(span, fmt.Errorf("failed to read entry token mirror: %w", err))
	}
	if mirrored == "" {
		span.SetStatus(codes.Error, "entry token not mirrored")
		return nil, domain.ErrEntryTokenExpired
	}
	if mirrored != token {
		span.SetStatus(codes.Error, "entry token mismatch")
		return nil, domain.ErrEntryTokenMismatch
	}

	span.SetStatus(codes.Ok, "")
	return &domain.EntryGrant{
		UserID:    claims.UserID,
		EventID:   claims.EventID,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *tokenService) Revoke(ctx context.Context, userID string) (string, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.token.revoke")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if err := domain.ValidateUserID(userID); err != nil {
		return "", false, err
	}
	eventID, res, err := s.releaser.ReleaseHolder(ctx, userID, repository.ReleaseRevoke, domain.ReasonRevoked)
	if err != nil {
		return "", false, telemetry.Fail(span, err)
	}
	span.SetStatus(codes.Ok, "")
	return eventID, res.Released, nil
}

func (s *tokenService) Invalidate(ctx context.Context, grant *domain.EntryGrant) (bool, error) {
	res, err := s.releaser.Release(ctx, grant.UserID, grant.EventID, repository.ReleaseInvalidate, grant.Token, domain.ReasonCompleted)
	if err != nil {
		return false, err
	}
	return res.Released, nil
}
