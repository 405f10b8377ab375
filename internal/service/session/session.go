package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/hash"
	"github.com/ashabalin/webshop/internal/logging"
	"github.com/ashabalin/webshop/internal/models"
	"github.com/ashabalin/webshop/internal/tokens"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSession          = errors.New("no active session")
	ErrRefreshMismatch    = errors.New("refresh token mismatch")
)

// Service owns the per-user session state machine: no session -> active on
// login, active -> active on refresh (hash rotated), active -> no session on
// logout. The stored refresh digest is the single revocation anchor.
type Service struct {
	DB    *gorm.DB
	Codec *tokens.Codec
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "session.login")

	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !hash.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	pair, refreshDigest, err := s.issuePair(&user)
	if err != nil {
		return nil, err
	}

	// Unconditional overwrite: a new login invalidates any previous session.
	if err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("refresh_token_hash", refreshDigest).Error; err != nil {
		return nil, err
	}

	l.Info("session_started", "user_id", user.ID)
	return pair, nil
}

func (s *Service) Refresh(ctx context.Context, claims *tokens.RefreshClaims, rawToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "session.refresh")

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject: %w", err)
	}

	var user models.User
	if err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}

	if user.RefreshTokenHash == nil {
		return nil, ErrNoSession
	}

	// Reject stale tokens before signing anything. The conditional update
	// below stays authoritative for concurrent rotations.
	presented := tokens.Sha256Hex(rawToken)
	if *user.RefreshTokenHash != presented {
		l.Warn("refresh_rejected", "user_id", user.ID, "reason", "digest mismatch")
		return nil, ErrRefreshMismatch
	}

	pair, newDigest, err := s.issuePair(&user)
	if err != nil {
		return nil, err
	}

	// Rotation is one conditional update: the presented token's digest must
	// still be the stored one. Zero rows affected means the token was already
	// rotated (or never valid) and the request loses; state is unchanged.
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token_hash = ?", user.ID, presented).
		Update("refresh_token_hash", newDigest)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		l.Warn("refresh_rejected", "user_id", user.ID, "reason", "digest mismatch")
		return nil, ErrRefreshMismatch
	}

	l.Info("session_rotated", "user_id", user.ID)
	return pair, nil
}

// Logout clears the stored digest. Logging out twice is a no-op success.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("refresh_token_hash", nil).Error
}

// issuePair signs both tokens; neither is returned unless both succeed.
func (s *Service) issuePair(user *models.User) (*TokenPair, string, error) {
	access, _, err := s.Codec.NewAccessToken(user.ID.String(), user.Email, user.Role)
	if err != nil {
		return nil, "", err
	}

	refresh, _, err := s.Codec.NewRefreshToken(user.ID.String())
	if err != nil {
		return nil, "", err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, tokens.Sha256Hex(refresh), nil
}
