package services

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/baharkarakas/phonehealth-backend/internal/auth"
)

const RoleAdmin = "admin"

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

// AdminService authenticates the single operator account configured through
// ADMIN_EMAIL / ADMIN_PASSWORD_HASH.
type AdminService struct {
	tm           *auth.TokenManager
	email        string
	passwordHash string
}

func NewAdminService(tm *auth.TokenManager, email, passwordHash string) *AdminService {
	return &AdminService{tm: tm, email: strings.ToLower(strings.TrimSpace(email)), passwordHash: passwordHash}
}

func (s *AdminService) Login(email, password string) (TokenPair, error) {
	if s.email == "" || s.passwordHash == "" {
		return TokenPair{}, ErrInvalidCredentials
	}
	given := strings.ToLower(strings.TrimSpace(email))
	if subtle.ConstantTimeCompare([]byte(given), []byte(s.email)) != 1 {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(password, s.passwordHash); err != nil {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(s.email)
}

func (s *AdminService) Refresh(refreshToken string) (TokenPair, error) {
	claims, isRefresh, err := s.tm.ParseAny(refreshToken)
	if err != nil || !isRefresh {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(claims.Subject)
}

func (s *AdminService) issue(subject string) (TokenPair, error) {
	access, refresh, exp, err := s.tm.GeneratePair(subject, RoleAdmin)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(exp).Round(time.Second) / time.Second),
	}, nil
}
