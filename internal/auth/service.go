package auth

import (
	"context"
	"fmt"
)

// Service authenticates the single dashboard operator credential against a
// bcrypt hash supplied at startup (from config/Vault), and issues JWTs for
// the gin middleware to validate on every subsequent request.
type Service struct {
	jwtManager *JWTManager
	passwords  *PasswordManager
	email      string
	passwordHash string
}

// NewService wires a Service against the operator's email and bcrypt hash.
func NewService(jwtManager *JWTManager, passwords *PasswordManager, operatorEmail, operatorPasswordHash string) *Service {
	return &Service{jwtManager: jwtManager, passwords: passwords, email: operatorEmail, passwordHash: operatorPasswordHash}
}

func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// Login verifies email+password against the configured operator credential
// and returns a token pair. There is exactly one account, so "user ID" is
// the fixed all-zero sentinel admin UUID.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	if email != s.email || !s.passwords.VerifyPassword(password, s.passwordHash) {
		return nil, ErrInvalidCredentials
	}

	claims := UserClaims{UserID: "00000000-0000-0000-0000-000000000000", Email: email, IsAdmin: true}
	pair, err := s.jwtManager.GenerateTokenPair(claims)
	if err != nil {
		return nil, fmt.Errorf("generate token pair: %w", err)
	}
	return &LoginResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, ExpiresIn: pair.ExpiresIn}, nil
}
