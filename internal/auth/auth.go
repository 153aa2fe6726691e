package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"mathsnap/internal/models"
	"mathsnap/internal/services"
)

var (
	// ErrInvalidCredentials indicates login failure. It deliberately does not
	// say whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates a remember-me token that failed validation.
	ErrInvalidToken = errors.New("invalid remember token")
)

// UserStore is the account persistence surface the auth service needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// Service wraps registration, credential checks and remember-me tokens.
type Service struct {
	users       UserStore
	secret      []byte
	rememberTTL time.Duration
	now         func() time.Time
}

func NewService(users UserStore, secret string, rememberTTL time.Duration) *Service {
	return &Service{
		users:       users,
		secret:      []byte(secret),
		rememberTTL: rememberTTL,
		now:         time.Now,
	}
}

// Register creates a new account with a zeroed daily counter.
func (s *Service) Register(ctx context.Context, email, password, grade string) (*models.User, error) {
	email = strings.TrimSpace(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:             email,
		PasswordHash:      string(hash),
		SchoolGrade:       grade,
		PreferredLanguage: "ar",
		AnswerStyle:       "detailed",
		QuestionsUsed:     0,
		LastUseDate:       s.now().UTC().Format(models.DateLayout),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

type rememberClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// IssueRememberToken signs a long-lived token identifying the account.
func (s *Service) IssueRememberToken(email string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, rememberClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.rememberTTL)),
		},
		Email: email,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign remember token: %w", err)
	}
	return signed, nil
}

// RestoreFromToken validates a remember-me token and re-checks that the
// account still exists before trusting it.
func (s *Service) RestoreFromToken(ctx context.Context, tokenString string) (*models.User, error) {
	claims := &rememberClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	return user, nil
}
