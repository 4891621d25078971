package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/ledger"
	"github.com/M-ajor19/quillify/internal/models"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = ledger.ErrDuplicateEmail
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const minPasswordLen = 8

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*models.Principal, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// Granter applies the signup grant.
type Granter interface {
	Credit(ctx context.Context, principalID uuid.UUID, amount int64, kind models.TransactionKind, externalRef *string) (ledger.CreditResult, error)
}

type Config struct {
	Secret        string
	TokenTTL      time.Duration
	SignupCredits int64
}

type service struct {
	principals ledger.PrincipalStore
	grants     Granter
	secret     []byte
	ttl        time.Duration
	signup     int64
	log        *slog.Logger
	now        func() time.Time
}

func NewService(principals ledger.PrincipalStore, grants Granter, cfg Config, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Secret == "" {
		log.Warn("JWT secret not configured, using development secret")
		cfg.Secret = "quillify-dev-secret"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &service{
		principals: principals,
		grants:     grants,
		secret:     []byte(cfg.Secret),
		ttl:        cfg.TokenTTL,
		signup:     cfg.SignupCredits,
		log:        log,
		now:        time.Now,
	}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

func (s *service) Register(ctx context.Context, email, password, displayName string) (*models.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("invalid email address")
	}
	if len(password) < minPasswordLen {
		return nil, apperr.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	p := &models.Principal{
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
	}
	if err := s.principals.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	// A failed grant is retried on the next login.
	res, err := s.grantSignup(ctx, p.ID)
	if err != nil {
		s.log.Error("signup grant failed", "principal_id", p.ID, "error", err)
	} else if res.Transaction != nil {
		p.CreditBalance = res.Transaction.BalanceAfter
	}
	s.log.Info("principal registered", "principal_id", p.ID, "credits", p.CreditBalance)
	return p, nil
}

// grantSignup credits the free signup allowance once per principal.
func (s *service) grantSignup(ctx context.Context, id uuid.UUID) (ledger.CreditResult, error) {
	if s.signup <= 0 {
		return ledger.CreditResult{}, nil
	}
	ref := ledger.SignupRef(id)
	return s.grants.Credit(ctx, id, s.signup, models.TransactionPurchase, &ref)
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	p, err := s.principals.GetPrincipalByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ledger.ErrPrincipalNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	res, err := s.grantSignup(ctx, p.ID)
	switch {
	case err != nil:
		s.log.Warn("signup grant retry failed", "principal_id", p.ID, "error", err)
	case res.Applied:
		s.log.Info("signup grant applied on login", "principal_id", p.ID)
	}
	return s.issueToken(p.ID)
}

func (s *service) issueToken(id uuid.UUID) (string, error) {
	now := s.now()
	c := jwt.RegisteredClaims{
		Subject:   id.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	c := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
