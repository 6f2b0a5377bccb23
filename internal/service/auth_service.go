package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// TokenType distinguishes the identity token from the exam credential.
type TokenType string

const (
	// TokenTypeCandidate is issued at login and only proves identity.
	TokenTypeCandidate TokenType = "candidate"
	// TokenTypeExam is issued by admission; its jti is the lease token.
	TokenTypeExam TokenType = "exam"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	CandidateID int       `json:"candidate_id"`
}

// CandidateStore is the read side of candidate accounts.
type CandidateStore interface {
	GetByID(ctx context.Context, id int) (*model.Candidate, error)
	GetByEmail(ctx context.Context, email string) (*model.Candidate, error)
}

// AuthService handles candidate login, credential issuing and verification.
type AuthService struct {
	cfg        *config.Config
	candidates CandidateStore
	now        Clock
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, candidates CandidateStore) *AuthService {
	return &AuthService{cfg: cfg, candidates: candidates, now: time.Now}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}

// Login checks email and password and returns an identity token. Login does
// not touch the session lease; only starting the exam does.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.Candidate, error) {
	candidate, err := s.candidates.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, ErrInvalidCredential
		}
		return "", nil, fmt.Errorf("get candidate: %w", err)
	}
	if err := s.CheckPassword(candidate.PasswordHash, password); err != nil {
		return "", nil, err
	}

	token, err := s.sign(candidate.ID, TokenTypeCandidate, uuid.NewString(), s.cfg.JWTExpiry)
	if err != nil {
		return "", nil, err
	}
	return token, candidate, nil
}

// IsAccepted reports whether the candidate's admission status is accepted.
func (s *AuthService) IsAccepted(ctx context.Context, candidateID int) (bool, error) {
	candidate, err := s.candidates.GetByID(ctx, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get candidate: %w", err)
	}
	return candidate.AdmissionStatus == model.AdmissionAccepted, nil
}

// IssueCredential signs an exam credential bound to a lease token. The
// credential expires together with the lease.
func (s *AuthService) IssueCredential(_ context.Context, candidateID int, leaseToken string, ttl time.Duration) (string, error) {
	return s.sign(candidateID, TokenTypeExam, leaseToken, ttl)
}

func (s *AuthService) sign(candidateID int, tokenType TokenType, jti string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(candidateID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType:   tokenType,
		CandidateID: candidateID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a JWT, returning the claims.
func (s *AuthService) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.CandidateID == 0 {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
