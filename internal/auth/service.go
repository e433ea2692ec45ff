// Package auth authenticates document owners. Share-link collaborators never
// pass through here: their capability is the share token itself.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ContextUserKey is the gin context key holding the authenticated owner id.
const ContextUserKey = "userId"

const (
	tokenIssuer     = "collabd"
	defaultTokenTTL = 24 * time.Hour

	// DefaultPasswordCost is the bcrypt cost for new password hashes.
	DefaultPasswordCost = 12
)

// Service identifies the document owner behind a request.
type Service interface {
	GetUserIDFromGinContext(c *gin.Context) (int, error)
}

var ErrUnauthorized = errors.New("unauthorized")

// Claims is the owner session carried in a bearer token.
type Claims struct {
	jwt.RegisteredClaims
}

type AuthService struct {
	Users        UserStore
	JWTSecret    string
	TokenTTL     time.Duration
	PasswordCost int
	now          func() time.Time
}

func NewAuthService(users UserStore, secret string) *AuthService {
	return &AuthService{
		Users:        users,
		JWTSecret:    secret,
		TokenTTL:     defaultTokenTTL,
		PasswordCost: DefaultPasswordCost,
		now:          time.Now,
	}
}

// HashPassword hashes with the given bcrypt cost. Costs outside bcrypt's
// range fall back to DefaultPasswordCost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultPasswordCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(hash), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *AuthService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// IssueToken signs a session for userId and returns it with its expiry.
func (s *AuthService) IssueToken(userId int) (string, time.Time, error) {
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	issued := s.clock()
	expires := issued.Add(ttl)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.Itoa(userId),
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *AuthService) GetUserIDFromToken(tokenString string) (int, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	userId, err := strconv.Atoi(claims.Subject)
	if err != nil || userId <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrUnauthorized, claims.Subject)
	}
	return userId, nil
}

func (s *AuthService) GetUserIDFromAuthHeader(authHeader string) (int, error) {
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return 0, fmt.Errorf("%w: expected bearer authorization", ErrUnauthorized)
	}
	return s.GetUserIDFromToken(strings.TrimSpace(token))
}

// GetUserIDFromGinContext prefers the id stored by AuthMiddleware and falls
// back to parsing the Authorization header.
func (s *AuthService) GetUserIDFromGinContext(c *gin.Context) (int, error) {
	if id := c.GetInt(ContextUserKey); id > 0 {
		return id, nil
	}
	return s.GetUserIDFromAuthHeader(c.GetHeader("Authorization"))
}
