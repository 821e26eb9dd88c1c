package auth

import (
	"errors"
	"time"

	"voip-billing-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the only supported token claims shape for this service.
// Tokens are machine-to-machine credentials for operational endpoints;
// Service names the calling system, Role gates what it may do.
type Claims struct {
	jwt.RegisteredClaims

	Service string `json:"service"`
	Role    string `json:"role"`
}

const (
	RoleOperator = "operator"
	RoleBilling  = "billing"
)

type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.ServiceTokenSecret == "" {
		return nil, errors.New("SERVICE_TOKEN_SECRET is required")
	}

	return &Manager{
		secret: []byte(cfg.ServiceTokenSecret),
		issuer: cfg.ServiceTokenIssuer,
		ttl:    cfg.ServiceTokenTTL,
	}, nil
}

func (m *Manager) Issue(now time.Time, service, role string) (string, error) {
	if service == "" {
		return "", errors.New("service name is required")
	}
	if role == "" {
		return "", errors.New("role is required")
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		Service: service,
		Role:    role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	validator := jwt.NewValidator(opts...)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.Service == "" {
		return Claims{}, errors.New("service missing")
	}
	if claims.Role == "" {
		return Claims{}, errors.New("role missing")
	}

	return claims, nil
}
