package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role constants.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Scope constants.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// Claims are the verified token claims the API cares about.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the claims carry the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRole reports whether the claims carry the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// VerifierConfig selects the signature algorithm and its key material.
type VerifierConfig struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string

	// SecretKey signs and verifies HS256 tokens.
	SecretKey string

	// PublicKeyPEM verifies RS256 tokens (PKIX PEM).
	PublicKeyPEM string
}

// Verifier validates JWT tokens and extracts claims.
type Verifier struct {
	algorithm string
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewVerifier builds a verifier for the configured algorithm.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	switch cfg.Algorithm {
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires a secret key")
		}
		return &Verifier{algorithm: "HS256", secret: []byte(cfg.SecretKey)}, nil
	case "RS256":
		key, err := parsePublicKeyPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load RS256 public key: %w", err)
		}
		return &Verifier{algorithm: "RS256", publicKey: key}, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}
}

// VerifyToken parses and validates a token, returning its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if v.algorithm == "RS256" {
			return v.publicKey, nil
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	mapClaims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return extractClaims(mapClaims)
}

func extractClaims(claims *jwt.MapClaims) (*Claims, error) {
	sub, ok := (*claims)["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	roles, err := stringSliceClaim(claims, "roles")
	if err != nil {
		return nil, err
	}
	scopes, err := stringSliceClaim(claims, "scopes")
	if err != nil {
		return nil, err
	}

	if !validRoles(roles) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !validScopes(scopes) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}

	return &Claims{Subject: sub, Roles: roles, Scopes: scopes}, nil
}

func stringSliceClaim(claims *jwt.MapClaims, key string) ([]string, error) {
	value, ok := (*claims)[key]
	if !ok {
		return nil, fmt.Errorf("missing claim: %s", key)
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string array", key)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

func validRoles(roles []string) bool {
	if len(roles) == 0 {
		return false
	}
	for _, role := range roles {
		if role != RoleViewer && role != RoleOperator {
			return false
		}
	}
	return true
}

func validScopes(scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	for _, scope := range scopes {
		switch scope {
		case ScopeRead, ScopeControl, ScopeTelemetry:
		default:
			return false
		}
	}
	return true
}

func parsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}
