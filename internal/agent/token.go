package agent

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims carries the server identity an agent presents at handshake.
type Claims struct {
	ServerID string `json:"server_id"`
	AgentID  string `json:"agent_id,omitempty"`
	jwtlib.RegisteredClaims
}

// MintToken issues the signed handshake token for a server's agent.
func MintToken(serverID, agentID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ServerID: serverID,
		AgentID:  agentID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "syntra",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a handshake token and extracts its claims.
func ParseToken(token, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
