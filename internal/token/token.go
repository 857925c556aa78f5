// Package token mints and resolves the single-purpose capability tokens
// that let external technicians and clients act on exactly one quote
// without a login. A token binds a quote id, a participation phase and a
// random token id; consumption state lives on the quote row and is checked
// by the store inside the same transaction as the transition it gates.
package token

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "stride-wms-links"
	secretEnvVariable = "STRIDE_LINK_SECRET"
)

// Phase names the external participation stage a token is valid for.
type Phase string

const (
	PhaseTech   Phase = "tech"
	PhaseClient Phase = "client"
)

// ErrTokenInvalid covers expired, malformed, unknown and already-consumed
// tokens. The cases are deliberately not distinguished to external callers.
var ErrTokenInvalid = errors.New("token invalid")

// Grant is the result of resolving a well-formed, unexpired token.
// Consumption against the quote's stored token id still has to be checked
// atomically by the store.
type Grant struct {
	QuoteID   string
	Phase     Phase
	TokenID   string
	ExpiresAt time.Time
}

type linkClaims struct {
	QuoteID string `json:"quote_id"`
	Phase   string `json:"phase"`
	jwt.RegisteredClaims
}

// Issuer mints capability tokens with a fixed TTL.
type Issuer struct {
	ttl time.Duration
	now func() time.Time
}

// NewIssuer constructs an Issuer. A non-positive ttl falls back to 7 days.
func NewIssuer(ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Issuer{ttl: ttl, now: time.Now}
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints an opaque token for the given quote and phase. It returns the
// signed token, the token id to persist on the quote row, and the expiry.
func (i *Issuer) Issue(quoteID string, phase Phase) (signed, tokenID string, expiresAt time.Time, err error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return "", "", time.Time{}, errors.New("quoteID is required")
	}
	if phase != PhaseTech && phase != PhaseClient {
		return "", "", time.Time{}, fmt.Errorf("unknown phase %q", phase)
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", "", time.Time{}, err
	}

	now := i.now().UTC()
	expiresAt = now.Add(i.ttl)
	tokenID = uuid.NewString()
	claims := linkClaims{
		QuoteID: quoteID,
		Phase:   string(phase),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   quoteID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        tokenID,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err = tok.SignedString(secretBytes)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, tokenID, expiresAt, nil
}

// Resolve validates signature, shape and expiry. Expiry is enforced here by
// wall-clock comparison; there is no background sweep. All failure modes
// collapse into ErrTokenInvalid.
func (i *Issuer) Resolve(signed string) (Grant, error) {
	signed = strings.TrimSpace(signed)
	if signed == "" {
		return Grant{}, ErrTokenInvalid
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return Grant{}, err
	}

	parsed, err := jwt.ParseWithClaims(signed, &linkClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return secretBytes, nil
	})
	if err != nil {
		return Grant{}, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*linkClaims)
	if !ok || !parsed.Valid {
		return Grant{}, ErrTokenInvalid
	}
	if claims.Issuer != issuer || strings.TrimSpace(claims.QuoteID) == "" || strings.TrimSpace(claims.ID) == "" {
		return Grant{}, ErrTokenInvalid
	}
	phase := Phase(claims.Phase)
	if phase != PhaseTech && phase != PhaseClient {
		return Grant{}, ErrTokenInvalid
	}
	if claims.ExpiresAt == nil || i.now().UTC().After(claims.ExpiresAt.Time) {
		return Grant{}, ErrTokenInvalid
	}
	return Grant{
		QuoteID:   claims.QuoteID,
		Phase:     phase,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

var (
	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errors.New("link secret is not configured")
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
