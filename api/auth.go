package api

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	// clockSkew is tolerated on exp, nbf and iat.
	clockSkew = time.Minute

	envAuth0TestMode   = "AUTH0_TEST_MODE"
	envTestJWTSecret   = "TEST_JWT_SECRET"
	envLocalAuthMode   = "LOCAL_AUTH_MODE"
	envLocalAuthSecret = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL    = "JWKS_CACHE_TTL"
)

var (
	errBadSubject     = errors.New("subject is not a user id")
	errMissingSubject = errors.New("missing sub")
	errTokenExpired   = errors.New("token expired")
	errTokenNotYet    = errors.New("token not valid yet")
	errTokenIssuedAt  = errors.New("token used before issued")
	errWrongAudience  = errors.New("invalid audience")
	errWrongIssuer    = errors.New("invalid issuer")
)

// Auth resolves bearer tokens to user ids. Tokens are RS256 signed by the
// identity provider, or HS256 with a shared secret in local and test mode.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map // kid -> cachedKey
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth for the provider JWKS. LOCAL_AUTH_MODE=hs256 or
// AUTH0_TEST_MODE=1 switch it to shared secret verification; a missing secret
// or a malformed JWKS_CACHE_TTL panics at startup.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer, keyCacheTTL: jwksCacheTTL()}
	if secret, ok := localSecret(); ok {
		a.TestMode = true
		a.TestSecret = secret
	}
	method := "RS256"
	if a.TestMode {
		method = "HS256"
	}
	a.parser = jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation())
	return a
}

func localSecret() ([]byte, bool) {
	var secretEnv string
	switch mode := strings.ToLower(os.Getenv(envLocalAuthMode)); {
	case mode == "hs256":
		secretEnv = envLocalAuthSecret
	case mode != "":
		panic(fmt.Sprintf("unsupported %s value %q", envLocalAuthMode, mode))
	case os.Getenv(envAuth0TestMode) == "1":
		secretEnv = envTestJWTSecret
	default:
		return nil, false
	}
	secret := os.Getenv(secretEnv)
	if secret == "" {
		panic(secretEnv + " must be set for shared secret auth")
	}
	return []byte(secret), true
}

func jwksCacheTTL() time.Duration {
	raw := os.Getenv(envJWKSCacheTTL)
	if raw == "" {
		return defaultJWKSCacheTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		panic("invalid " + envJWKSCacheTTL)
	}
	return ttl
}

// UserIDFromAuthHeader resolves the Authorization header to a user id.
func (a *Auth) UserIDFromAuthHeader(h string) (int64, error) {
	token, err := bearerToken(h)
	if err != nil {
		return 0, err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer verifies token and returns the user id in its sub claim.
// The claim ends in the numeric id, optionally behind a provider prefix such
// as "auth0|".
func (a *Auth) UserIDFromBearer(token string) (int64, error) {
	if token == "" {
		return 0, errBadAuthorization
	}
	claims := jwt.MapClaims{}
	if _, err := a.tokenParser().ParseWithClaims(token, claims, a.keyFor); err != nil {
		return 0, err
	}
	if err := a.verifyClaims(claims, time.Now()); err != nil {
		return 0, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return 0, errMissingSubject
	}
	return parseSubject(sub)
}

func (a *Auth) tokenParser() *jwt.Parser {
	if a.parser != nil {
		return a.parser
	}
	method := "RS256"
	if a.TestMode {
		method = "HS256"
	}
	return jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation())
}

// verifyClaims checks the time based claims with clockSkew leeway, then the
// configured audience and issuer. exp is required.
func (a *Auth) verifyClaims(claims jwt.MapClaims, now time.Time) error {
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return errTokenExpired
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return errTokenNotYet
	}
	if !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false) {
		return errTokenIssuedAt
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return errWrongAudience
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return errWrongIssuer
	}
	return nil
}

func parseSubject(sub string) (int64, error) {
	if i := strings.LastIndexByte(sub, '|'); i >= 0 {
		sub = sub[i+1:]
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadSubject
	}
	return id, nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.TestMode {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	cache := kid != "" && a.keyCacheTTL > 0
	if cache {
		if v, ok := a.keyCache.Load(kid); ok {
			if entry := v.(cachedKey); time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if cache {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
