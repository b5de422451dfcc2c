package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Error codes reported to clients on 401.
const (
	CodeNoAuthHeader  = "no auth header"
	CodeInvalidHeader = "invalid_header"
	CodeTokenExpired  = "token_expired"
	CodeInvalidClaims = "invalid_claims"
	CodeNoRSAKey      = "no_rsa_key"
)

// Error is an authentication failure.
type Error struct {
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return e.Code + ": " + e.Description
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrMissingHeader = &Error{Code: CodeNoAuthHeader, Description: "Authorization header is missing"}
	errBadHeader     = &Error{Code: CodeInvalidHeader, Description: "Invalid header. Use an RS256 signed JWT Access Token"}
)

// Claims are the token claims used by the API.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errBadHeader
	}
	return parts[1], nil
}

func Issuer(domain string) string { return "https://" + domain + "/" }

func JWKSURL(domain string) string { return "https://" + domain + "/.well-known/jwks.json" }

// JWTVerifier checks RS256 tokens for one audience and issuer.
type JWTVerifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

func NewJWTVerifier(kf jwt.Keyfunc, domain, audience string) *JWTVerifier {
	return &JWTVerifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(Issuer(domain)),
			jwt.WithExpirationRequired(),
		),
	}
}

// NewJWKSVerifier fetches the tenant's JWKS and refreshes it in the
// background until ctx is done.
func NewJWKSVerifier(ctx context.Context, domain, audience string) (*JWTVerifier, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{JWKSURL(domain)})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	return NewJWTVerifier(k.Keyfunc, domain, audience), nil
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (*Claims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return nil, &Error{Code: CodeInvalidHeader, Description: errBadHeader.Description, Err: err}
	}
	if alg, _ := unverified.Header["alg"].(string); alg != jwt.SigningMethodRS256.Alg() {
		return nil, errBadHeader
	}

	claims := &Claims{}
	_, err = v.parser.ParseWithClaims(raw, claims, v.keyfunc)
	if err == nil {
		return claims, nil
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &Error{Code: CodeTokenExpired, Description: "token is expired", Err: err}
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing), errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, &Error{Code: CodeInvalidClaims, Description: "incorrect claims, please check the audience and issuer", Err: err}
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, &Error{Code: CodeNoRSAKey, Description: "No RSA key in JWKS", Err: err}
	default:
		return nil, &Error{Code: CodeInvalidHeader, Description: "Unable to parse authentication token.", Err: err}
	}
}
