package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"salonbook/backend/internal/domain"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Claims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

// JWTAuthenticator verifies HS256 bearer tokens issued by the identity
// service. The subject is the actor id.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (domain.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Actor{}, ErrUnauthenticated
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.issuer))
	}

	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return domain.Actor{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}

	role := domain.Role(claims.Role)
	// System is reserved for in-process callers.
	if !role.Valid() || role == domain.RoleSystem {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, claims.Role)
	}
	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	return domain.Actor{ID: claims.Subject, Role: role}, nil
}

// Issue signs a token for actor. It backs the token command and tests; the
// server itself never issues tokens.
func (a *JWTAuthenticator) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

type actorKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}
