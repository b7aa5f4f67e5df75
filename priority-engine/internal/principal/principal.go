// Package principal identifies who is acting on a request so card audit
// entries can be attributed. It does not decide what the actor may do.
package principal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ActorHeader    = "X-Actor"
	AnonymousActor = "anonymous"
	tenantClaim    = "tenant_id"
)

var (
	ErrUnauthenticated = errors.New("bearer token required")
	ErrTenantMismatch  = errors.New("token tenant does not match request tenant")
)

type Principal struct {
	Actor         string
	TenantID      string
	Authenticated bool
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Actor returns the acting principal's name, or "anonymous".
func Actor(ctx context.Context) string {
	if p, ok := FromContext(ctx); ok && p.Actor != "" {
		return p.Actor
	}
	return AnonymousActor
}

// Extractor pulls the principal out of a request. With a secret it requires
// an HS256 bearer token whose tenant_id claim equals the request tenant;
// without one it trusts the X-Actor header.
type Extractor struct {
	secret []byte
}

func NewExtractor(secret string) *Extractor {
	return &Extractor{secret: []byte(secret)}
}

func (e *Extractor) Extract(r *http.Request, tenantID string) (Principal, error) {
	if len(e.secret) == 0 {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			actor = AnonymousActor
		}
		return Principal{Actor: actor, TenantID: tenantID}, nil
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Principal{}, ErrUnauthenticated
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return e.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub", ErrUnauthenticated)
	}
	if tenant, _ := claims[tenantClaim].(string); tenant != tenantID {
		return Principal{}, ErrTenantMismatch
	}
	return Principal{Actor: sub, TenantID: tenantID, Authenticated: true}, nil
}
