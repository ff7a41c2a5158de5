package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"salonbook/backend/internal/domain"
)

func TestAuthenticate(t *testing.T) {
	a := NewJWTAuthenticator("secret", "salonbook")
	customer := domain.Actor{ID: "c1", Role: domain.RoleCustomer}

	token, err := a.Issue(customer, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	got, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got != customer {
		t.Fatalf("Authenticate() = %+v, want %+v", got, customer)
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	a := NewJWTAuthenticator("secret", "salonbook")

	sign := func(secret string, method jwtlib.SigningMethod, claims Claims) string {
		t.Helper()
		s, err := jwtlib.NewWithClaims(method, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	valid := func(role, sub, iss string, exp time.Time) Claims {
		return Claims{Role: role, RegisteredClaims: jwtlib.RegisteredClaims{
			Subject: sub, Issuer: iss, ExpiresAt: jwtlib.NewNumericDate(exp),
		}}
	}
	future := time.Now().Add(time.Hour)

	expired, err := a.Issue(domain.Actor{ID: "c1", Role: domain.RoleCustomer}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong secret", sign("other", jwtlib.SigningMethodHS256, valid("customer", "c1", "salonbook", future))},
		{"wrong issuer", sign("secret", jwtlib.SigningMethodHS256, valid("customer", "c1", "elsewhere", future))},
		{"wrong algorithm", sign("secret", jwtlib.SigningMethodHS512, valid("customer", "c1", "salonbook", future))},
		{"unknown role", sign("secret", jwtlib.SigningMethodHS256, valid("owner", "c1", "salonbook", future))},
		{"system role", sign("secret", jwtlib.SigningMethodHS256, valid("system", "c1", "salonbook", future))},
		{"no subject", sign("secret", jwtlib.SigningMethodHS256, valid("admin", "", "salonbook", future))},
		{"no expiry", sign("secret", jwtlib.SigningMethodHS256, Claims{Role: "admin", RegisteredClaims: jwtlib.RegisteredClaims{Subject: "a1", Issuer: "salonbook"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("Authenticate() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestActorContext(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("expected no actor in empty context")
	}
	want := domain.Actor{ID: "p1", Role: domain.RoleProvider}
	got, ok := ActorFromContext(WithActor(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("ActorFromContext() = %+v, %v", got, ok)
	}
}
