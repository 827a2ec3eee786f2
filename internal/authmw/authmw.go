// Package authmw provides HTTP middleware for bearer token authentication of
// operators.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type operatorKey struct{}

// Credential is one accepted token and the operator it identifies.
type Credential struct {
	Operator string
	Token    string
}

// BearerToken returns middleware that accepts requests whose Authorization
// header carries the Bearer token of any credential. Every credential is
// compared in constant time. An empty credential list rejects every request.
// The matched operator is available to handlers through Operator.
func BearerToken(creds ...Credential) func(http.Handler) http.Handler {
	type entry struct {
		operator string
		token    []byte
	}
	entries := make([]entry, 0, len(creds))
	for _, c := range creds {
		if c.Token == "" {
			continue
		}
		entries = append(entries, entry{operator: c.Operator, token: []byte(c.Token)})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			// every credential is compared, even after a match
			match := -1
			for i, e := range entries {
				if subtle.ConstantTimeCompare(got, e.token) == 1 {
					match = i
				}
			}
			if match < 0 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey{}, entries[match].operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the operator authenticated for the request, if any.
func Operator(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operatorKey{}).(string)
	return op, ok
}

// ParseCredentials parses a comma-separated list of operator:token pairs. A
// bare token is accepted for the operator "operator".
func ParseCredentials(s string) []Credential {
	var out []Credential
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, token, ok := strings.Cut(part, ":")
		if !ok {
			name, token = "operator", part
		}
		out = append(out, Credential{Operator: strings.TrimSpace(name), Token: strings.TrimSpace(token)})
	}
	return out
}
