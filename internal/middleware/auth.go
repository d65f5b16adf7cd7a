package middleware

import (
	"net/http"

	"choreboard/internal/auth"
	"choreboard/internal/model"
)

const actorHeader = "X-Member-ID"

// MemberResolver looks up a member by id. Satisfied by store.MemberStore.
type MemberResolver interface {
	GetByID(id string) (*model.Member, error)
}

// ActorAuth resolves the X-Member-ID header to a family member and attaches
// the actor to the request context. Devices on the household LAN identify
// themselves per request; there is no session.
func ActorAuth(members MemberResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(actorHeader)
			if id == "" {
				http.Error(w, "missing "+actorHeader+" header", http.StatusUnauthorized)
				return
			}

			m, err := members.GetByID(id)
			if err != nil {
				http.Error(w, "resolve actor", http.StatusInternalServerError)
				return
			}
			if m == nil {
				http.Error(w, "unknown member", http.StatusUnauthorized)
				return
			}

			a := auth.Actor{
				ID:       m.ID,
				FamilyID: m.FamilyID,
				Role:     m.Role,
			}

			ctx := auth.WithActor(r.Context(), a)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGuardian checks that the acting member has the guardian role.
func RequireGuardian(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsGuardian(r.Context()) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
