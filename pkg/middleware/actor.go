package middleware

import (
	"net/http"
	"strconv"

	"github.com/greenroomhq/greenroom/pkg/observability"
)

// ActorIDHeader identifies the authenticated user on whose behalf a
// request runs. The platform gateway authenticates the session and
// forwards the user ID here; this service trusts it.
const ActorIDHeader = "X-Actor-ID"

// Actor extracts the acting user's ID from the request headers and
// attaches it to the context. Requests without an actor pass through;
// handlers that require one reject them.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(ActorIDHeader); raw != "" {
			actorID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || actorID <= 0 {
				http.Error(w, "Invalid "+ActorIDHeader+" header", http.StatusBadRequest)
				return
			}
			r = r.WithContext(observability.WithActorID(r.Context(), actorID))
		}
		next.ServeHTTP(w, r)
	})
}
