package profile

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/c360/skystream/errors"
)

// Handler serves cached profile lookups:
//
//	GET ?actor=did:plc:...        one profile by DID
//	GET ?actor=alice.bsky.social  one profile by handle
//	GET ?actors=did1&actors=did2  many profiles by DID
func Handler(c *Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		query := r.URL.Query()

		if dids := query["actors"]; len(dids) > 0 {
			if len(dids) > c.groupSize {
				writeError(w, http.StatusBadRequest, "too many actors")
				return
			}
			profiles, err := c.ResolveMany(r.Context(), dids)
			if err != nil {
				writeLookupError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
			return
		}

		actor := query.Get("actor")
		if actor == "" {
			writeError(w, http.StatusBadRequest, "actor or actors is required")
			return
		}

		var p Profile
		var err error
		if strings.HasPrefix(actor, "did:") {
			p, err = c.ResolveOne(r.Context(), actor)
		} else {
			p, err = c.ResolveByHandle(r.Context(), strings.TrimPrefix(actor, "@"))
		}
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrProfileNotFound), errors.Is(err, errors.ErrHandleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsTransient(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
