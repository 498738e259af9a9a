package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"talecraft/story-vault/internal/generator"
	"talecraft/story-vault/internal/stories"
)

func registerStoryHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/stories", func(w http.ResponseWriter, r *http.Request) {
		if deps.Stories == nil {
			writeError(w, http.StatusServiceUnavailable, "story service unavailable")
			return
		}
		token, ok := requireToken(w, r)
		if !ok {
			return
		}

		switch r.Method {
		case http.MethodGet:
			items, err := deps.Stories.ListMine(r.Context(), token)
			if err != nil {
				writeServiceError(w, err, "list stories failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			var req generator.Request
			if !decodeJSON(w, r, &req) {
				return
			}
			story, err := deps.Stories.Generate(r.Context(), token, req)
			if err != nil {
				if deps.Logger != nil && !isClientError(err) {
					deps.Logger.Warn("story generation failed",
						zap.String("request_id", requestIDFromContext(r.Context())),
						zap.Error(err),
					)
				}
				writeServiceError(w, err, "generate story failed")
				return
			}
			auditReq(deps.Audit, r, story.Owner, "story.generate", story.ID, "success", "", "")
			writeJSON(w, http.StatusCreated, story)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/v1/stories/favorites", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Stories == nil {
			writeError(w, http.StatusServiceUnavailable, "story service unavailable")
			return
		}
		token, ok := requireToken(w, r)
		if !ok {
			return
		}
		items, err := deps.Stories.ListMyFavorites(r.Context(), token)
		if err != nil {
			writeServiceError(w, err, "list favorites failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})

	// /v1/stories/{id} (DELETE) and /v1/stories/{id}/favorite (POST).
	mux.HandleFunc("/v1/stories/", func(w http.ResponseWriter, r *http.Request) {
		if deps.Stories == nil {
			writeError(w, http.StatusServiceUnavailable, "story service unavailable")
			return
		}

		trimmed := strings.TrimPrefix(r.URL.Path, "/v1/stories/")
		id, action, _ := strings.Cut(trimmed, "/")
		if id == "" || strings.Contains(action, "/") || (action != "" && action != "favorite") {
			writeError(w, http.StatusNotFound, "story route not found")
			return
		}

		switch {
		case action == "favorite" && r.Method == http.MethodPost:
			token, ok := requireToken(w, r)
			if !ok {
				return
			}
			story, err := deps.Stories.ToggleFavorite(r.Context(), token, id)
			if err != nil {
				writeServiceError(w, err, "toggle favorite failed")
				return
			}
			auditReq(deps.Audit, r, story.Owner, "story.favorite", story.ID, "success", "", favoriteDetail(story.Favorite))
			writeJSON(w, http.StatusOK, story)
		case action == "" && r.Method == http.MethodDelete:
			token, ok := requireToken(w, r)
			if !ok {
				return
			}
			actor := ""
			if deps.Auth != nil {
				if s, ok := deps.Auth.CurrentSession(r.Context(), token); ok {
					actor = s.Username
				}
			}
			if err := deps.Stories.Delete(r.Context(), token, id); err != nil {
				auditReq(deps.Audit, r, actor, "story.delete", id, "failed", "", err.Error())
				writeServiceError(w, err, "delete story failed")
				return
			}
			auditReq(deps.Audit, r, actor, "story.delete", id, "success", "", "")
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Stories == nil {
			writeError(w, http.StatusServiceUnavailable, "story service unavailable")
			return
		}
		token, ok := requireToken(w, r)
		if !ok {
			return
		}
		profile, err := deps.Stories.Profile(r.Context(), token)
		if err != nil {
			writeServiceError(w, err, "load profile failed")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})
}

func favoriteDetail(on bool) string {
	if on {
		return "favorite=on"
	}
	return "favorite=off"
}

func isClientError(err error) bool {
	return errors.Is(err, stories.ErrUnauthenticated) || errors.Is(err, stories.ErrInvalidInput)
}
