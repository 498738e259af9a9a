package httpserver

import (
	"errors"
	"net/http"
	"time"

	"talecraft/story-vault/internal/auth"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func registerAuthHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}

		var req credentialsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		account, err := deps.Auth.Register(r.Context(), req.Username, req.Password)
		if err != nil {
			auditReq(deps.Audit, r, req.Username, "auth.register", "", "failed", "", err.Error())
			writeServiceError(w, err, "registration failed")
			return
		}
		auditReq(deps.Audit, r, account.Username, "auth.register", "", "success", "", "")
		writeJSON(w, http.StatusCreated, map[string]any{
			"username":   account.Username,
			"created_at": account.CreatedAt.UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}

		var req credentialsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		session, err := deps.Auth.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			detail := err.Error()
			if errors.Is(err, auth.ErrInvalidCredentials) {
				detail = "invalid credentials"
			}
			auditReq(deps.Audit, r, req.Username, "auth.login", "", "failed", "", detail)
			writeServiceError(w, err, "login failed")
			return
		}
		auditReq(deps.Audit, r, session.Username, "auth.login", "", "success", session.ID, "")

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    session.Token,
			Path:     "/",
			Expires:  session.ExpiresAt,
			HttpOnly: true,
			Secure:   deps.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      session.Token,
			"session_id": session.ID,
			"username":   session.Username,
			"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		token, ok := requireToken(w, r)
		if !ok {
			return
		}
		session, ok := deps.Auth.CurrentSession(r.Context(), token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"username":   session.Username,
			"session_id": session.ID,
			"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
		})
	})

	// Logout succeeds for missing, unknown or expired tokens.
	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		if token, err := requestToken(r); err == nil {
			session, _ := deps.Auth.CurrentSession(r.Context(), token)
			if err := deps.Auth.Logout(r.Context(), token); err != nil {
				auditReq(deps.Audit, r, session.Username, "auth.logout", "", "failed", session.ID, err.Error())
				writeError(w, http.StatusInternalServerError, "logout failed")
				return
			}
			auditReq(deps.Audit, r, session.Username, "auth.logout", "", "success", session.ID, "")
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   deps.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)
	})
}
