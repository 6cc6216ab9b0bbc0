package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authd/internal/middleware"
	"github.com/hitoshi/authd/internal/model"
)

// SessionHandler はセッション一覧と個別破棄のHTTPハンドラー。
type SessionHandler struct {
	sessions SessionManagerInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(sessions SessionManagerInterface) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List は現在のユーザーの有効なセッション一覧を返す。
// リクエストに使用しているセッションにはcurrent: trueが付く。
// GET /api/auth/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var currentID string
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		currentID = sess.ID
	}

	sessions, err := h.sessions.ListActive(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		results[i] = sessionResponse{
			ID:           s.ID,
			UserAgent:    s.UserAgent,
			IPAddress:    s.IPAddress,
			LastActivity: s.LastActivity,
			CreatedAt:    s.CreatedAt,
			Current:      s.ID == currentID,
		}
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"sessions": results,
	})
}

// Terminate は現在のユーザーが所有するセッションを破棄する。
// 他ユーザーのセッションIDを指定しても404となり、存在の有無は漏れない。
// 使用中のセッション自身を破棄した場合はCookieも消去する。
// DELETE /api/auth/sessions/{sessionID}
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	sessionID := urlParam(r, "sessionID")
	if sessionID == "" {
		handleServiceError(w, model.NewSessionNotFoundError(sessionID))
		return
	}

	if err := h.sessions.Terminate(r.Context(), userID, sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	if sess, ok := middleware.SessionFromContext(r.Context()); ok && sess.ID == sessionID {
		middleware.ClearSessionCookie(w)
	}

	w.WriteHeader(http.StatusNoContent)
}

// urlParam はchiのルーティングからURLパラメータを取得する。
func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
