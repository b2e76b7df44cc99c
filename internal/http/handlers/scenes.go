package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
)

// Scene keys are short human-typed identifiers shared between headset and
// editor, so keep the alphabet tight.
var sceneKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)

const maxSceneDocumentBytes = 1 << 20

// SceneSave stores an opaque scene snapshot under its key. The document is
// validated as JSON and otherwise passed through untouched.
func (a *App) SceneSave(w http.ResponseWriter, r *http.Request) {
	if a.Scenes == nil {
		a.error(w, http.StatusServiceUnavailable, "no_database", "scene persistence is not configured")
		return
	}
	key := chi.URLParam(r, "key")
	if !sceneKeyPattern.MatchString(key) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid scene key")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSceneDocumentBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if len(body) > maxSceneDocumentBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "scene document too large")
		return
	}
	if !json.Valid(body) {
		a.error(w, http.StatusBadRequest, "bad_request", "scene document must be JSON")
		return
	}
	if err := a.Scenes.Save(r.Context(), key, body); err != nil {
		a.Logger.Error().Err(err).Str("scene_key", key).Msg("handlers: scene save failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to save scene")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "key": key})
}

// SceneGet returns a stored scene snapshot verbatim.
func (a *App) SceneGet(w http.ResponseWriter, r *http.Request) {
	if a.Scenes == nil {
		a.error(w, http.StatusServiceUnavailable, "no_database", "scene persistence is not configured")
		return
	}
	key := chi.URLParam(r, "key")
	if !sceneKeyPattern.MatchString(key) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid scene key")
		return
	}
	snapshot, err := a.Scenes.Get(r.Context(), key)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"key":       snapshot.Key,
		"scene":     snapshot.Document,
		"updatedAt": snapshot.UpdatedAt,
	})
}
