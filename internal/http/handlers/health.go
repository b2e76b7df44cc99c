package handlers

import "net/http"

// Health is a liveness probe; it does not touch providers or the database.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"disabled": a.Config.GenerationDisabled,
	})
}
