package handlers

import (
	"encoding/json"
	"net/http"

	"sceneforge/internal/middleware"
)

type skyboxRequest struct {
	Prompt  string `json:"prompt"`
	StyleID int    `json:"styleId"`
}

// Skybox runs the server-owned synchronous flow: the request blocks while
// the orchestrator polls the provider, up to the five-minute ceiling. Low
// request volume makes holding the handler slot an acceptable tradeoff.
func (a *App) Skybox(w http.ResponseWriter, r *http.Request) {
	var req skyboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	clientID := middleware.ClientIDFromContext(r.Context())
	asset, err := a.Generator.GenerateSkybox(r.Context(), clientID, req.Prompt, req.StyleID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"fileUrl":  asset.AssetURL,
		"thumbUrl": nullable(asset.ThumbnailURL),
	})
}
