package handlers

import (
	"encoding/json"
	"net/http"

	"sceneforge/internal/domain"
	"sceneforge/internal/generation"
	"sceneforge/internal/middleware"
	"sceneforge/internal/prompt"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type refineRequest struct {
	PreviewTaskID string `json:"previewTaskId"`
}

// Generate admits and submits a preview generation job for the calling
// client, returning the provider task id for client-driven polling.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	clientID := middleware.ClientIDFromContext(r.Context())
	taskID, err := a.Generator.SubmitModel(r.Context(), clientID, req.Prompt)
	if err != nil {
		a.domainError(w, err)
		return
	}

	title := ""
	if normalized, err := prompt.Normalize(req.Prompt); err == nil {
		title = prompt.Title(middleware.LocaleFromContext(r.Context()), normalized)
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"success": true,
		"taskId":  taskID,
		"title":   title,
	})
}

// Status is the client-driven single-shot poll: one upstream query per call,
// returning the current snapshot whether or not it is terminal. The response
// shape depends on the observed state.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "taskId is required")
		return
	}

	snap, err := a.Generator.ModelStatus(r.Context(), taskID)
	if err != nil {
		a.domainError(w, err)
		return
	}

	switch snap.State {
	case domain.StateSucceeded:
		asset, err := generation.ResolveAsset(snap.Payload)
		if err != nil {
			a.domainError(w, err)
			return
		}
		a.json(w, http.StatusOK, map[string]any{
			"status":       string(snap.State),
			"assetUrl":     asset.AssetURL,
			"thumbnailUrl": nullable(asset.ThumbnailURL),
		})
	case domain.StateFailed, domain.StateExpired:
		a.json(w, http.StatusOK, map[string]any{
			"status": string(snap.State),
			"error":  snap.ErrorMessage,
		})
	default:
		a.json(w, http.StatusOK, map[string]any{
			"status":   string(snap.State),
			"progress": snap.Progress,
		})
	}
}

// Refine chains a refinement stage onto a completed preview task.
func (a *App) Refine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	taskID, err := a.Generator.Refine(r.Context(), req.PreviewTaskID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"taskId": taskID})
}
