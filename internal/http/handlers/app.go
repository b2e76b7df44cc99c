package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sceneforge/internal/domain"
	"sceneforge/internal/generation"
	"sceneforge/internal/infra"
)

// App is the handler container: it owns the orchestration service and the
// supporting collaborators every endpoint needs.
type App struct {
	Config    *infra.Config
	Logger    infra.Logger
	Generator *generation.Service
	// Scenes is nil when no database is configured; scene endpoints then
	// fail with a service-unavailable response.
	Scenes domain.SceneRepository
	// ProxyClient fetches whitelisted upstream assets. Defaults to
	// http.DefaultClient when nil.
	ProxyClient *http.Client
}

func NewApp(cfg *infra.Config, logger infra.Logger, generator *generation.Service, scenes domain.SceneRepository) *App {
	return &App{
		Config:    cfg,
		Logger:    logger,
		Generator: generator,
		Scenes:    scenes,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": message, "code": errCode})
}

// domainError maps the shared error taxonomy onto HTTP responses. Every
// failure becomes a structured JSON body; none of these crash the process.
func (a *App) domainError(w http.ResponseWriter, err error) {
	var rateErr *domain.RateLimitError
	var genErr *domain.GenerationError

	switch {
	case errors.As(err, &rateErr):
		a.json(w, http.StatusTooManyRequests, map[string]any{
			"error":   "Too many concurrent generations. Please wait for one to finish.",
			"code":    "rate_limited",
			"limit":   rateErr.Limit,
			"current": rateErr.Current,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
	case errors.Is(err, domain.ErrMissingSource):
		a.error(w, http.StatusBadRequest, "missing_source", "a succeeded preview task is required")
	case errors.Is(err, domain.ErrServiceDisabled):
		a.error(w, http.StatusServiceUnavailable, "service_disabled", "generation is temporarily disabled")
	case errors.Is(err, domain.ErrConfigurationMissing):
		a.error(w, http.StatusServiceUnavailable, "configuration_missing", "generation provider is not configured")
	case errors.Is(err, domain.ErrTimeout):
		a.error(w, http.StatusGatewayTimeout, "timeout", "generation did not finish in time")
	case errors.As(err, &genErr):
		a.error(w, http.StatusBadGateway, "generation_failed", genErr.Message)
	case errors.Is(err, domain.ErrNoAssetURL):
		a.error(w, http.StatusBadGateway, "no_asset_url", "generation finished but returned no usable asset")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrProviderRejected), errors.Is(err, domain.ErrProviderUnreachable):
		a.error(w, http.StatusInternalServerError, "provider_error", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: unexpected error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// nullable turns an empty string into an explicit JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
