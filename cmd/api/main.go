package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"sceneforge/internal/adapter/repo"
	"sceneforge/internal/domain"
	"sceneforge/internal/generation"
	httpapi "sceneforge/internal/http"
	"sceneforge/internal/http/handlers"
	"sceneforge/internal/infra"
	"sceneforge/internal/infra/geoip"
	"sceneforge/internal/middleware"
	"sceneforge/internal/providers/meshy"
	"sceneforge/internal/providers/skybox"
	"sceneforge/internal/quota"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// Scene persistence is optional; the orchestrator itself keeps no
	// database state.
	var scenes domain.SceneRepository
	var closePool func()
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		scenes = repo.NewSceneRepository(pool)
		closePool = pool.Close
	} else {
		logger.Warn().Msg("DATABASE_URL not set, scene endpoints disabled")
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	store := quota.NewMemoryStore(cfg.RateLimitMaxConcurrent)
	janitor := quota.NewJanitor(store, cfg.RateLimitResetInterval, logger)
	janitor.Start()

	meshyClient, err := meshy.NewClient(meshy.Options{
		APIKey:  cfg.MeshyAPIKey,
		BaseURL: cfg.MeshyBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure text-to-3d client")
	}
	if !meshyClient.HasCredentials() {
		logger.Warn().Msg("MESHY_API_KEY not set, model generation will fail closed")
	}

	skyboxClient, err := skybox.NewClient(skybox.Options{
		APIKey:  cfg.SkyboxAPIKey,
		BaseURL: cfg.SkyboxBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure skybox client")
	}
	if !skyboxClient.HasCredentials() {
		logger.Warn().Msg("SKYBOX_API_KEY not set, skybox generation will fail closed")
	}

	service := generation.NewService(generation.Options{
		Quota:    store,
		Models:   meshyClient,
		Skyboxes: skyboxClient,
		Logger:   logger,
		Disabled: cfg.GenerationDisabled,
	})

	app := handlers.NewApp(cfg, logger, service, scenes)
	router := httpapi.NewRouter(app, lookup)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	janitor.Stop()
	if closePool != nil {
		closePool()
	}
	logger.Info().Msg("server stopped")
}
