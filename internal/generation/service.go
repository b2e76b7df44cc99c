package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sceneforge/internal/domain"
	"sceneforge/internal/infra"
	"sceneforge/internal/prompt"
	"sceneforge/internal/providers/meshy"
	"sceneforge/internal/providers/skybox"
	"sceneforge/internal/quota"
)

// ModelClient is the text-to-3D provider surface the service depends on.
type ModelClient interface {
	Submit(ctx context.Context, req meshy.SubmitRequest) (string, error)
	Status(ctx context.Context, taskID string) (*domain.Snapshot, error)
	HasCredentials() bool
}

// SkyboxClient is the skybox provider surface the service depends on.
type SkyboxClient interface {
	Submit(ctx context.Context, req skybox.SubmitRequest) (string, error)
	Status(ctx context.Context, taskID string) (*domain.Snapshot, error)
	HasCredentials() bool
}

// Options configures the orchestration service.
type Options struct {
	Quota    quota.Store
	Models   ModelClient
	Skyboxes SkyboxClient
	Logger   infra.Logger

	// Disabled short-circuits every operation before any provider call or
	// quota mutation.
	Disabled bool

	PollInterval        time.Duration
	MaxPollAttempts     int
	RefineSubmitTimeout time.Duration

	// Sleep is injectable for tests; nil means a timer that honors context
	// cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Service orchestrates long-running generation tasks hosted by external
// providers: admission against the per-client quota, submission, status
// observation with exactly-once terminal accounting, preview-to-refine
// chaining, and the synchronous skybox poll loop.
type Service struct {
	quota    quota.Store
	models   ModelClient
	skyboxes SkyboxClient
	logger   infra.Logger
	disabled bool

	pollInterval        time.Duration
	maxPollAttempts     int
	refineSubmitTimeout time.Duration
	sleep               func(ctx context.Context, d time.Duration) error
	now                 func() time.Time

	mu   sync.Mutex
	jobs map[string]*trackedJob
}

// trackedJob is the process-local bookkeeping for one submitted task. The
// terminalSeen flag guarantees a single quota decrement per job no matter how
// often its terminal state is re-observed.
type trackedJob struct {
	job          domain.Job
	terminalSeen bool
	succeeded    bool
}

func NewService(opts Options) *Service {
	s := &Service{
		quota:               opts.Quota,
		models:              opts.Models,
		skyboxes:            opts.Skyboxes,
		logger:              opts.Logger,
		disabled:            opts.Disabled,
		pollInterval:        opts.PollInterval,
		maxPollAttempts:     opts.MaxPollAttempts,
		refineSubmitTimeout: opts.RefineSubmitTimeout,
		sleep:               opts.Sleep,
		now:                 opts.Now,
		jobs:                make(map[string]*trackedJob),
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Second
	}
	if s.maxPollAttempts <= 0 {
		s.maxPollAttempts = 60
	}
	if s.refineSubmitTimeout <= 0 {
		s.refineSubmitTimeout = 8 * time.Second
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SubmitModel admits and starts a preview generation for the given client,
// returning the provider's opaque task id.
func (s *Service) SubmitModel(ctx context.Context, clientID, rawPrompt string) (string, error) {
	if s.disabled {
		return "", domain.ErrServiceDisabled
	}
	normalized, err := prompt.Normalize(rawPrompt)
	if err != nil {
		return "", err
	}
	if !s.models.HasCredentials() {
		return "", domain.ErrConfigurationMissing
	}

	decision := s.quota.Admit(clientID)
	if !decision.Allowed {
		return "", &domain.RateLimitError{Current: decision.Current, Limit: decision.Limit}
	}

	taskID, err := s.models.Submit(ctx, meshy.SubmitRequest{Mode: meshy.ModePreview, Prompt: normalized})
	if err != nil {
		// The job never started, so no terminal state will ever release
		// this slot; give it back now.
		s.quota.Decrement(clientID)
		return "", s.providerError(err)
	}

	s.track(taskID, domain.JobKindPreview, clientID)
	s.logger.Info().
		Str("task_id", taskID).
		Str("client_id", clientID).
		Int("active", decision.Current+1).
		Msg("generation: preview submitted")
	return taskID, nil
}

// ModelStatus performs exactly one status query and returns the current
// snapshot, terminal or not. Repeated polling is the caller's responsibility.
// The first terminal observation for a task releases its quota slot.
func (s *Service) ModelStatus(ctx context.Context, taskID string) (*domain.Snapshot, error) {
	if s.disabled {
		return nil, domain.ErrServiceDisabled
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, domain.ErrInvalidInput
	}
	if !s.models.HasCredentials() {
		return nil, domain.ErrConfigurationMissing
	}

	snap, err := s.models.Status(ctx, taskID)
	if err != nil {
		return nil, s.providerError(err)
	}
	if snap.State.Terminal() {
		s.observeTerminal(taskID, snap.State)
	}
	return snap, nil
}

// Refine chains a refine stage onto a completed preview task. The refine
// stage continues the preview's logical job: it is never re-gated by
// admission, but it is counted so its own terminal observation balances out.
// The outbound submission itself must complete within the refine submit
// deadline; a provider that is slow to acknowledge fails with a timeout.
func (s *Service) Refine(ctx context.Context, previewTaskID string) (string, error) {
	if s.disabled {
		return "", domain.ErrServiceDisabled
	}
	previewTaskID = strings.TrimSpace(previewTaskID)
	if previewTaskID == "" {
		return "", domain.ErrMissingSource
	}
	if !s.models.HasCredentials() {
		return "", domain.ErrConfigurationMissing
	}

	s.mu.Lock()
	source := s.jobs[previewTaskID]
	valid := source != nil && source.job.Kind == domain.JobKindPreview && source.terminalSeen && source.succeeded
	var clientID string
	if source != nil {
		clientID = source.job.ClientID
	}
	s.mu.Unlock()
	if !valid {
		return "", domain.ErrMissingSource
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.refineSubmitTimeout)
	defer cancel()
	taskID, err := s.models.Submit(submitCtx, meshy.SubmitRequest{Mode: meshy.ModeRefine, PreviewTaskID: previewTaskID})
	if err != nil {
		return "", s.providerError(err)
	}

	s.quota.Increment(clientID)
	s.track(taskID, domain.JobKindRefine, clientID)
	s.logger.Info().
		Str("task_id", taskID).
		Str("preview_task_id", previewTaskID).
		Str("client_id", clientID).
		Msg("generation: refine submitted")
	return taskID, nil
}

// GenerateSkybox runs the server-owned synchronous flow: submit, then poll
// every pollInterval up to maxPollAttempts times, blocking the originating
// request until the task is terminal or the attempt budget is exhausted.
func (s *Service) GenerateSkybox(ctx context.Context, clientID, rawPrompt string, styleID int) (*domain.Asset, error) {
	if s.disabled {
		return nil, domain.ErrServiceDisabled
	}
	normalized, err := prompt.Normalize(rawPrompt)
	if err != nil {
		return nil, err
	}
	if !s.skyboxes.HasCredentials() {
		return nil, domain.ErrConfigurationMissing
	}

	decision := s.quota.Admit(clientID)
	if !decision.Allowed {
		return nil, &domain.RateLimitError{Current: decision.Current, Limit: decision.Limit}
	}

	taskID, err := s.skyboxes.Submit(ctx, skybox.SubmitRequest{Prompt: normalized, StyleID: styleID})
	if err != nil {
		s.quota.Decrement(clientID)
		return nil, s.providerError(err)
	}
	s.track(taskID, domain.JobKindSkybox, clientID)
	// Whatever way this flow exits, the slot must be released exactly once:
	// on terminal states, on timeout, and on broken polls alike.
	defer s.finalize(taskID)

	for attempt := 1; attempt <= s.maxPollAttempts; attempt++ {
		snap, err := s.skyboxes.Status(ctx, taskID)
		if err != nil {
			return nil, s.providerError(err)
		}
		if snap.State.Terminal() {
			if snap.State != domain.StateSucceeded {
				return nil, &domain.GenerationError{Message: snap.ErrorMessage}
			}
			asset, err := ResolveAsset(snap.Payload)
			if err != nil {
				return nil, err
			}
			return &asset, nil
		}
		s.logger.Debug().
			Str("task_id", taskID).
			Int("attempt", attempt).
			Int("queue_position", snap.QueuePosition).
			Msg("generation: skybox pending")
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return nil, err
		}
	}
	return nil, domain.ErrTimeout
}

// Job returns the tracked bookkeeping record for a task, if this process
// submitted it.
func (s *Service) Job(taskID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tj, ok := s.jobs[taskID]; ok {
		return tj.job, true
	}
	return domain.Job{}, false
}

func (s *Service) track(taskID string, kind domain.JobKind, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[taskID] = &trackedJob{job: domain.Job{
		TaskID:      taskID,
		Kind:        kind,
		ClientID:    clientID,
		SubmittedAt: s.now(),
	}}
}

// observeTerminal releases the job's quota slot on the first terminal
// observation only. Tasks submitted by another process (or before a restart)
// are unknown here and never decrement.
func (s *Service) observeTerminal(taskID string, state domain.State) {
	s.mu.Lock()
	tj := s.jobs[taskID]
	if tj == nil || tj.terminalSeen {
		s.mu.Unlock()
		return
	}
	tj.terminalSeen = true
	tj.succeeded = state == domain.StateSucceeded
	clientID := tj.job.ClientID
	s.mu.Unlock()

	s.quota.Decrement(clientID)
	s.logger.Info().
		Str("task_id", taskID).
		Str("client_id", clientID).
		Str("state", string(state)).
		Msg("generation: terminal state observed")
}

// finalize releases a job's slot unless a terminal observation already did.
func (s *Service) finalize(taskID string) {
	s.mu.Lock()
	tj := s.jobs[taskID]
	if tj == nil || tj.terminalSeen {
		s.mu.Unlock()
		return
	}
	tj.terminalSeen = true
	clientID := tj.job.ClientID
	s.mu.Unlock()
	s.quota.Decrement(clientID)
}

// providerError maps a provider client failure onto the shared taxonomy while
// keeping the provider's detail in the chain.
func (s *Service) providerError(err error) error {
	switch {
	case errors.Is(err, meshy.ErrMissingAPIKey), errors.Is(err, skybox.ErrMissingAPIKey):
		return domain.ErrConfigurationMissing
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	var meshyErr *meshy.APIError
	var skyboxErr *skybox.APIError
	if errors.As(err, &meshyErr) || errors.As(err, &skyboxErr) {
		return fmt.Errorf("%w: %w", domain.ErrProviderRejected, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrProviderUnreachable, err)
}
