package generation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sceneforge/internal/domain"
	"sceneforge/internal/providers/meshy"
	"sceneforge/internal/providers/skybox"
	"sceneforge/internal/quota"
)

type fakeModelClient struct {
	creds       bool
	submitFn    func(req meshy.SubmitRequest) (string, error)
	statusFn    func(taskID string) (*domain.Snapshot, error)
	submitCalls int
	statusCalls int
	lastSubmit  meshy.SubmitRequest
}

func (f *fakeModelClient) Submit(ctx context.Context, req meshy.SubmitRequest) (string, error) {
	f.submitCalls++
	f.lastSubmit = req
	if f.submitFn != nil {
		return f.submitFn(req)
	}
	return "T1", nil
}

func (f *fakeModelClient) Status(ctx context.Context, taskID string) (*domain.Snapshot, error) {
	f.statusCalls++
	if f.statusFn != nil {
		return f.statusFn(taskID)
	}
	return &domain.Snapshot{TaskID: taskID, State: domain.StatePending}, nil
}

func (f *fakeModelClient) HasCredentials() bool { return f.creds }

type fakeSkyboxClient struct {
	creds       bool
	submitFn    func(req skybox.SubmitRequest) (string, error)
	statusFn    func(taskID string) (*domain.Snapshot, error)
	submitCalls int
	statusCalls int
}

func (f *fakeSkyboxClient) Submit(ctx context.Context, req skybox.SubmitRequest) (string, error) {
	f.submitCalls++
	if f.submitFn != nil {
		return f.submitFn(req)
	}
	return "S1", nil
}

func (f *fakeSkyboxClient) Status(ctx context.Context, taskID string) (*domain.Snapshot, error) {
	f.statusCalls++
	if f.statusFn != nil {
		return f.statusFn(taskID)
	}
	return &domain.Snapshot{TaskID: taskID, State: domain.StatePending}, nil
}

func (f *fakeSkyboxClient) HasCredentials() bool { return f.creds }

type fixture struct {
	svc    *Service
	store  *quota.MemoryStore
	models *fakeModelClient
	skies  *fakeSkyboxClient
	sleeps int
}

func newFixture(limit int, mutate func(*Options)) *fixture {
	fx := &fixture{
		store:  quota.NewMemoryStore(limit),
		models: &fakeModelClient{creds: true},
		skies:  &fakeSkyboxClient{creds: true},
	}
	opts := Options{
		Quota:    fx.store,
		Models:   fx.models,
		Skyboxes: fx.skies,
		Logger:   zerolog.New(io.Discard),
		Sleep: func(ctx context.Context, d time.Duration) error {
			fx.sleeps++
			return ctx.Err()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	fx.svc = NewService(opts)
	return fx
}

func active(t *testing.T, s *quota.MemoryStore, clientID string) int {
	t.Helper()
	return s.Check(clientID).Current
}

func TestSubmitModelAdmissionGate(t *testing.T) {
	fx := newFixture(2, nil)
	ids := []string{"A1", "A2"}
	fx.models.submitFn = func(meshy.SubmitRequest) (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	ctx := context.Background()
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a castle"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a bridge"); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	_, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a tower")
	var rle *domain.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("third submit err = %v, want RateLimitError", err)
	}
	if rle.Current != 2 || rle.Limit != 2 {
		t.Fatalf("rate limit error = %+v, want current 2 limit 2", rle)
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error does not unwrap to ErrRateLimited")
	}
	if fx.models.submitCalls != 2 {
		t.Fatalf("submit calls = %d, want 2 (rejection before provider call)", fx.models.submitCalls)
	}

	// A different client identifier is admitted independently.
	fx.models.submitFn = nil
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.2", "a tower"); err != nil {
		t.Fatalf("other client submit: %v", err)
	}
}

func TestSubmitModelInvalidPromptFailsFast(t *testing.T) {
	fx := newFixture(2, nil)
	for _, raw := range []string{"", "   \t "} {
		if _, err := fx.svc.SubmitModel(context.Background(), "10.0.0.1", raw); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	}
	if fx.models.submitCalls != 0 {
		t.Fatalf("submit calls = %d, want 0", fx.models.submitCalls)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0 (no quota mutation)", got)
	}
}

func TestSubmitModelMissingCredentialsFailsClosed(t *testing.T) {
	fx := newFixture(2, nil)
	fx.models.creds = false
	if _, err := fx.svc.SubmitModel(context.Background(), "10.0.0.1", "a castle"); !errors.Is(err, domain.ErrConfigurationMissing) {
		t.Fatalf("err = %v, want ErrConfigurationMissing", err)
	}
	if fx.models.submitCalls != 0 {
		t.Fatalf("submit calls = %d, want 0", fx.models.submitCalls)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}

func TestSubmitModelProviderFailureReleasesSlot(t *testing.T) {
	fx := newFixture(2, nil)
	fx.models.submitFn = func(meshy.SubmitRequest) (string, error) {
		return "", &meshy.APIError{StatusCode: http.StatusPaymentRequired, Message: "no credits"}
	}
	_, err := fx.svc.SubmitModel(context.Background(), "10.0.0.1", "a castle")
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("err = %v, want ErrProviderRejected", err)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0 after failed submission", got)
	}
}

func TestSubmitModelNetworkFailureClassified(t *testing.T) {
	fx := newFixture(2, nil)
	fx.models.submitFn = func(meshy.SubmitRequest) (string, error) {
		return "", errors.New("meshy: http request: dial tcp: connection refused")
	}
	_, err := fx.svc.SubmitModel(context.Background(), "10.0.0.1", "a castle")
	if !errors.Is(err, domain.ErrProviderUnreachable) {
		t.Fatalf("err = %v, want ErrProviderUnreachable", err)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}

func TestEndToEndModelFlow(t *testing.T) {
	fx := newFixture(2, nil)
	polls := []*domain.Snapshot{
		{TaskID: "T1", State: domain.StateInProgress, Progress: 35},
		{TaskID: "T1", State: domain.StateSucceeded, Payload: domain.ResultPayload{ModelGLB: "https://cdn.example/T1.glb"}},
	}
	fx.models.statusFn = func(taskID string) (*domain.Snapshot, error) {
		snap := polls[0]
		if len(polls) > 1 {
			polls = polls[1:]
		}
		return snap, nil
	}

	ctx := context.Background()
	taskID, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a red sports car")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if taskID != "T1" {
		t.Fatalf("task id = %q, want T1", taskID)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 1 {
		t.Fatalf("active = %d, want 1 in flight", got)
	}

	first, err := fx.svc.ModelStatus(ctx, "T1")
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if first.State != domain.StateInProgress || first.Progress != 35 {
		t.Fatalf("first poll = %+v, want in_progress 35", first)
	}

	second, err := fx.svc.ModelStatus(ctx, "T1")
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if second.State != domain.StateSucceeded {
		t.Fatalf("second poll state = %q", second.State)
	}
	asset, err := ResolveAsset(second.Payload)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if asset.AssetURL != "https://cdn.example/T1.glb" || asset.ThumbnailURL != "" {
		t.Fatalf("asset = %+v", asset)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want counter back at pre-submission value", got)
	}
}

func TestTerminalObservationDecrementsOnce(t *testing.T) {
	fx := newFixture(4, nil)
	fx.models.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{
			TaskID:  taskID,
			State:   domain.StateSucceeded,
			Payload: domain.ResultPayload{ModelGLB: "https://cdn.example/T1.glb"},
		}, nil
	}

	ctx := context.Background()
	ids := []string{"T1", "T2"}
	fx.models.submitFn = func(meshy.SubmitRequest) (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "second"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// T1 reaches terminal; polling it three more times must not free T2's slot.
	for i := 0; i < 4; i++ {
		snap, err := fx.svc.ModelStatus(ctx, "T1")
		if err != nil {
			t.Fatalf("poll #%d: %v", i, err)
		}
		if snap.Payload.ModelGLB != "https://cdn.example/T1.glb" {
			t.Fatalf("poll #%d payload = %+v", i, snap.Payload)
		}
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 1 {
		t.Fatalf("active = %d, want 1 (duplicate terminal observations must not double-decrement)", got)
	}
}

func TestModelStatusFailureStillReleasesSlot(t *testing.T) {
	fx := newFixture(2, nil)
	fx.models.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{TaskID: taskID, State: domain.StateFailed, ErrorMessage: "mesh collapsed"}, nil
	}
	ctx := context.Background()
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a castle"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap, err := fx.svc.ModelStatus(ctx, "T1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if snap.State != domain.StateFailed || snap.ErrorMessage != "mesh collapsed" {
		t.Fatalf("snap = %+v", snap)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0 after failure observation", got)
	}
}

func TestRefineMissingSource(t *testing.T) {
	fx := newFixture(2, nil)
	for _, id := range []string{"", "never-submitted"} {
		if _, err := fx.svc.Refine(context.Background(), id); !errors.Is(err, domain.ErrMissingSource) {
			t.Fatalf("Refine(%q) err = %v, want ErrMissingSource", id, err)
		}
	}
	if fx.models.submitCalls != 0 {
		t.Fatalf("submit calls = %d, want 0 (rejected before any provider call)", fx.models.submitCalls)
	}
}

func TestRefineRequiresObservedSuccess(t *testing.T) {
	fx := newFixture(2, nil)
	ctx := context.Background()
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a castle"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// The preview exists but never reached Succeeded.
	if _, err := fx.svc.Refine(ctx, "T1"); !errors.Is(err, domain.ErrMissingSource) {
		t.Fatalf("err = %v, want ErrMissingSource", err)
	}
}

func TestRefineChaining(t *testing.T) {
	fx := newFixture(2, nil)
	ctx := context.Background()
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a castle"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fx.models.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{
			TaskID:  taskID,
			State:   domain.StateSucceeded,
			Payload: domain.ResultPayload{ModelGLB: "https://cdn.example/" + taskID + ".glb"},
		}, nil
	}
	if _, err := fx.svc.ModelStatus(ctx, "T1"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0 after preview terminal", got)
	}

	fx.models.submitFn = func(req meshy.SubmitRequest) (string, error) {
		if req.Mode != meshy.ModeRefine || req.PreviewTaskID != "T1" {
			t.Fatalf("refine submit request = %+v", req)
		}
		return "T2", nil
	}
	refineID, err := fx.svc.Refine(ctx, "T1")
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if refineID != "T2" {
		t.Fatalf("refine id = %q, want T2", refineID)
	}
	// The refine stage continues the job under the same client.
	if got := active(t, fx.store, "10.0.0.1"); got != 1 {
		t.Fatalf("active = %d, want 1 while refine in flight", got)
	}
	job, ok := fx.svc.Job("T2")
	if !ok || job.Kind != domain.JobKindRefine || job.ClientID != "10.0.0.1" {
		t.Fatalf("tracked refine job = %+v ok=%v", job, ok)
	}

	if _, err := fx.svc.ModelStatus(ctx, "T2"); err != nil {
		t.Fatalf("refine poll: %v", err)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0 after refine terminal", got)
	}
}

func TestRefineSubmitDeadline(t *testing.T) {
	fx := newFixture(2, func(o *Options) {
		o.RefineSubmitTimeout = 10 * time.Millisecond
	})
	ctx := context.Background()
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a castle"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fx.models.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{TaskID: taskID, State: domain.StateSucceeded, Payload: domain.ResultPayload{ModelGLB: "u"}}, nil
	}
	if _, err := fx.svc.ModelStatus(ctx, "T1"); err != nil {
		t.Fatalf("poll: %v", err)
	}

	fx.models.submitFn = func(meshy.SubmitRequest) (string, error) {
		// Provider is slow to acknowledge; the submit context expires first.
		<-time.After(200 * time.Millisecond)
		return "", context.DeadlineExceeded
	}
	if _, err := fx.svc.Refine(ctx, "T1"); !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestSkyboxTimeoutBound(t *testing.T) {
	fx := newFixture(2, nil)
	fx.skies.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{TaskID: taskID, State: domain.StateInProgress, QueuePosition: 5}, nil
	}

	_, err := fx.svc.GenerateSkybox(context.Background(), "10.0.0.1", "alien desert", 0)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if fx.skies.statusCalls != 60 {
		t.Fatalf("status calls = %d, want exactly 60 attempts", fx.skies.statusCalls)
	}
	if fx.sleeps != 60 {
		t.Fatalf("sleeps = %d, want 60 five-second waits", fx.sleeps)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want slot released on timeout", got)
	}
}

func TestSkyboxSuccess(t *testing.T) {
	fx := newFixture(2, nil)
	calls := 0
	fx.skies.statusFn = func(taskID string) (*domain.Snapshot, error) {
		calls++
		if calls < 3 {
			return &domain.Snapshot{TaskID: taskID, State: domain.StatePending, QueuePosition: 3 - calls}, nil
		}
		return &domain.Snapshot{
			TaskID: taskID,
			State:  domain.StateSucceeded,
			Payload: domain.ResultPayload{
				FileURL:      "https://cdn.example/sky.jpg",
				ThumbnailURL: "https://cdn.example/sky_thumb.jpg",
			},
		}, nil
	}

	asset, err := fx.svc.GenerateSkybox(context.Background(), "10.0.0.1", "alien desert", 9)
	if err != nil {
		t.Fatalf("skybox: %v", err)
	}
	if asset.AssetURL != "https://cdn.example/sky.jpg" || asset.ThumbnailURL != "https://cdn.example/sky_thumb.jpg" {
		t.Fatalf("asset = %+v", asset)
	}
	if fx.sleeps != 2 {
		t.Fatalf("sleeps = %d, want 2", fx.sleeps)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}

func TestSkyboxGenerationFailed(t *testing.T) {
	fx := newFixture(2, nil)
	fx.skies.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{TaskID: taskID, State: domain.StateFailed, ErrorMessage: "nsfw prompt"}, nil
	}
	_, err := fx.svc.GenerateSkybox(context.Background(), "10.0.0.1", "something", 0)
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
	if genErr.Message != "nsfw prompt" {
		t.Fatalf("message = %q", genErr.Message)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}

func TestSkyboxSucceededWithoutURLIsFailure(t *testing.T) {
	fx := newFixture(2, nil)
	fx.skies.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{TaskID: taskID, State: domain.StateSucceeded}, nil
	}
	_, err := fx.svc.GenerateSkybox(context.Background(), "10.0.0.1", "something", 0)
	if !errors.Is(err, domain.ErrNoAssetURL) {
		t.Fatalf("err = %v, want ErrNoAssetURL", err)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want slot released despite nominal success", got)
	}
}

func TestSkyboxCancellationReleasesSlot(t *testing.T) {
	fx := newFixture(2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	fx.skies.statusFn = func(taskID string) (*domain.Snapshot, error) {
		cancel()
		return &domain.Snapshot{TaskID: taskID, State: domain.StatePending}, nil
	}
	if _, err := fx.svc.GenerateSkybox(ctx, "10.0.0.1", "something", 0); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}

func TestDisabledShortCircuits(t *testing.T) {
	fx := newFixture(2, func(o *Options) { o.Disabled = true })
	ctx := context.Background()

	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a castle"); !errors.Is(err, domain.ErrServiceDisabled) {
		t.Fatalf("SubmitModel err = %v", err)
	}
	if _, err := fx.svc.ModelStatus(ctx, "T1"); !errors.Is(err, domain.ErrServiceDisabled) {
		t.Fatalf("ModelStatus err = %v", err)
	}
	if _, err := fx.svc.Refine(ctx, "T1"); !errors.Is(err, domain.ErrServiceDisabled) {
		t.Fatalf("Refine err = %v", err)
	}
	if _, err := fx.svc.GenerateSkybox(ctx, "10.0.0.1", "sky", 0); !errors.Is(err, domain.ErrServiceDisabled) {
		t.Fatalf("GenerateSkybox err = %v", err)
	}
	if fx.models.submitCalls+fx.models.statusCalls+fx.skies.submitCalls+fx.skies.statusCalls != 0 {
		t.Fatalf("provider calls made while disabled")
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 0 {
		t.Fatalf("quota mutated while disabled")
	}
}

func TestStatusUnknownTaskDoesNotDecrement(t *testing.T) {
	fx := newFixture(2, nil)
	ctx := context.Background()
	if _, err := fx.svc.SubmitModel(ctx, "10.0.0.1", "a castle"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fx.models.statusFn = func(taskID string) (*domain.Snapshot, error) {
		return &domain.Snapshot{TaskID: taskID, State: domain.StateSucceeded, Payload: domain.ResultPayload{ModelGLB: "u"}}, nil
	}
	// A task this process never submitted reaches terminal; the local
	// client's slot must be untouched.
	if _, err := fx.svc.ModelStatus(ctx, "foreign-task"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := active(t, fx.store, "10.0.0.1"); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
}
