package build

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/BimaPangestu28/Syntra-sub003/internal/docker"
	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
	"github.com/BimaPangestu28/Syntra-sub003/internal/workspace"
	"github.com/BimaPangestu28/Syntra-sub003/pkg/config"
)

type stubDeploymentRepo struct {
	rows map[string]*domain.Deployment
}

func (s *stubDeploymentRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	copied := *d
	s.rows[d.ID] = &copied
	return nil
}

func (s *stubDeploymentRepo) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	row, ok := s.rows[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (s *stubDeploymentRepo) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	row, ok := s.rows[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	row.Status = update.Status
	if update.ErrorMessage != "" {
		row.ErrorMessage = update.ErrorMessage
	}
	if update.DockerImageTag != "" {
		row.DockerImageTag = update.DockerImageTag
	}
	return nil
}

func (s *stubDeploymentRepo) ListDeploymentsByService(ctx context.Context, serviceID string, limit int) ([]domain.Deployment, error) {
	return nil, nil
}

type stubServiceRepo struct {
	services map[string]*domain.Service
	err      error
}

func (s *stubServiceRepo) GetServiceByID(ctx context.Context, serviceID string) (*domain.Service, error) {
	if s.err != nil {
		return nil, s.err
	}
	service, ok := s.services[serviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *service
	return &copied, nil
}

func (s *stubServiceRepo) ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.EnvVar, error) {
	return nil, nil
}

func (s *stubServiceRepo) ListServiceEnvVars(ctx context.Context, serviceID string) ([]domain.EnvVar, error) {
	return nil, nil
}

type stubQueue struct {
	jobs []struct {
		name    string
		payload any
	}
}

func (q *stubQueue) Enqueue(ctx context.Context, name, idempotencyKey string, payload any) error {
	q.jobs = append(q.jobs, struct {
		name    string
		payload any
	}{name: name, payload: payload})
	return nil
}

type stubGit struct {
	cloneErr error
	head     string
	cloned   []string
}

func (g *stubGit) Clone(ctx context.Context, repoURL, branch, dest string) error {
	g.cloned = append(g.cloned, repoURL)
	return g.cloneErr
}

func (g *stubGit) CheckoutCommit(ctx context.Context, dir, commitSHA string) error { return nil }

func (g *stubGit) HeadSHA(ctx context.Context, dir string) (string, error) { return g.head, nil }

type stubImageBuilder struct {
	buildErr error
	built    []string
	pushed   []string
	lastArgs map[string]*string
}

func (b *stubImageBuilder) BuildImage(ctx context.Context, dir, dockerfile, tag string, buildArgs map[string]*string, onOutput docker.BuildOutputCallback) error {
	b.built = append(b.built, tag)
	b.lastArgs = buildArgs
	return b.buildErr
}

func (b *stubImageBuilder) PushImage(ctx context.Context, tag, username, password string, onOutput docker.BuildOutputCallback) error {
	b.pushed = append(b.pushed, tag)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkerUnderTest(deployments *stubDeploymentRepo, services *stubServiceRepo, q *stubQueue, cfg config.WorkerConfig) *Worker {
	return NewWorker(deployments, services, q, nil, nil, cfg, discardLogger())
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	w := newWorkerUnderTest(&stubDeploymentRepo{rows: map[string]*domain.Deployment{}}, &stubServiceRepo{}, &stubQueue{}, config.WorkerConfig{})
	if err := w.Handle(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("malformed payload must be dropped, got %v", err)
	}
}

func TestHandleDropsUnknownDeployment(t *testing.T) {
	w := newWorkerUnderTest(&stubDeploymentRepo{rows: map[string]*domain.Deployment{}}, &stubServiceRepo{}, &stubQueue{}, config.WorkerConfig{})
	if err := w.Handle(context.Background(), []byte(`{"deployment_id":"missing","service_id":"svc-1"}`)); err != nil {
		t.Fatalf("unknown deployment must be dropped, got %v", err)
	}
}

func TestHandleSkipsTerminalDeployment(t *testing.T) {
	deployments := &stubDeploymentRepo{rows: map[string]*domain.Deployment{
		"dep-1": {ID: "dep-1", ServiceID: "svc-1", Status: domain.DeploymentCancelled},
	}}
	q := &stubQueue{}
	w := newWorkerUnderTest(deployments, &stubServiceRepo{}, q, config.WorkerConfig{})
	if err := w.Handle(context.Background(), []byte(`{"deployment_id":"dep-1","service_id":"svc-1"}`)); err != nil {
		t.Fatalf("terminal deployment must be skipped, got %v", err)
	}
	if len(q.jobs) != 0 {
		t.Fatalf("no jobs should be enqueued for a terminal deployment")
	}
	if deployments.rows["dep-1"].Status != domain.DeploymentCancelled {
		t.Fatalf("terminal status must not be overwritten")
	}
}

func TestHandleServiceLoadFailureMarksFailed(t *testing.T) {
	deployments := &stubDeploymentRepo{rows: map[string]*domain.Deployment{
		"dep-1": {ID: "dep-1", ServiceID: "svc-1", Status: domain.DeploymentPending},
	}}
	q := &stubQueue{}
	w := newWorkerUnderTest(deployments, &stubServiceRepo{err: repository.ErrNotFound}, q, config.WorkerConfig{})

	if err := w.Handle(context.Background(), []byte(`{"deployment_id":"dep-1","service_id":"svc-1"}`)); err == nil {
		t.Fatalf("expected an error so the queue retries")
	}
	row := deployments.rows["dep-1"]
	if row.Status != domain.DeploymentFailed || row.ErrorMessage == "" {
		t.Fatalf("failure was not recorded: %+v", row)
	}
	for _, job := range q.jobs {
		if job.name == queue.JobDeploy {
			t.Fatalf("a failed build must not enqueue a deploy job")
		}
	}
}

type pipelineFixture struct {
	deployments *stubDeploymentRepo
	queue       *stubQueue
	git         *stubGit
	builder     *stubImageBuilder
	worker      *Worker
	root        string
}

// newPipelineFixture wires a worker with a real workspace under a temp
// root and scripted git/docker layers.
func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	serverID := "srv-1"
	services := &stubServiceRepo{services: map[string]*domain.Service{
		"svc-1": {
			ID:             "svc-1",
			ProjectID:      "proj-1",
			Name:           "Checkout",
			Slug:           "checkout",
			ServerID:       &serverID,
			DockerfilePath: "Dockerfile",
		},
	}}
	deployments := &stubDeploymentRepo{rows: map[string]*domain.Deployment{
		"dep-1": {ID: "dep-1", ServiceID: "svc-1", Status: domain.DeploymentPending},
	}}
	q := &stubQueue{}
	g := &stubGit{head: "0123456789abcdef0123"}
	b := &stubImageBuilder{}
	cfg := config.WorkerConfig{
		ImageNamespace: "syntra",
		BuildTimeout:   time.Minute,
		GitTimeout:     time.Minute,
	}
	w := NewWorker(deployments, services, q, ws, b, cfg, discardLogger())
	w.git = g
	return &pipelineFixture{deployments: deployments, queue: q, git: g, builder: b, worker: w, root: root}
}

func TestHandleCloneFailureCleansWorkspace(t *testing.T) {
	f := newPipelineFixture(t)
	f.git.cloneErr = errors.New("fatal: could not read from remote repository")

	payload := []byte(`{"deployment_id":"dep-1","service_id":"svc-1","git_repo_url":"https://git.invalid/checkout.git"}`)
	if err := f.worker.Handle(context.Background(), payload); err == nil {
		t.Fatalf("clone failure must surface so the queue retries")
	}
	row := f.deployments.rows["dep-1"]
	if row.Status != domain.DeploymentFailed || row.ErrorMessage == "" {
		t.Fatalf("clone failure not recorded: %+v", row)
	}
	if _, err := os.Stat(filepath.Join(f.root, "dep-1")); !os.IsNotExist(err) {
		t.Fatalf("workspace was not cleaned up")
	}
	if len(f.builder.built) != 0 {
		t.Fatalf("docker build must not run after a failed clone")
	}
	for _, job := range f.queue.jobs {
		if job.name == queue.JobDeploy {
			t.Fatalf("a failed clone must not enqueue a deploy job")
		}
	}
}

func TestHandleBuildsImageAndHandsOffDeploy(t *testing.T) {
	f := newPipelineFixture(t)

	payload := []byte(`{"deployment_id":"dep-1","service_id":"svc-1","git_repo_url":"https://git.local/checkout.git","build_args":{"NODE_ENV":"production"}}`)
	if err := f.worker.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	wantTag := "syntra/checkout:0123456789ab"
	if len(f.builder.built) != 1 || f.builder.built[0] != wantTag {
		t.Fatalf("unexpected build tags %v", f.builder.built)
	}
	if arg, ok := f.builder.lastArgs["NODE_ENV"]; !ok || arg == nil || *arg != "production" {
		t.Fatalf("build args not passed through: %v", f.builder.lastArgs)
	}
	if len(f.builder.pushed) != 0 {
		t.Fatalf("no registry configured, nothing should be pushed")
	}
	if f.deployments.rows["dep-1"].DockerImageTag != wantTag {
		t.Fatalf("image tag not persisted: %+v", f.deployments.rows["dep-1"])
	}

	var deployJobs []queue.DeploymentJobData
	var notified []string
	for _, job := range f.queue.jobs {
		switch data := job.payload.(type) {
		case queue.DeploymentJobData:
			deployJobs = append(deployJobs, data)
		case queue.NotificationJobData:
			notified = append(notified, data.Type)
		}
	}
	if len(deployJobs) != 1 || deployJobs[0].ServerID != "srv-1" || deployJobs[0].DockerImageTag != wantTag {
		t.Fatalf("deploy hand-off wrong: %+v", deployJobs)
	}
	if len(notified) != 1 || notified[0] != "deployment_started" {
		t.Fatalf("expected deployment_started, got %v", notified)
	}
	if _, err := os.Stat(filepath.Join(f.root, "dep-1")); !os.IsNotExist(err) {
		t.Fatalf("workspace not removed after a successful build")
	}
}

func TestImageTagFormatting(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.WorkerConfig
		sha  string
		want string
	}{
		{
			name: "registry with namespace and sha",
			cfg:  config.WorkerConfig{RegistryURL: "registry.local", ImageNamespace: "syntra"},
			sha:  "0123456789abcdef0123",
			want: "registry.local/syntra/checkout:0123456789ab",
		},
		{
			name: "trailing slash trimmed",
			cfg:  config.WorkerConfig{RegistryURL: "registry.local/", ImageNamespace: "syntra"},
			sha:  "abc",
			want: "registry.local/syntra/checkout:abc",
		},
		{
			name: "no registry no sha",
			cfg:  config.WorkerConfig{ImageNamespace: "syntra"},
			sha:  "",
			want: "syntra/checkout:latest",
		},
		{
			name: "bare slug",
			cfg:  config.WorkerConfig{},
			sha:  "",
			want: "checkout:latest",
		},
	}
	for _, tc := range cases {
		w := newWorkerUnderTest(&stubDeploymentRepo{rows: map[string]*domain.Deployment{}}, &stubServiceRepo{}, &stubQueue{}, tc.cfg)
		if got := w.imageTag("checkout", tc.sha); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestResolveServerIDPrecedence(t *testing.T) {
	depServer := "srv-dep"
	svcServer := "srv-svc"

	got, err := resolveServerID(&domain.Deployment{ServerID: &depServer}, &domain.Service{ServerID: &svcServer})
	if err != nil || got != "srv-dep" {
		t.Fatalf("deployment server must win: %q, %v", got, err)
	}
	got, err = resolveServerID(&domain.Deployment{}, &domain.Service{ServerID: &svcServer})
	if err != nil || got != "srv-svc" {
		t.Fatalf("service server should be the fallback: %q, %v", got, err)
	}
	if _, err := resolveServerID(&domain.Deployment{}, &domain.Service{ID: "svc-1"}); err == nil {
		t.Fatalf("missing server assignment must error")
	}
}

func TestLogAggregatorCollapsesRepeats(t *testing.T) {
	var emitted []string
	a := newLogAggregator(func(line string) { emitted = append(emitted, line) })

	a.Add("step 1/4")
	a.Add("downloading")
	a.Add("downloading")
	a.Add("downloading")
	a.Add("step 2/4")
	a.Flush()

	want := []string{"step 1/4", "downloading", "downloading (repeated 2 more times)", "step 2/4"}
	if len(emitted) != len(want) {
		t.Fatalf("emitted %v, want %v", emitted, want)
	}
	for i := range want {
		if emitted[i] != want[i] {
			t.Fatalf("emitted[%d] = %q, want %q", i, emitted[i], want[i])
		}
	}
}

func TestLogAggregatorSnapshotBounds(t *testing.T) {
	a := newLogAggregator(nil)
	a.Add("one")
	a.Add("two")
	a.Add("three")

	tail := a.Snapshot(2)
	if len(tail) != 2 || tail[0] != "two" || tail[1] != "three" {
		t.Fatalf("unexpected tail %v", tail)
	}
	all := a.Snapshot(0)
	if len(all) != 3 {
		t.Fatalf("zero limit should return everything, got %v", all)
	}
}

func TestTruncateLine(t *testing.T) {
	if got := truncateLine("  hello  "); got != "hello" {
		t.Fatalf("unexpected %q", got)
	}
	long := strings.Repeat("x", logLineLimit+10)
	got := truncateLine(long)
	if len(got) <= logLineLimit || !strings.Contains(got, "truncated") {
		t.Fatalf("long line was not truncated with a marker")
	}
}
