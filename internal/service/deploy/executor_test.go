package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/BimaPangestu28/Syntra-sub003/internal/agent"
	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/strategy"
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
	if update.DeployStartedAt != nil {
		row.DeployStartedAt = update.DeployStartedAt
	}
	if update.DeployFinishedAt != nil {
		row.DeployFinishedAt = update.DeployFinishedAt
	}
	return nil
}

func (s *stubDeploymentRepo) ListDeploymentsByService(ctx context.Context, serviceID string, limit int) ([]domain.Deployment, error) {
	return nil, nil
}

type stubServiceRepo struct {
	services map[string]*domain.Service
}

func (s *stubServiceRepo) GetServiceByID(ctx context.Context, serviceID string) (*domain.Service, error) {
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

type stubStrategyRepo struct {
	rows map[string]*domain.DeploymentStrategy
}

func (s *stubStrategyRepo) GetStrategyByService(ctx context.Context, serviceID string) (*domain.DeploymentStrategy, error) {
	row, ok := s.rows[serviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (s *stubStrategyRepo) CreateStrategy(ctx context.Context, strat *domain.DeploymentStrategy) error {
	strat.Version = 1
	copied := *strat
	s.rows[strat.ServiceID] = &copied
	return nil
}

func (s *stubStrategyRepo) UpdateStrategy(ctx context.Context, strat *domain.DeploymentStrategy, expectedVersion int) error {
	current, ok := s.rows[strat.ServiceID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	copied := *strat
	copied.Version = expectedVersion + 1
	s.rows[strat.ServiceID] = &copied
	return nil
}

func (s *stubStrategyRepo) ListAutoPromoteCanaries(ctx context.Context) ([]domain.DeploymentStrategy, error) {
	return nil, nil
}

type sentCommand struct {
	serverID string
	cmd      agent.Command
}

type stubDispatcher struct {
	connected bool
	sendOK    bool
	sent      []sentCommand
}

func (d *stubDispatcher) IsConnected(serverID string) bool { return d.connected }

func (d *stubDispatcher) Send(serverID string, cmd agent.Command) bool {
	d.sent = append(d.sent, sentCommand{serverID: serverID, cmd: cmd})
	return d.sendOK
}

type stubQueue struct {
	jobs []queue.NotificationJobData
}

func (q *stubQueue) Enqueue(ctx context.Context, name, idempotencyKey string, payload any) error {
	if data, ok := payload.(queue.NotificationJobData); ok {
		q.jobs = append(q.jobs, data)
	}
	return nil
}

type fixture struct {
	deployments *stubDeploymentRepo
	strategies  *stubStrategyRepo
	dispatcher  *stubDispatcher
	queue       *stubQueue
	engine      *strategy.Engine
	executor    *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	deployments := &stubDeploymentRepo{rows: make(map[string]*domain.Deployment)}
	strategies := &stubStrategyRepo{rows: make(map[string]*domain.DeploymentStrategy)}
	services := &stubServiceRepo{services: map[string]*domain.Service{
		"svc-1": {
			ID:            "svc-1",
			ProjectID:     "proj-1",
			Name:          "Checkout",
			Slug:          "checkout",
			ContainerPort: 8080,
		},
	}}
	dispatcher := &stubDispatcher{connected: true, sendOK: true}
	q := &stubQueue{}
	engine := strategy.NewEngine(strategies, deployments, log)
	return &fixture{
		deployments: deployments,
		strategies:  strategies,
		dispatcher:  dispatcher,
		queue:       q,
		engine:      engine,
		executor:    NewExecutor(deployments, services, engine, dispatcher, q, log),
	}
}

func (f *fixture) addDeployment(id string, status domain.DeploymentStatus) {
	f.deployments.rows[id] = &domain.Deployment{ID: id, ServiceID: "svc-1", Status: status}
}

func deployJobPayload(t *testing.T, deploymentID string) []byte {
	t.Helper()
	payload, err := json.Marshal(queue.DeploymentJobData{
		DeploymentID:   deploymentID,
		ServiceID:      "svc-1",
		ServerID:       "srv-1",
		DockerImageTag: "registry.local/syntra/checkout:abc123def456",
	})
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return payload
}

func decodeDeployPayload(t *testing.T, cmd agent.Command) agent.DeployPayload {
	t.Helper()
	if cmd.Type != agent.CommandDeploy {
		t.Fatalf("expected deploy command, got %q", cmd.Type)
	}
	var payload agent.DeployPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload
}

func TestHandleFailsWhenAgentOffline(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.connected = false
	f.addDeployment("dep-1", domain.DeploymentPending)

	err := f.executor.Handle(context.Background(), deployJobPayload(t, "dep-1"))
	if !errors.Is(err, agent.ErrAgentOffline) {
		t.Fatalf("expected ErrAgentOffline, got %v", err)
	}
	row := f.deployments.rows["dep-1"]
	if row.Status != domain.DeploymentFailed || row.ErrorMessage == "" {
		t.Fatalf("offline dispatch should fail the deployment: %+v", row)
	}
	if len(f.dispatcher.sent) != 0 {
		t.Fatalf("no command should be sent to an offline agent")
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].Type != "deployment_failed" {
		t.Fatalf("expected a deployment_failed notification, got %+v", f.queue.jobs)
	}
}

func TestHandleRollingDeploy(t *testing.T) {
	f := newFixture(t)
	f.addDeployment("dep-1", domain.DeploymentPending)

	if err := f.executor.Handle(context.Background(), deployJobPayload(t, "dep-1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	row := f.deployments.rows["dep-1"]
	if row.Status != domain.DeploymentRunning || row.DeployFinishedAt == nil {
		t.Fatalf("deployment not marked running: %+v", row)
	}
	if len(f.dispatcher.sent) != 1 {
		t.Fatalf("expected one dispatched command, got %d", len(f.dispatcher.sent))
	}
	payload := decodeDeployPayload(t, f.dispatcher.sent[0].cmd)
	if !payload.Replace {
		t.Fatalf("rolling deploy must replace in place")
	}
	if payload.Name != "syntra-checkout" {
		t.Fatalf("unexpected container name %q", payload.Name)
	}
	if len(payload.Ports) != 1 || string(payload.Ports[0].ContainerPort) != "8080/tcp" {
		t.Fatalf("unexpected port mapping: %+v", payload.Ports)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].Type != "deployment_succeeded" {
		t.Fatalf("expected a deployment_succeeded notification, got %+v", f.queue.jobs)
	}
}

func TestHandleBlueGreenFlipsAfterRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Configure(ctx, "svc-1", strategy.ConfigureRequest{Strategy: domain.StrategyBlueGreen}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	f.addDeployment("dep-1", domain.DeploymentPending)

	if err := f.executor.Handle(ctx, deployJobPayload(t, "dep-1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	payload := decodeDeployPayload(t, f.dispatcher.sent[0].cmd)
	if payload.Replace {
		t.Fatalf("blue-green deploy must start in the idle slot, not replace")
	}
	if payload.Name != "syntra-checkout-dep-1" {
		t.Fatalf("unexpected slot container name %q", payload.Name)
	}

	strat := f.strategies.rows["svc-1"]
	if strat.ActiveColor == nil || *strat.ActiveColor != domain.ColorBlue {
		t.Fatalf("traffic did not flip to the new slot: %+v", strat)
	}
	if strat.BlueDeploymentID == nil || *strat.BlueDeploymentID != "dep-1" {
		t.Fatalf("slot not bound to the deployment: %+v", strat)
	}
	if f.deployments.rows["dep-1"].Status != domain.DeploymentRunning {
		t.Fatalf("deployment should be running before the flip")
	}
}

func TestHandleCanaryDispatchFailureAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Configure(ctx, "svc-1", strategy.ConfigureRequest{
		Strategy:    domain.StrategyCanary,
		CanarySteps: []int{10, 100},
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	f.addDeployment("dep-1", domain.DeploymentPending)
	f.dispatcher.sendOK = false

	err := f.executor.Handle(ctx, deployJobPayload(t, "dep-1"))
	if !errors.Is(err, agent.ErrAgentOffline) {
		t.Fatalf("expected dispatch failure, got %v", err)
	}
	if f.strategies.rows["svc-1"].CanaryActive() {
		t.Fatalf("failed dispatch must release the canary slot")
	}
	if f.deployments.rows["dep-1"].Status != domain.DeploymentFailed {
		t.Fatalf("deployment should be failed")
	}
}

func TestHandleCanarySendsInitialWeight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Configure(ctx, "svc-1", strategy.ConfigureRequest{
		Strategy:    domain.StrategyCanary,
		CanarySteps: []int{25, 100},
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	f.addDeployment("dep-1", domain.DeploymentPending)

	if err := f.executor.Handle(ctx, deployJobPayload(t, "dep-1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	payload := decodeDeployPayload(t, f.dispatcher.sent[0].cmd)
	if payload.TrafficPct != 25 {
		t.Fatalf("expected initial canary weight 25, got %d", payload.TrafficPct)
	}
	strat := f.strategies.rows["svc-1"]
	if !strat.CanaryActive() || strat.CanaryWeight != 25 {
		t.Fatalf("canary state not recorded: %+v", strat)
	}
}

func TestHandleRedeliveredJobForRunningDeployment(t *testing.T) {
	f := newFixture(t)
	f.addDeployment("dep-1", domain.DeploymentPending)
	if err := f.executor.Handle(context.Background(), deployJobPayload(t, "dep-1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	sentBefore := len(f.dispatcher.sent)
	jobsBefore := len(f.queue.jobs)

	// A crash between marking running and acking the job redelivers it.
	if err := f.executor.Handle(context.Background(), deployJobPayload(t, "dep-1")); err != nil {
		t.Fatalf("redelivery must be a no-op, got %v", err)
	}
	row := f.deployments.rows["dep-1"]
	if row.Status != domain.DeploymentRunning || row.ErrorMessage != "" {
		t.Fatalf("redelivery must not touch a running deployment: %+v", row)
	}
	if len(f.dispatcher.sent) != sentBefore {
		t.Fatalf("redelivery must not dispatch again")
	}
	if len(f.queue.jobs) != jobsBefore {
		t.Fatalf("redelivery must not notify again, got %+v", f.queue.jobs)
	}
}

func TestHandleSkipsTerminalDeployment(t *testing.T) {
	f := newFixture(t)
	f.addDeployment("dep-1", domain.DeploymentFailed)

	if err := f.executor.Handle(context.Background(), deployJobPayload(t, "dep-1")); err != nil {
		t.Fatalf("terminal deployment should be skipped, got %v", err)
	}
	if len(f.dispatcher.sent) != 0 {
		t.Fatalf("no command should be dispatched for a terminal deployment")
	}
}

func TestHandleDropsUnknownDeployment(t *testing.T) {
	f := newFixture(t)
	if err := f.executor.Handle(context.Background(), deployJobPayload(t, "missing")); err != nil {
		t.Fatalf("unknown deployment should be dropped, got %v", err)
	}
}

func TestContainerNameSuffix(t *testing.T) {
	if got := containerName("checkout", ""); got != "syntra-checkout" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := containerName("checkout", "0123456789ab"); got != "syntra-checkout-01234567" {
		t.Fatalf("unexpected name %q", got)
	}
}
