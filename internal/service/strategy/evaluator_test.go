package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

type recordedJob struct {
	name    string
	key     string
	payload any
}

type stubQueue struct {
	jobs []recordedJob
	err  error
}

func (q *stubQueue) Enqueue(ctx context.Context, name, idempotencyKey string, payload any) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, recordedJob{name: name, key: idempotencyKey, payload: payload})
	return nil
}

type stubMetrics struct {
	sample *domain.ServiceMetrics
}

func (s *stubMetrics) LatestServiceMetrics(ctx context.Context, serviceID string) (*domain.ServiceMetrics, error) {
	if s.sample == nil {
		return nil, repository.ErrNotFound
	}
	copied := *s.sample
	return &copied, nil
}

type evaluatorFixture struct {
	strategies  *stubStrategyRepo
	deployments *stubDeploymentRepo
	metrics     *stubMetrics
	queue       *stubQueue
	evaluator   *Evaluator
}

// startedAutoPromoteCanary wires an auto-promoting canary already at its
// first step for svc-1/dep-1.
func startedAutoPromoteCanary(t *testing.T, steps []int) *evaluatorFixture {
	t.Helper()
	strategies := newStubStrategyRepo()
	deployments := newStubDeploymentRepo()
	metrics := &stubMetrics{}
	q := &stubQueue{}
	engine := newTestEngine(strategies, deployments)
	ctx := context.Background()

	enabled := true
	_, err := engine.Configure(ctx, "svc-1", ConfigureRequest{
		Strategy:          domain.StrategyCanary,
		CanarySteps:       steps,
		CanaryAutoPromote: &enabled,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	deployments.rows["dep-1"] = runningDeployment("dep-1", "svc-1")
	if _, err := engine.CanaryStart(ctx, "svc-1", "dep-1"); err != nil {
		t.Fatalf("CanaryStart: %v", err)
	}

	evaluator := NewEvaluator(engine, strategies, metrics, q, time.Second, discardLogger())
	if evaluator == nil {
		t.Fatalf("expected a live evaluator")
	}
	return &evaluatorFixture{
		strategies:  strategies,
		deployments: deployments,
		metrics:     metrics,
		queue:       q,
		evaluator:   evaluator,
	}
}

func (f *evaluatorFixture) elapseDwell() {
	f.evaluator.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
}

func notifyTypes(jobs []recordedJob) []string {
	var types []string
	for _, job := range jobs {
		if data, ok := job.payload.(queue.NotificationJobData); ok {
			types = append(types, data.Type)
		}
	}
	return types
}

func TestEvaluatorDisabledWithoutInterval(t *testing.T) {
	if ev := NewEvaluator(nil, nil, nil, nil, 0, discardLogger()); ev != nil {
		t.Fatalf("zero interval should disable the evaluator")
	}
}

func TestEvaluateWaitsForDwell(t *testing.T) {
	f := startedAutoPromoteCanary(t, []int{10, 100})

	f.evaluator.EvaluateOnce(context.Background())

	row := f.strategies.rows["svc-1"]
	if row.CanaryWeight != 10 {
		t.Fatalf("canary advanced before the dwell elapsed: weight=%d", row.CanaryWeight)
	}
	if len(f.queue.jobs) != 0 {
		t.Fatalf("unexpected jobs enqueued: %+v", f.queue.jobs)
	}
}

func TestEvaluateAbortsBreachBeforeDwellElapses(t *testing.T) {
	f := startedAutoPromoteCanary(t, []int{10, 100})
	f.metrics.sample = &domain.ServiceMetrics{ServiceID: "svc-1", ErrorRate: 99}

	// Dwell has not elapsed, but a breaching canary must not keep its
	// traffic share until the delay runs out.
	f.evaluator.EvaluateOnce(context.Background())

	row := f.strategies.rows["svc-1"]
	if row.CanaryActive() {
		t.Fatalf("breach during dwell was not aborted: %+v", row)
	}
	types := notifyTypes(f.queue.jobs)
	if len(types) != 1 || types[0] != "canary_aborted" {
		t.Fatalf("expected one canary_aborted notification, got %v", types)
	}
}

func TestEvaluateAbortsOnThresholdBreach(t *testing.T) {
	f := startedAutoPromoteCanary(t, []int{10, 100})
	f.elapseDwell()
	f.metrics.sample = &domain.ServiceMetrics{ServiceID: "svc-1", ErrorRate: 12.5}

	f.evaluator.EvaluateOnce(context.Background())

	row := f.strategies.rows["svc-1"]
	if row.CanaryActive() {
		t.Fatalf("breaching canary was not aborted: %+v", row)
	}
	types := notifyTypes(f.queue.jobs)
	if len(types) != 1 || types[0] != "canary_aborted" {
		t.Fatalf("expected one canary_aborted notification, got %v", types)
	}
}

func TestEvaluateAbortsOnLatencyBreach(t *testing.T) {
	f := startedAutoPromoteCanary(t, []int{10, 100})
	f.elapseDwell()
	f.metrics.sample = &domain.ServiceMetrics{ServiceID: "svc-1", LatencyP99MS: 2500}

	f.evaluator.EvaluateOnce(context.Background())

	if f.strategies.rows["svc-1"].CanaryActive() {
		t.Fatalf("latency breach did not abort the canary")
	}
}

func TestEvaluateAdvancesCleanCanary(t *testing.T) {
	f := startedAutoPromoteCanary(t, []int{10, 50, 100})
	f.elapseDwell()
	f.metrics.sample = &domain.ServiceMetrics{ServiceID: "svc-1", ErrorRate: 0.5, LatencyP99MS: 120}

	f.evaluator.EvaluateOnce(context.Background())

	row := f.strategies.rows["svc-1"]
	if row.CanaryWeight != 50 || !row.CanaryActive() {
		t.Fatalf("clean canary did not advance one step: %+v", row)
	}
	if types := notifyTypes(f.queue.jobs); len(types) != 0 {
		t.Fatalf("mid-walk advance should not notify, got %v", types)
	}
}

func TestEvaluatePromotesAndNotifiesAtFinalStep(t *testing.T) {
	f := startedAutoPromoteCanary(t, []int{10, 100})
	f.elapseDwell()

	f.evaluator.EvaluateOnce(context.Background())

	row := f.strategies.rows["svc-1"]
	if row.CanaryActive() {
		t.Fatalf("canary still active after promotion: %+v", row)
	}
	types := notifyTypes(f.queue.jobs)
	if len(types) != 1 || types[0] != "canary_completed" {
		t.Fatalf("expected one canary_completed notification, got %v", types)
	}
}

func TestEvaluateTreatsMissingMetricsAsHealthy(t *testing.T) {
	f := startedAutoPromoteCanary(t, []int{10, 100})
	f.elapseDwell()
	f.metrics.sample = nil

	f.evaluator.EvaluateOnce(context.Background())

	if f.strategies.rows["svc-1"].CanaryActive() {
		t.Fatalf("canary without samples should promote cleanly")
	}
}
