package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/KenB-Good/ClipMaster/config"
	"github.com/KenB-Good/ClipMaster/types"
)

var (
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipmaster_task_duration_seconds",
		Help:    "Duration of task execution in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "status"})

	tasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipmaster_tasks_processed_total",
		Help: "Total number of tasks processed",
	}, []string{"type", "status"})

	workersBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipmaster_workers_busy",
		Help: "Workers currently executing a task",
	}, []string{"class"})
)

// ProgressFunc lets a handler report completion percentage mid-task.
type ProgressFunc func(percent float64)

// Handler executes one task type. Run must honor ctx cancellation at its safe
// points and return a typed result payload on success. Errors are classified
// through the types error kinds; untagged errors are treated as unrecoverable.
type Handler interface {
	Type() types.TaskType
	Run(ctx context.Context, task *types.ProcessingTask, report ProgressFunc) (any, error)
}

// Pool runs a fixed number of workers over one resource class. Workers claim
// through the orchestrator, so mutual exclusion and readiness checks apply
// uniformly no matter how many pools run.
type Pool struct {
	orch     *Orchestrator
	class    types.ResourceClass
	size     int
	poll     time.Duration
	handlers map[types.TaskType]Handler
}

// NewPool builds a pool of size workers for the given class.
func NewPool(orch *Orchestrator, class types.ResourceClass, size int, handlers ...Handler) *Pool {
	m := make(map[types.TaskType]Handler, len(handlers))
	for _, h := range handlers {
		if types.ResourceClassFor(h.Type()) != class {
			panic(fmt.Sprintf("handler for %s registered on %s pool", h.Type(), class))
		}
		m[h.Type()] = h
	}
	return &Pool{
		orch:     orch,
		class:    class,
		size:     size,
		poll:     config.ClaimPollInterval,
		handlers: m,
	}
}

// Run blocks until ctx is done and every worker has drained its current task.
func (p *Pool) Run(ctx context.Context) {
	log.Printf("🚀 Starting %d %s worker(s)", p.size, p.class)

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-worker-%d", p.class, i)
		go func() {
			defer wg.Done()
			p.worker(ctx, workerID)
		}()
	}
	wg.Wait()
	log.Printf("🛑 %s pool stopped", p.class)
}

// worker loops: claim, execute, settle. Idle workers block on the wake
// channel and a poll ticker so backoff deadlines are still picked up.
func (p *Pool) worker(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		task, err := p.orch.ClaimNext(ctx, workerID, p.class)
		if err != nil {
			log.Printf("⚠️ %s: claim failed: %v", workerID, err)
		}
		if task != nil {
			p.execute(ctx, workerID, task)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.orch.Wake():
		case <-ticker.C:
		}
	}
}

func (p *Pool) execute(ctx context.Context, workerID string, task *types.ProcessingTask) {
	handler, ok := p.handlers[task.Type]
	if !ok {
		// A claimed task nobody here can run would starve the queue; fail
		// it terminally so the operator sees it.
		err := types.Unrecoverable(fmt.Errorf("no handler registered for %s", task.Type))
		if ferr := p.orch.Fail(ctx, task.ID, err); ferr != nil {
			log.Printf("⚠️ %s: settle unhandled task %s: %v", workerID, task.ID, ferr)
		}
		return
	}

	workersBusy.WithLabelValues(string(p.class)).Inc()
	defer workersBusy.WithLabelValues(string(p.class)).Dec()

	taskCtx, done := p.orch.trackRunning(ctx, task.ID)
	defer done()

	report := func(percent float64) {
		if err := p.orch.ReportProgress(taskCtx, task.ID, percent); err != nil {
			log.Printf("⚠️ %s: report progress for %s: %v", workerID, task.ID, err)
		}
	}

	log.Printf("📥 %s claimed %s task %s (attempt %d)", workerID, task.Type, task.ID, task.Attempt+1)
	start := time.Now()
	result, err := handler.Run(taskCtx, task, report)

	status := "success"
	switch {
	case err != nil && types.KindOf(err) == types.KindCancelled:
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	taskDuration.WithLabelValues(string(task.Type), status).Observe(time.Since(start).Seconds())
	tasksProcessedTotal.WithLabelValues(string(task.Type), status).Inc()

	if err != nil {
		if ferr := p.orch.Fail(ctx, task.ID, err); ferr != nil {
			log.Printf("⚠️ %s: settle failed task %s: %v", workerID, task.ID, ferr)
		}
		return
	}
	if cerr := p.orch.Complete(ctx, task.ID, result); cerr != nil {
		log.Printf("⚠️ %s: settle completed task %s: %v", workerID, task.ID, cerr)
		return
	}
	log.Printf("✅ %s finished %s task %s in %s", workerID, task.Type, task.ID, time.Since(start).Round(time.Millisecond))
}
