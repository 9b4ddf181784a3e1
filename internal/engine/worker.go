package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// job is one injection point waiting for detection. index is its slot in
// the result slice.
type job struct {
	index int
	point InjectionPoint
}

type detectFunc func(ctx context.Context, p InjectionPoint) Verdict

// workerPool runs detection for many points on a fixed number of
// goroutines. Verdicts are stored by job index, so the output order
// matches the submission order regardless of completion order.
type workerPool struct {
	workers int
	jobs    chan job
	results []Verdict
	detect  detectFunc
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// newWorkerPool creates a pool for n jobs. The jobs channel is buffered
// at workers*2 to allow some pipelining.
func newWorkerPool(workers, n int, detect detectFunc, logger *zap.Logger) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	return &workerPool{
		workers: workers,
		jobs:    make(chan job, workers*2),
		results: make([]Verdict, n),
		detect:  detect,
		logger:  logger,
	}
}

func (p *workerPool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *workerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for j := range p.jobs {
		p.run(ctx, j)
	}
}

// run executes one job. A panic is turned into a failed verdict so one
// bad point does not cost the others theirs.
func (p *workerPool) run(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker recovered from panic",
				zap.String("parameter", j.point.Name),
				zap.Any("panic", r),
			)
			p.results[j.index] = failedVerdict(j.point, fmt.Errorf("engine: worker panicked: %v", r))
		}
	}()
	p.results[j.index] = p.detect(ctx, j.point)
}

// submit adds a job to the queue. It blocks if the jobs channel is full.
func (p *workerPool) submit(j job) {
	p.jobs <- j
}

// close signals that no more jobs will be submitted and waits for all
// workers to finish.
func (p *workerPool) close() []Verdict {
	close(p.jobs)
	p.wg.Wait()
	return p.results
}
