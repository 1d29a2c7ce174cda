// Package msgworker runs accepted deliveries on a fixed set of workers.
// Jobs with the same key always land on the same worker, so one phone's
// deliveries are handled in arrival order inside a process while different
// phones proceed in parallel.
package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultWorkers   = 6
	DefaultQueueSize = 250

	// activeKeyTTL is how long a key stays in the stats after its last dispatch.
	activeKeyTTL = 2 * time.Second
)

// Job is one unit of background work. Key selects the shard.
type Job struct {
	Key     string
	Handler func(ctx context.Context) error
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Workers         int            `json:"workers"`
	QueueSize       int            `json:"queue_size"`
	ActiveWorkers   int            `json:"active_workers"`
	TotalDispatched int64          `json:"total_dispatched"`
	TotalProcessed  int64          `json:"total_processed"`
	TotalDropped    int64          `json:"total_dropped"`
	TotalErrors     int64          `json:"total_errors"`
	WorkerStats     []WorkerStats  `json:"worker_stats"`
	ActiveKeys      map[string]int `json:"active_keys"`
	Uptime          time.Duration  `json:"uptime"`
}

type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

type activeKey struct {
	workerID  int
	updatedAt time.Time
}

type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32
	stopCh     chan struct{}

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
	activeMu        sync.Mutex
	active          map[string]activeKey
	startTime       time.Time

	OnJobStart func(workerID int, key string)
	OnJobEnd   func(workerID int, key string, err error)
}

type worker struct {
	id            int
	queue         chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
		active:     make(map[string]activeKey),
		stopCh:     make(chan struct{}),
		startTime:  time.Now(),
	}
}

// Start launches the workers. Cancelling ctx makes every worker finish what is
// queued and exit.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.pruneActive(ctx)

	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:     i,
			queue:  make(chan Job, p.queueSize),
			ctx:    workerCtx,
			cancel: cancel,
			pool:   p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

func (p *Pool) pruneActive(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.activeMu.Lock()
			for k, v := range p.active {
				if now.Sub(v.updatedAt) > activeKeyTTL {
					delete(p.active, k)
				}
			}
			p.activeMu.Unlock()
		}
	}
}

// TryDispatch queues job without blocking. false means the shard is full or
// the pool is stopped; the caller decides whether that is an error.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardFor(job.Key)
	atomic.AddInt64(&p.totalDispatched, 1)

	p.activeMu.Lock()
	p.active[job.Key] = activeKey{workerID: shard, updatedAt: time.Now()}
	p.activeMu.Unlock()

	sent := func() (ok bool) {
		// Stop closes the queues; a send racing it must not panic the caller.
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].queue <- job:
			return true
		default:
			return false
		}
	}()
	if sent {
		return true
	}

	p.activeMu.Lock()
	delete(p.active, job.Key)
	p.activeMu.Unlock()

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[WORKER_POOL] Worker %d queue full (or stopped), dropping job for %s", shard, job.Key)
	return false
}

// Stop closes every queue and waits for the workers to drain them.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		close(p.stopCh)
		logrus.Info("[WORKER_POOL] Stopping workers...")

		for _, w := range p.workers {
			if w == nil {
				continue
			}
			w.cancel()
			close(w.queue)
		}
		p.wg.Wait()

		logrus.Info("[WORKER_POOL] All workers stopped")
	})
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) Stats() Stats {
	workerStats := make([]WorkerStats, 0, len(p.workers))
	activeWorkers := 0
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		processing := atomic.LoadInt32(&w.isProcessing) == 1
		if processing {
			activeWorkers++
		}
		workerStats = append(workerStats, WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.queue),
			IsProcessing:  processing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		})
	}

	now := time.Now()
	p.activeMu.Lock()
	active := make(map[string]int, len(p.active))
	for k, v := range p.active {
		if now.Sub(v.updatedAt) > activeKeyTTL {
			delete(p.active, k)
			continue
		}
		active[k] = v.workerID
	}
	p.activeMu.Unlock()

	return Stats{
		Workers:         p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		WorkerStats:     workerStats,
		ActiveKeys:      active,
		Uptime:          now.Sub(p.startTime),
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	logrus.Debugf("[WORKER_POOL] Worker %d started", w.id)

	for {
		select {
		case job, ok := <-w.queue:
			if !ok {
				logrus.Debugf("[WORKER_POOL] Worker %d shutting down", w.id)
				return
			}
			w.handle(job)
		case <-w.ctx.Done():
			logrus.Debugf("[WORKER_POOL] Worker %d context cancelled, draining queue...", w.id)
			w.drain()
			return
		}
	}
}

// handle runs one job. A panic is counted as an error and never kills the worker.
func (w *worker) handle(job Job) {
	var err error
	if w.pool.OnJobStart != nil {
		w.pool.OnJobStart(w.id, job.Key)
	}
	atomic.StoreInt32(&w.isProcessing, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			logrus.Errorf("[WORKER_POOL] Worker %d panic for %s: %v", w.id, job.Key, r)
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
		if w.pool.OnJobEnd != nil {
			w.pool.OnJobEnd(w.id, job.Key, err)
		}
	}()

	// Handlers get a context that outlives the worker's cancellation so a
	// job started during shutdown can still release its claims and locks.
	err = job.Handler(context.WithoutCancel(w.ctx))
	if err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		logrus.WithError(err).Errorf("[WORKER_POOL] Worker %d job failed for %s", w.id, job.Key)
	}
}

func (w *worker) drain() {
	for {
		select {
		case job, ok := <-w.queue:
			if !ok {
				return
			}
			w.handle(job)
		default:
			return
		}
	}
}
