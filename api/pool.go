package api

import (
	"context"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"proflo-api/domain"
)

const (
	minActivityWorkers = 4
	maxActivityWorkers = 64
	activityBufPerWkr  = 64
)

type activityJob struct {
	tenantID   string
	activities []domain.Activity
}

var (
	once           sync.Once
	jobs           chan activityJob
	workerCount    int
	jobBuf         int
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalStore    Storage
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
	numCPU         = runtime.NumCPU
)

const (
	DefaultActivityTimeout        = 60 * time.Second
	DefaultActivityHandoffTimeout = 15 * time.Millisecond
)

// ActivityConfig sizes the activity workers. Zero values select the defaults;
// a negative HandoffTimeout disables waiting for buffer capacity.
type ActivityConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// Shutdown drains queued activity entries and stops the workers.
func Shutdown() { shutdownActivitySender() }

// shutdownActivitySender stops worker goroutines and clears shared state.
func shutdownActivitySender() {
	if jobs != nil {
		close(jobs)
		jobs = nil
	}

	workerWG.Wait()

	globalStore = nil
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	enqueueTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

func computeWorkerDefaults(cpu int) (workers, buffer int) {
	workers = cpu * 2
	if workers < minActivityWorkers {
		workers = minActivityWorkers
	}
	if workers > maxActivityWorkers {
		workers = maxActivityWorkers
	}
	return workers, workers * activityBufPerWkr
}

// withDefaults fills unset fields from the CPU count and package defaults.
func (c ActivityConfig) withDefaults(cpu int) ActivityConfig {
	defWorkers, defBuf := computeWorkerDefaults(cpu)
	if c.Workers <= 0 {
		c.Workers = defWorkers
	}
	if c.Buffer <= 0 {
		c.Buffer = defBuf
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultActivityTimeout
	}
	switch {
	case c.HandoffTimeout == 0:
		c.HandoffTimeout = DefaultActivityHandoffTimeout
	case c.HandoffTimeout < 0:
		c.HandoffTimeout = 0
	}
	return c
}

func initActivitySender(store Storage, cfg ActivityConfig, log *log.Logger) {
	once.Do(func() {
		globalStore = store
		if log == nil {
			panic("Logger is not initialized")
		}
		globalLog = log

		cfg = cfg.withDefaults(numCPU())
		workerCount = cfg.Workers
		jobBuf = cfg.Buffer
		enqueueTimeout = cfg.Timeout
		handoffTimeout = cfg.HandoffTimeout

		jobs = make(chan activityJob, jobBuf)
		for i := 0; i < workerCount; i++ {
			workerWG.Add(1)
			go worker(i, jobs)
		}
		globalLog.Infof("activity sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, enqueueTimeout, handoffTimeout)
	})
}

func worker(id int, jobCh <-chan activityJob) {
	defer workerWG.Done()
	for j := range jobCh {
		if err := sendActivity(j); err != nil {
			globalLog.Errorf("activity enqueue failed, err: %v, tenant: %s, count: %d, worker: %d", err, j.tenantID, len(j.activities), id)
		}
	}
}

func sendActivity(j activityJob) error {
	ctx, cancel := context.WithTimeout(bg, enqueueTimeout)
	defer cancel()
	return globalStore.EnqueueActivity(ctx, j.activities)
}

// submitActivity hands activity entries to the workers, falling back to an
// inline enqueue when the buffer stays saturated past the handoff timeout.
func submitActivity(tenantID string, activities ...domain.Activity) {
	if len(activities) == 0 || globalStore == nil {
		return
	}
	job := activityJob{tenantID: tenantID, activities: activities}
	if tryEnqueueJob(job) {
		return
	}
	if globalLog != nil {
		globalLog.Warn("activity buffer saturated; processing inline")
	}
	if err := sendActivity(job); err != nil && globalLog != nil {
		globalLog.Errorf("activity enqueue inline failed: %v, tenant: %s", err, tenantID)
	}
}

func tryEnqueueJob(job activityJob) bool {
	if jobs == nil {
		return false
	}

	if ok, closed := trySendNonBlocking(jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan activityJob, job activityJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan activityJob, job activityJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
