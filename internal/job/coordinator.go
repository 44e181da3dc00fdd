// Package job coordinates sync job lifecycles. The coordinator enforces
// the one-active-job-per-wallet rule, dispatches accepted jobs onto a
// bounded worker pool, and publishes status snapshots for pollers.
package job

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/storage"
	"github.com/cardano-wallet-scanner/internal/types"
)

// ProgressFunc reports sync progress back to the coordinator. The page
// estimate may be revised upward as pagination discovers more history;
// the published progress percentage never moves backwards.
type ProgressFunc func(pagesProcessed, pagesEstimated int, txCount int64)

// SyncRunner executes the actual sync work for an accepted job.
// Implemented by the sync orchestrator.
type SyncRunner interface {
	Run(ctx context.Context, job *models.SyncJob, progress ProgressFunc) error
}

// JobStore is the persistence contract the coordinator needs.
// ClaimQueued must be a conditional queued-to-processing transition so
// that coordinators in separate processes never both run the same job.
type JobStore interface {
	Create(ctx context.Context, job *models.SyncJob) error
	ClaimQueued(ctx context.Context, jobID string, startedAt time.Time) (bool, error)
	Update(ctx context.Context, job *models.SyncJob) error
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	GetActiveByWallet(ctx context.Context, userID, walletAddress string) (*models.SyncJob, error)
	ListByState(ctx context.Context, state types.SyncJobState, limit int) ([]*models.SyncJob, error)
}

// StatusCache is the optional Redis-backed status snapshot cache.
type StatusCache interface {
	Put(ctx context.Context, status *types.JobStatusResponse) error
	Get(ctx context.Context, jobID string) (*types.JobStatusResponse, error)
}

// Coordinator owns sync job state transitions. Jobs move strictly
// queued -> processing -> completed or failed.
type Coordinator struct {
	jobs   JobStore
	cache  StatusCache
	runner SyncRunner

	workerSem chan struct{}
	wg        sync.WaitGroup

	mu     sync.Mutex
	active map[string]*models.SyncJob // wallet key -> non-terminal job
}

// NewCoordinator creates a job coordinator with the given worker count.
func NewCoordinator(jobs JobStore, cache StatusCache, runner SyncRunner, workers int) *Coordinator {
	if workers <= 0 {
		workers = 4
	}
	return &Coordinator{
		jobs:      jobs,
		cache:     cache,
		runner:    runner,
		workerSem: make(chan struct{}, workers),
		active:    make(map[string]*models.SyncJob),
	}
}

func walletKey(userID, walletAddress string) string {
	return userID + "|" + walletAddress
}

// CreateJob accepts a sync request for a wallet. When the wallet already
// has a non-terminal job the existing job is returned along with a
// conflict error naming it, and no new job is created.
func (c *Coordinator) CreateJob(ctx context.Context, userID, walletAddress string, fullResync bool) (*models.SyncJob, error) {
	key := walletKey(userID, walletAddress)

	c.mu.Lock()
	if existing, ok := c.active[key]; ok {
		c.mu.Unlock()
		return existing, errors.NewSyncInProgressError(walletAddress, existing.JobID)
	}
	// Hold the wallet slot with a placeholder while we check the store,
	// so two concurrent requests cannot both pass the check.
	placeholder := &models.SyncJob{}
	c.active[key] = placeholder
	c.mu.Unlock()

	rollback := func() {
		c.mu.Lock()
		if c.active[key] == placeholder {
			delete(c.active, key)
		}
		c.mu.Unlock()
	}

	// A previous process may have left an active job in the database.
	if stored, err := c.jobs.GetActiveByWallet(ctx, userID, walletAddress); err != nil {
		rollback()
		return nil, err
	} else if stored != nil {
		c.mu.Lock()
		c.active[key] = stored
		c.mu.Unlock()
		return stored, errors.NewSyncInProgressError(walletAddress, stored.JobID)
	}

	job := &models.SyncJob{
		JobID:         uuid.NewString(),
		UserID:        userID,
		WalletAddress: walletAddress,
		State:         types.JobQueued,
		FullResync:    fullResync,
		CreatedAt:     time.Now().UTC(),
	}

	if err := c.jobs.Create(ctx, job); err != nil {
		rollback()
		return nil, err
	}

	c.mu.Lock()
	c.active[key] = job
	c.mu.Unlock()

	c.publishStatus(ctx, job)

	c.wg.Add(1)
	go c.execute(job)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":         job.JobID,
		"walletAddress": walletAddress,
		"fullResync":    fullResync,
	}).Info("Sync job accepted")

	return job, nil
}

// GetJobStatus returns the status snapshot for a job, cache first.
func (c *Coordinator) GetJobStatus(ctx context.Context, jobID string) (*types.JobStatusResponse, error) {
	if c.cache != nil {
		if status, err := c.cache.Get(ctx, jobID); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Job status cache read failed")
		} else if status != nil {
			return status, nil
		}
	}

	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.NewNotFoundError("sync job", jobID)
	}

	status := snapshotOf(job)
	if c.cache != nil {
		if err := c.cache.Put(ctx, status); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Job status cache write failed")
		}
	}
	return status, nil
}

// ResumeQueued adopts queued jobs left behind by a previous process and
// dispatches them onto the worker pool. Returns how many were adopted.
func (c *Coordinator) ResumeQueued(ctx context.Context) (int, error) {
	queued, err := c.jobs.ListByState(ctx, types.JobQueued, 0)
	if err != nil {
		return 0, err
	}

	adopted := 0
	for _, job := range queued {
		key := walletKey(job.UserID, job.WalletAddress)

		c.mu.Lock()
		if _, ok := c.active[key]; ok {
			c.mu.Unlock()
			continue
		}
		c.active[key] = job
		c.mu.Unlock()

		c.wg.Add(1)
		go c.execute(job)
		adopted++
	}

	if adopted > 0 {
		logging.FromContext(ctx).WithField("jobs", adopted).Info("Resumed queued sync jobs")
	}
	return adopted, nil
}

// ActiveJobs returns how many jobs are currently non-terminal.
func (c *Coordinator) ActiveJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown waits for in-flight jobs to finish or the context to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs one job through its lifecycle on a pooled worker.
func (c *Coordinator) execute(job *models.SyncJob) {
	defer c.wg.Done()

	c.workerSem <- struct{}{}
	defer func() { <-c.workerSem }()

	ctx := context.Background()
	logger := logging.GetGlobalLogger().WithFields(map[string]interface{}{
		"jobId":         job.JobID,
		"walletAddress": job.WalletAddress,
	})
	ctx = logging.WithLogger(ctx, logger)

	// Claim the job in the store before touching it. Adoption races
	// across processes (server and worker both resume queued jobs), so
	// only the claim winner may execute.
	now := time.Now().UTC()
	claimed, err := c.jobs.ClaimQueued(ctx, job.JobID, now)
	if err != nil {
		logger.WithError(err).Warn("Failed to claim sync job, leaving it queued")
	}
	if !claimed {
		if err == nil {
			logger.Info("Sync job claimed by another process, skipping")
		}
		key := walletKey(job.UserID, job.WalletAddress)
		c.mu.Lock()
		if c.active[key] == job {
			delete(c.active, key)
		}
		c.mu.Unlock()
		return
	}

	job.State = types.JobProcessing
	job.StartedAt = &now
	c.publishStatus(ctx, job)

	err = c.runner.Run(ctx, job, c.progressFunc(ctx, job))

	completed := time.Now().UTC()
	job.CompletedAt = &completed
	if err != nil {
		msg := err.Error()
		job.State = types.JobFailed
		job.Error = &msg
		logger.WithError(err).Error("Sync job failed")
	} else {
		job.State = types.JobCompleted
		job.Progress = 100
		logger.WithFields(map[string]interface{}{
			"pagesProcessed": job.PagesProcessed,
			"txCount":        job.TxCount,
		}).Info("Sync job completed")
	}
	c.persist(ctx, job)

	c.mu.Lock()
	delete(c.active, walletKey(job.UserID, job.WalletAddress))
	c.mu.Unlock()
}

// progressFunc builds the monotonic progress reporter for one job.
func (c *Coordinator) progressFunc(ctx context.Context, job *models.SyncJob) ProgressFunc {
	return func(pagesProcessed, pagesEstimated int, txCount int64) {
		c.mu.Lock()
		if pagesProcessed > job.PagesProcessed {
			job.PagesProcessed = pagesProcessed
		}
		if pagesEstimated > job.PagesEstimated {
			job.PagesEstimated = pagesEstimated
		}
		if txCount > job.TxCount {
			job.TxCount = txCount
		}

		// Cap below 100 while running; only completion reports 100.
		if job.PagesEstimated > 0 {
			pct := float64(job.PagesProcessed) / float64(job.PagesEstimated) * 100
			if pct > 99 {
				pct = 99
			}
			if pct > job.Progress {
				job.Progress = pct
			}
		}
		c.mu.Unlock()

		c.persist(ctx, job)
	}
}

// persist writes the job record and refreshes the status cache. Failures
// are logged, never propagated into the sync itself.
func (c *Coordinator) persist(ctx context.Context, job *models.SyncJob) {
	if err := c.jobs.Update(ctx, job); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("jobId", job.JobID).
			Warn("Failed to persist sync job state")
	}
	c.publishStatus(ctx, job)
}

func (c *Coordinator) publishStatus(ctx context.Context, job *models.SyncJob) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(ctx, snapshotOf(job)); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("jobId", job.JobID).
			Warn("Failed to publish job status snapshot")
	}
}

func snapshotOf(job *models.SyncJob) *types.JobStatusResponse {
	progress := job.Progress
	status := &types.JobStatusResponse{
		JobID:    job.JobID,
		Status:   job.State,
		Progress: &progress,
	}
	if job.Error != nil {
		status.Message = job.Error
	}
	if job.State == types.JobCompleted {
		// Pollers of a finished job get the result summary without a
		// second request.
		summary, err := json.Marshal(map[string]interface{}{
			"walletAddress":  job.WalletAddress,
			"txCount":        job.TxCount,
			"pagesProcessed": job.PagesProcessed,
			"fullResync":     job.FullResync,
			"completedAt":    job.CompletedAt,
		})
		if err == nil {
			status.CachedData = summary
		}
	}
	return status
}

var _ StatusCache = (*storage.JobStatusCache)(nil)
var _ JobStore = (*storage.SyncJobRepository)(nil)
