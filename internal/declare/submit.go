package declare

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/catalog"
)

// defaultWorkerCap bounds the derived pool size. The catalog tolerates only
// a few concurrent declarers per client.
const defaultWorkerCap = 4

// SubmitterConfig is the per-batch configuration of the submission stage.
type SubmitterConfig struct {
	// Workers is the pool size. Zero derives it from available parallelism,
	// capped at defaultWorkerCap.
	Workers int

	// MaxAttempts bounds declare calls per task, retries included.
	// Zero means 3.
	MaxAttempts int

	// InitialBackoff is the first retry delay. Zero means 200ms.
	InitialBackoff time.Duration

	// RateLimit is the catalog request budget in requests/second shared by
	// all workers. Zero disables limiting.
	RateLimit float64

	// Validate asks the catalog to validate each record before declaring.
	Validate bool

	// Location, when set, is registered as a storage location for every
	// declared file.
	Location string

	// DryRun builds metadata but never touches the catalog.
	DryRun bool

	Log zerolog.Logger
}

// Submitter drives FileTasks through building and declaration on a bounded
// worker pool.
//
// Workers share only the rate limiter and the result collector; each task
// is owned by a single worker from dispatch to terminal state. Building and
// submission of different tasks overlap freely, but one task's metadata is
// always complete before its declaration starts.
type Submitter struct {
	cat     catalog.Catalog
	cfg     SubmitterConfig
	limiter *rate.Limiter
}

// NewSubmitter returns a submitter with config defaults applied.
func NewSubmitter(cat catalog.Catalog, cfg SubmitterConfig) *Submitter {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers > defaultWorkerCap {
			cfg.Workers = defaultWorkerCap
		}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Submitter{cat: cat, cfg: cfg, limiter: limiter}
}

// Run processes every path to a terminal state and returns the aggregated
// report. It always waits for all workers before aggregating (the
// end-of-batch barrier), so the report accounts for every enumerated path.
//
// On context cancellation, in-flight declarations finish or fail cleanly;
// undispatched tasks are recorded as failed with a cancellation reason
// rather than silently dropped.
func (s *Submitter) Run(ctx context.Context, builder *MetadataBuilder, batchID string, paths []string) *BatchReport {
	tasks := make(chan *FileTask)
	go func() {
		defer close(tasks)
		for _, p := range paths {
			tasks <- NewFileTask(p)
		}
	}()

	var (
		mu      sync.Mutex
		results []DeclarationResult
	)
	collect := func(res DeclarationResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	var g errgroup.Group
	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			log := s.cfg.Log.With().Int("worker", worker).Logger()
			for task := range tasks {
				res := s.process(ctx, log, builder, task)
				log.Debug().Object("result", res).Msg("task finished")
				collect(res)
			}
			return nil
		})
	}
	// Barrier: no aggregation until every task is terminal.
	_ = g.Wait()

	return NewBatchReport(batchID, results)
}

func (s *Submitter) process(ctx context.Context, log zerolog.Logger, builder *MetadataBuilder, task *FileTask) DeclarationResult {
	if err := ctx.Err(); err != nil {
		s.advance(log, task, TaskPending, TaskFailed)
		return DeclarationResult{Path: task.Path, Error: "canceled before dispatch: " + err.Error()}
	}

	s.advance(log, task, TaskPending, TaskBuilding)
	if err := builder.Build(task); err != nil {
		s.advance(log, task, TaskBuilding, TaskFailed)
		log.Warn().Err(err).Str("path", task.Path).Msg("metadata build failed")
		return DeclarationResult{Path: task.Path, Error: err.Error()}
	}

	s.advance(log, task, TaskBuilding, TaskSubmitting)
	if s.cfg.DryRun {
		s.advance(log, task, TaskSubmitting, TaskSucceeded)
		return DeclarationResult{Path: task.Path, OK: true}
	}

	res := s.declareWithRetry(ctx, log, task)
	if res.OK {
		s.advance(log, task, TaskSubmitting, TaskSucceeded)
	} else {
		s.advance(log, task, TaskSubmitting, TaskFailed)
	}
	return res
}

// declareWithRetry submits one task, retrying transient catalog errors with
// exponential backoff up to the attempt bound. Validation rejections are
// permanent. A duplicate declaration is success.
func (s *Submitter) declareWithRetry(ctx context.Context, log zerolog.Logger, task *FileTask) DeclarationResult {
	fileName, _ := task.Metadata["file_name"].(string)

	attempts := 0
	duplicate := false

	op := func() (catalog.FileID, error) {
		if attempts > 0 {
			// Re-entering SUBMITTING is the only legal cycle.
			s.advance(log, task, TaskSubmitting, TaskSubmitting)
		}
		attempts++

		if err := s.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}

		if s.cfg.Validate {
			if err := s.cat.ValidateMetadata(ctx, task.Metadata); err != nil {
				return "", retryClass(err)
			}
		}

		id, err := s.cat.Declare(ctx, task.Metadata)
		if err != nil {
			if !errors.Is(err, catalog.ErrDuplicate) {
				return "", retryClass(err)
			}
			// Already declared: not a failure, and its identity is its name.
			duplicate = true
			id = catalog.FileID(fileName)
		}

		if s.cfg.Location != "" {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", backoff.Permanent(err)
			}
			if err := s.cat.AddFileLocation(ctx, fileName, s.cfg.Location); err != nil &&
				!errors.Is(err, catalog.ErrDuplicate) {
				return "", retryClass(err)
			}
		}
		return id, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("backoff", wait).Str("path", task.Path).
			Int("attempt", attempts).Msg("transient catalog error, retrying")
	}

	id, err := backoff.RetryNotifyWithData(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxAttempts-1)), ctx),
		notify)
	if err != nil {
		return DeclarationResult{Path: task.Path, Error: err.Error(), Attempts: attempts}
	}
	return DeclarationResult{Path: task.Path, OK: true, Duplicate: duplicate, FileID: id, Attempts: attempts}
}

// retryClass marks validation rejections permanent; everything else stays
// retryable.
func retryClass(err error) error {
	if errors.Is(err, catalog.ErrInvalidMetadata) {
		return backoff.Permanent(err)
	}
	return err
}

// advance applies a validated transition. A violation here is a pipeline
// bug, not a per-file condition, so it is logged loudly instead of being
// folded into the file's result.
func (s *Submitter) advance(log zerolog.Logger, task *FileTask, from, to TaskState) {
	if err := task.transition(from, to); err != nil {
		log.Error().Err(err).Str("path", task.Path).Msg("task state violation")
	}
}
