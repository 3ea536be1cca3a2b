package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// ServiceConfig holds the service's tunables.
type ServiceConfig struct {
	MaxConcurrent      int           // Import jobs running at once
	MaxWait            time.Duration // How long a job waits for a slot
	JobTimeout         time.Duration // Upper bound on one import
	ResultRetention    time.Duration // How long finished async jobs stay queryable
	MaxConflictRetries int           // 0 means retry until success
	RetryDelay         time.Duration // Base pause between conflicting attempts
}

// Defaults for ServiceConfig fields left zero.
const (
	DefaultJobTimeout      = 10 * time.Minute
	DefaultResultRetention = 5 * time.Minute
)

// Service is the entry point for imports and exports.
type Service struct {
	registry *Registry
	store    DataStore
	hub      *ProgressHub
	importer *Importer
	limiter  *JobLimiter
	jobs     *ttlcache.Cache[string, *runningJob]
	cfg      ServiceConfig
	logger   *slog.Logger
}

// runningJob tracks an asynchronous import. result and err are written
// before done is closed.
type runningJob struct {
	job    *ImportJob
	cancel context.CancelFunc
	done   chan struct{}
	result *ImportResult
	err    error
	final  ProgressEvent
}

// ImportRequest carries the per-request format and commit options.
type ImportRequest struct {
	TypeName       string
	Username       string
	Separator      rune
	Quote          rune
	PeriodicCommit bool
	ChunkSize      int
	Range          string
	StreamChunks   bool
	Size           int64 // Input size in bytes if known
}

// ExportRequest selects a type and the output options.
type ExportRequest struct {
	TypeName string
	// ID limits the export to the record an import result's Location
	// points at. Empty exports every record.
	ID      string
	Options ExportOptions
}

// JobStatus is a point-in-time view of an import job.
type JobStatus struct {
	JobID     string         `json:"jobId"`
	Type      string         `json:"type"`
	Username  string         `json:"username"`
	Processed int64          `json:"processed"`
	Done      bool           `json:"done"`
	Last      *ProgressEvent `json:"last,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// NewService creates a service. A nil registry means the default registry.
func NewService(store DataStore, registry *Registry, cfg ServiceConfig, logger *slog.Logger) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = DefaultResultRetention
	}

	hub := NewProgressHub()
	importerOpts := []ImporterOption{
		WithProgressSink(hub),
		WithLogger(logger),
	}
	if cfg.RetryDelay > 0 {
		importerOpts = append(importerOpts, WithRetryDelay(cfg.RetryDelay))
	}

	jobs := ttlcache.New(
		ttlcache.WithTTL[string, *runningJob](cfg.ResultRetention),
		ttlcache.WithDisableTouchOnHit[string, *runningJob](),
	)
	jobs.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *runningJob]) {
		item.Value().cancel()
		hub.Close(item.Key())
	})
	go jobs.Start()

	return &Service{
		registry: registry,
		store:    store,
		hub:      hub,
		importer: NewImporter(store, importerOpts...),
		limiter:  NewJobLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		jobs:     jobs,
		cfg:      cfg,
		logger:   logger,
	}
}

// Types returns the registered record types.
func (s *Service) Types() []*TypeDescriptor {
	return s.registry.All()
}

// Hub returns the progress hub receiving every job's events.
func (s *Service) Hub() *ProgressHub {
	return s.hub
}

// LimiterStatus reports job slot usage.
func (s *Service) LimiterStatus() JobLimiterStatus {
	return s.limiter.Status()
}

func (s *Service) newJob(req ImportRequest) (*ImportJob, *TypeDescriptor, error) {
	desc, ok := s.registry.Get(req.TypeName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, req.TypeName)
	}
	if req.ChunkSize < 0 {
		return nil, nil, &OptionError{Option: "commit interval", Err: fmt.Errorf("must be positive, got %d", req.ChunkSize)}
	}
	if _, err := ParseRowRange(req.Range); err != nil {
		return nil, nil, &OptionError{Option: "range", Err: err}
	}

	return &ImportJob{
		ID:                 uuid.New().String(),
		TypeName:           desc.Name,
		Username:           req.Username,
		Separator:          req.Separator,
		Quote:              req.Quote,
		PeriodicCommit:     req.PeriodicCommit,
		ChunkSize:          req.ChunkSize,
		Range:              req.Range,
		StreamChunks:       req.StreamChunks,
		MaxConflictRetries: s.cfg.MaxConflictRetries,
	}, desc, nil
}

func (s *Service) decoder(job *ImportJob, desc *TypeDescriptor, r io.Reader, size int64) (*Decoder, error) {
	input, counter := WrapInput(r, size)
	job.BytesRead = counter.BytesRead

	dec, err := NewDecoder(input, desc, DecodeOptions{
		Separator: job.Separator,
		Quote:     job.Quote,
		Range:     job.Range,
	})
	if err != nil {
		return nil, &OptionError{Option: "format", Err: err}
	}
	return dec, nil
}

// Import runs an import to completion on the caller's goroutine.
//
// Returns ErrTooManyJobs if the concurrent import limit is reached and no
// slot becomes available within the wait period.
func (s *Service) Import(ctx context.Context, req ImportRequest, r io.Reader) (*ImportResult, error) {
	job, desc, err := s.newJob(req)
	if err != nil {
		return nil, err
	}
	dec, err := s.decoder(job, desc, r, req.Size)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()
	defer s.hub.Close(job.ID)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	return s.importer.Run(ctx, job, desc, dec)
}

// StartImport begins an asynchronous import and returns its job id
// immediately. The service closes r when the job ends. Use
// SubscribeProgress for updates and Result for the outcome.
//
// Returns ErrTooManyJobs if the concurrent import limit is reached and no
// slot becomes available within the wait period.
func (s *Service) StartImport(ctx context.Context, req ImportRequest, r io.ReadCloser) (string, error) {
	job, desc, err := s.newJob(req)
	if err != nil {
		r.Close()
		return "", err
	}
	dec, err := s.decoder(job, desc, r, req.Size)
	if err != nil {
		r.Close()
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		r.Close()
		return "", err
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	rj := &runningJob{
		job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	// Running jobs never expire; retention starts when they finish.
	s.jobs.Set(job.ID, rj, ttlcache.NoTTL)

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer r.Close()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic in import",
					"job_id", job.ID,
					"type", desc.Name,
					"panic", p,
				)
				s.finish(rj, nil, fmt.Errorf("internal error: %v", p))
			}
		}()

		result, err := s.importer.Run(jobCtx, job, desc, dec)
		s.finish(rj, result, err)
	}()

	return job.ID, nil
}

func (s *Service) finish(rj *runningJob, result *ImportResult, err error) {
	if last, ok := s.hub.Last(rj.job.ID); ok {
		rj.final = last
	}
	if err != nil && rj.final.Subtype != EventError {
		ev := errorEvent(rj.job, err, "")
		s.hub.Publish(ev)
		rj.final = ev
	}

	rj.result = result
	rj.err = err
	close(rj.done)
	s.hub.Close(rj.job.ID)
	s.jobs.Set(rj.job.ID, rj, ttlcache.DefaultTTL)
}

func (s *Service) lookup(jobID string) (*runningJob, error) {
	item := s.jobs.Get(jobID)
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return item.Value(), nil
}

// SubscribeProgress returns a channel receiving a job's progress events.
// The channel is closed when the job ends; for a finished job it carries
// only the final event. Call the returned function to stop early.
func (s *Service) SubscribeProgress(jobID string) (<-chan ProgressEvent, func(), error) {
	rj, err := s.lookup(jobID)
	if err != nil {
		return nil, nil, err
	}

	if isDone(rj) {
		return finalEvent(rj), func() {}, nil
	}

	ch, unsubscribe := s.hub.Subscribe(jobID)
	// finish closes done before it closes the hub's subscribers, so a job
	// that ended while subscribing is seen here.
	if isDone(rj) {
		unsubscribe()
		return finalEvent(rj), func() {}, nil
	}
	return ch, unsubscribe, nil
}

func isDone(rj *runningJob) bool {
	select {
	case <-rj.done:
		return true
	default:
		return false
	}
}

func finalEvent(rj *runningJob) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, 1)
	ch <- rj.final
	close(ch)
	return ch
}

// Result returns the outcome of an asynchronous import, waiting for the
// job to finish. The job's own error, if any, is returned with the partial
// result.
func (s *Service) Result(ctx context.Context, jobID string) (*ImportResult, error) {
	rj, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	select {
	case <-rj.done:
		return rj.result, rj.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the job's current state without blocking.
func (s *Service) Status(jobID string) (JobStatus, error) {
	rj, err := s.lookup(jobID)
	if err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{
		JobID:     rj.job.ID,
		Type:      rj.job.TypeName,
		Username:  rj.job.Username,
		Processed: rj.job.Processed(),
	}
	select {
	case <-rj.done:
		status.Done = true
		final := rj.final
		status.Last = &final
		if rj.err != nil {
			status.Error = rj.err.Error()
		}
	default:
		if ev, ok := s.hub.Last(jobID); ok {
			status.Last = &ev
		}
	}
	return status, nil
}

// CancelImport cancels a running import. The chunk in flight is rolled
// back; chunks committed before it stay committed.
func (s *Service) CancelImport(jobID string) error {
	rj, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	rj.cancel()
	return nil
}

// Export writes every record of the requested type to w. The view is
// resolved before anything is written, so an unknown type or view fails
// without output. It returns the number of data lines written.
func (s *Service) Export(ctx context.Context, w io.Writer, req ExportRequest) (int, error) {
	desc, ok := s.registry.Get(req.TypeName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownType, req.TypeName)
	}
	if _, err := desc.FieldsForView(req.Options.View); err != nil {
		return 0, err
	}

	records := s.store.Records(ctx, desc)
	if req.ID != "" {
		rec, err := s.store.Record(ctx, desc, req.ID)
		if err != nil {
			return 0, err
		}
		records = func(yield func(TypedRecord, error) bool) {
			yield(rec, nil)
		}
	}

	n, err := Export(ctx, w, s.registry, records, req.Options)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("export stopped", "type", desc.Name, "rows", n, "error", err)
	}
	return n, err
}

// WaitForImports blocks until every running import finished or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Close stops the job registry's expiry loop.
func (s *Service) Close() {
	s.jobs.Stop()
}

var (
	_ ViewResolver  = (*Registry)(nil)
	_ DateFormatter = (*Registry)(nil)
	_ ProgressSink  = (*ProgressHub)(nil)
)
