package core

// importer.go coordinates applying decoded rows to the store.
//
// Rows are grouped into units of work according to the job's commit mode:
//   - chunked: fixed-size chunks, one transaction each
//   - single: one transaction for the whole input
//   - per-record: no coordinator transaction, each write commits on its own
//
// A unit whose transaction reports a conflict is rolled back and re-run from
// its first row. Units run strictly one after another; cancellation is
// checked between them so a transaction is never left half-applied.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"
)

// Retry pause bounds between conflicting attempts of one unit.
const (
	defaultRetryDelay = 25 * time.Millisecond
	maxRetryDelay     = time.Second
)

// Importer runs import jobs against a Store.
type Importer struct {
	store      Store
	sink       ProgressSink
	logger     *slog.Logger
	retryDelay time.Duration
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithProgressSink sets the sink that receives job events.
func WithProgressSink(sink ProgressSink) ImporterOption {
	return func(im *Importer) { im.sink = sink }
}

// WithLogger sets the importer's logger.
func WithLogger(logger *slog.Logger) ImporterOption {
	return func(im *Importer) { im.logger = logger }
}

// WithRetryDelay sets the base pause between conflicting attempts.
// The pause grows linearly with the attempt number up to one second.
func WithRetryDelay(d time.Duration) ImporterOption {
	return func(im *Importer) { im.retryDelay = d }
}

// NewImporter creates an importer writing to store.
func NewImporter(store Store, opts ...ImporterOption) *Importer {
	im := &Importer{
		store:      store,
		sink:       SinkFunc(func(ProgressEvent) {}),
		logger:     slog.Default(),
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Run imports every row from src into desc. The returned result holds the
// outcome of each applied row in input order. When the job is aborted by a
// validation, format or fatal store error, the partial result is returned
// together with that error; chunks committed before it stay committed.
func (im *Importer) Run(ctx context.Context, job *ImportJob, desc *TypeDescriptor, src RowSource) (*ImportResult, error) {
	start := time.Now()
	mode := job.Mode(desc)
	logger := im.logger.With("job_id", job.ID, "type", desc.Name, "mode", string(mode))

	if desc.OwnsTransaction && job.PeriodicCommit {
		logger.Warn("periodic commit is not possible for a type that creates its own transaction, importing row by row")
	}

	result := &ImportResult{JobID: job.ID, Type: desc.Name, Mode: mode}
	im.sink.Publish(beginEvent(job))
	logger.Info("import started", "user", job.Username)

	var err error
	switch mode {
	case ModeChunked:
		if job.StreamChunks {
			err = im.runStreamedChunks(ctx, job, desc, src, result, logger)
		} else {
			err = im.runChunked(ctx, job, desc, src, result, logger)
		}
	case ModeSingle:
		err = im.runSingle(ctx, job, desc, src, result, logger)
	case ModePerRecord:
		err = im.runPerRecord(ctx, job, desc, src, result, logger)
	}

	elapsed := time.Since(start)
	result.Duration = FormatDuration(elapsed)
	result.finalize()

	if err != nil {
		result.Error = err.Error()
		logger.Error("import aborted",
			"error", err,
			"applied", result.Succeeded(),
			"failed", result.Failed,
			"duration", FormatDuration(elapsed),
		)
		return result, err
	}

	im.sink.Publish(endEvent(job, elapsed, bytesRead(job)))
	if rowErrs := result.Err(); rowErrs != nil {
		logger.Warn("rows failed", "failed", result.Failed, "errors", rowErrs)
	}
	logger.Info("import finished",
		"created", result.Created,
		"updated", result.Updated,
		"failed", result.Failed,
		"chunks", result.Chunks,
		"retries", result.Retries,
		"duration", FormatDuration(elapsed),
	)
	return result, nil
}

// runChunked materializes the input to know the chunk total up front.
func (im *Importer) runChunked(ctx context.Context, job *ImportJob, desc *TypeDescriptor, src RowSource, result *ImportResult, logger *slog.Logger) error {
	var rows []RawRow
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	size := job.chunkSize()
	total := (len(rows) + size - 1) / size
	seq := 0
	for part := range slices.Chunk(rows, size) {
		if err := ctx.Err(); err != nil {
			return err
		}
		seq++
		if err := im.commitChunk(ctx, job, desc, Chunk{Seq: seq, Total: total, Rows: part}, result, logger); err != nil {
			return err
		}
	}
	return nil
}

// runStreamedChunks reads one chunk at a time. The total is unknown and
// reported as 0.
func (im *Importer) runStreamedChunks(ctx context.Context, job *ImportJob, desc *TypeDescriptor, src RowSource, result *ImportResult, logger *slog.Logger) error {
	size := job.chunkSize()
	for seq := 1; ; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows := make([]RawRow, 0, size)
		var srcErr error
		for len(rows) < size {
			row, err := src.Next()
			if err != nil {
				srcErr = err
				break
			}
			rows = append(rows, row)
		}
		if srcErr != nil && !errors.Is(srcErr, io.EOF) {
			return srcErr
		}

		if len(rows) > 0 {
			if err := im.commitChunk(ctx, job, desc, Chunk{Seq: seq, Rows: rows}, result, logger); err != nil {
				return err
			}
		}
		if srcErr != nil {
			return nil
		}
	}
}

func (im *Importer) commitChunk(ctx context.Context, job *ImportJob, desc *TypeDescriptor, chunk Chunk, result *ImportResult, logger *slog.Logger) error {
	chunkLogger := logger.With("chunk", chunk.Seq, "total", chunk.Total)
	outcomes, err := im.commitWithRetry(ctx, job, desc, result, chunkLogger, func() RowSource {
		return &sliceSource{rows: chunk.Rows}
	})
	if err != nil {
		return fmt.Errorf("chunk %d: %w", chunk.Seq, err)
	}

	result.add(outcomes...)
	result.Chunks++
	job.processed.Add(int64(len(outcomes)))

	chunkLogger.Info("chunk committed", "rows", len(outcomes))
	im.sink.Publish(chunkEvent(job, chunk.Seq, chunk.Total, bytesRead(job)))
	return nil
}

// runSingle applies the whole input in one transaction. Rows are kept as
// they are read so a conflict can replay them from the first row.
func (im *Importer) runSingle(ctx context.Context, job *ImportJob, desc *TypeDescriptor, src RowSource, result *ImportResult, logger *slog.Logger) error {
	replay := &replaySource{src: src}
	outcomes, err := im.commitWithRetry(ctx, job, desc, result, logger, func() RowSource {
		replay.rewind()
		return replay
	})
	if err != nil {
		return err
	}

	result.add(outcomes...)
	result.Chunks = 1
	job.processed.Add(int64(len(outcomes)))
	return nil
}

// commitWithRetry runs one unit of work in its own transaction until it
// commits or fails with something other than a conflict. open returns the
// unit's rows from the start on every attempt.
func (im *Importer) commitWithRetry(ctx context.Context, job *ImportJob, desc *TypeDescriptor, result *ImportResult, logger *slog.Logger, open func() RowSource) ([]RowOutcome, error) {
	for attempt := 1; ; attempt++ {
		outcomes, err := im.applyUnit(ctx, desc, open())
		if err == nil {
			return outcomes, nil
		}

		if IsConflict(err) {
			if job.MaxConflictRetries > 0 && attempt > job.MaxConflictRetries {
				return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
			}
			result.Retries++
			logger.Warn("transaction conflict, retrying", "attempt", attempt, "error", err)
			if err := im.pause(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		var rf *rowFailure
		if errors.As(err, &rf) {
			result.add(RowOutcome{Row: rf.row.Index, Error: rf.err.Error(), RowText: rf.row.Text, err: rf.err})
			im.sink.Publish(errorEvent(job, rf.err, rf.row.Text))
			logger.Warn("row failed, rolling back", "row", rf.row.Index, "error", rf.err)
			return nil, rf.err
		}
		return nil, err
	}
}

// applyUnit opens a transaction, applies every row from src and commits.
// Any error leaves the transaction rolled back.
func (im *Importer) applyUnit(ctx context.Context, desc *TypeDescriptor, src RowSource) ([]RowOutcome, error) {
	tx, err := im.store.Begin(ctx)
	if err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit is a no-op. WithoutCancel makes sure a
		// cancelled job still releases its transaction.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	var outcomes []RowOutcome
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		ref, err := Apply(ctx, tx, desc, row)
		if err != nil {
			if cancelled(ctx, err) {
				return nil, err
			}
			return nil, &rowFailure{row: row, err: err}
		}
		outcomes = append(outcomes, RowOutcome{Row: row.Index, Ref: &ref})
	}

	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	return outcomes, nil
}

// runPerRecord applies each row on its own through the store's
// auto-committing writer. Conflicts and validation errors stay local to
// their row; a fatal store error ends the job.
func (im *Importer) runPerRecord(ctx context.Context, job *ImportJob, desc *TypeDescriptor, src RowSource, result *ImportResult, logger *slog.Logger) error {
	w := im.store.AutoCommit()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		ref, err := Apply(ctx, w, desc, row)
		if err == nil {
			result.add(RowOutcome{Row: row.Index, Ref: &ref})
			job.processed.Add(1)
			continue
		}
		if cancelled(ctx, err) {
			return err
		}

		result.add(RowOutcome{Row: row.Index, Error: err.Error(), RowText: row.Text, err: err})
		var ve *ValidationError
		switch {
		case IsConflict(err):
			logger.Warn("row conflict", "row", row.Index, "error", err)
		case errors.As(err, &ve):
			im.sink.Publish(errorEvent(job, err, row.Text))
			logger.Warn("row failed", "row", row.Index, "error", err)
		default:
			im.sink.Publish(errorEvent(job, err, row.Text))
			return err
		}
	}
}

func (im *Importer) pause(ctx context.Context, attempt int) error {
	d := min(im.retryDelay*time.Duration(attempt), maxRetryDelay)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func bytesRead(job *ImportJob) int64 {
	if job.BytesRead == nil {
		return 0
	}
	return job.BytesRead()
}

// cancelled reports whether err ended a write because the job was cancelled
// or ran out of time, rather than because of the row itself.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// rowFailure carries the row that ended a unit of work.
type rowFailure struct {
	row RawRow
	err error
}

func (f *rowFailure) Error() string { return f.err.Error() }

func (f *rowFailure) Unwrap() error { return f.err }

// sliceSource replays an in-memory chunk.
type sliceSource struct {
	rows []RawRow
	pos  int
}

func (s *sliceSource) Next() (RawRow, error) {
	if s.pos >= len(s.rows) {
		return RawRow{}, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

// replaySource remembers rows read from src so a retry can start over.
type replaySource struct {
	src  RowSource
	seen []RawRow
	pos  int
}

func (r *replaySource) rewind() { r.pos = 0 }

func (r *replaySource) Next() (RawRow, error) {
	if r.pos < len(r.seen) {
		row := r.seen[r.pos]
		r.pos++
		return row, nil
	}
	row, err := r.src.Next()
	if err != nil {
		return RawRow{}, err
	}
	r.seen = append(r.seen, row)
	r.pos++
	return row, nil
}

// SliceRows adapts an in-memory row list to a RowSource.
func SliceRows(rows []RawRow) RowSource {
	return &sliceSource{rows: rows}
}
