package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personSource(t *testing.T, rows ...string) RowSource {
	t.Helper()
	dec, err := NewDecoder(strings.NewReader(personCSV(rows...)), personType(), DecodeOptions{})
	require.NoError(t, err)
	return dec
}

func newTestImporter(store Store, sink ProgressSink) *Importer {
	return NewImporter(store, WithProgressSink(sink), WithRetryDelay(0))
}

func chunkedJob(size int) *ImportJob {
	return &ImportJob{ID: "job-1", TypeName: "Person", Username: "tester", PeriodicCommit: true, ChunkSize: size}
}

func TestImporter_ChunkedProgress(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}
	job := chunkedJob(2)

	result, err := newTestImporter(store, events).Run(context.Background(), job, personType(),
		personSource(t, "a;1", "b;2", "c;3", "d;4", "e;5"))
	require.NoError(t, err)

	assert.Equal(t, []string{"1/3", "2/3", "3/3"}, events.chunks())
	assert.Equal(t, []EventKind{EventBegin, EventChunk, EventChunk, EventChunk, EventEnd}, events.subtypes())
	assert.Equal(t, 3, store.commitAttempts)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, store.names())

	assert.Equal(t, ModeChunked, result.Mode)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, 5, result.Created)
	assert.Equal(t, int64(5), job.Processed())
	assert.Empty(t, result.Location)
	assert.NoError(t, result.Err())
}

func TestImporter_ChunkWithInvalidRowCommitsNothing(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}

	result, err := newTestImporter(store, events).Run(context.Background(), chunkedJob(2), personType(),
		personSource(t, "a;1", "b;2", "c;abc", "d;4", "e;5"))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 3, ve.Row)
	assert.Equal(t, "age", ve.Field)
	assert.Contains(t, err.Error(), "chunk 2")

	// chunk 1 stays committed, nothing from chunk 2 or later is visible
	assert.Equal(t, []string{"a", "b"}, store.names())
	assert.Equal(t, []EventKind{EventBegin, EventChunk, EventError}, events.subtypes())
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	assert.NotEmpty(t, result.Error)

	last := events.events[len(events.events)-1]
	assert.Equal(t, "CSV_IMPORT_ERROR", last.Type)
	assert.Contains(t, last.Text, "c;abc")
}

func TestImporter_ChunkRetriedFromFirstRowOnConflict(t *testing.T) {
	store := newFakeStore()
	store.conflictAt[2] = true // first attempt of chunk 2
	events := &eventRecorder{}

	result, err := newTestImporter(store, events).Run(context.Background(), chunkedJob(2), personType(),
		personSource(t, "a;1", "b;2", "c;3", "d;4", "e;5"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, store.names())
	assert.Equal(t, 1, result.Retries)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, 4, store.commitAttempts)
	assert.Equal(t, []string{"1/3", "2/3", "3/3"}, events.chunks())

	rows := make([]int, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		rows = append(rows, o.Row)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rows)
}

func TestImporter_StreamedChunks(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}
	job := chunkedJob(2)
	job.StreamChunks = true

	result, err := newTestImporter(store, events).Run(context.Background(), job, personType(),
		personSource(t, "a;1", "b;2", "c;3", "d;4"))
	require.NoError(t, err)

	assert.Equal(t, []string{"1/0", "2/0"}, events.chunks())
	assert.Equal(t, 2, result.Chunks)
	assert.Equal(t, []string{"a", "b", "c", "d"}, store.names())
}

func TestImporter_SingleTransaction(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}
	job := &ImportJob{ID: "job-1", TypeName: "Person"}

	result, err := newTestImporter(store, events).Run(context.Background(), job, personType(),
		personSource(t, "a;1", "b;2", "c;3"))
	require.NoError(t, err)

	assert.Equal(t, ModeSingle, result.Mode)
	assert.Equal(t, 1, store.commitAttempts)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, []EventKind{EventBegin, EventEnd}, events.subtypes())
	assert.Equal(t, []string{"a", "b", "c"}, store.names())
}

func TestImporter_SingleTransactionRestartsOnConflict(t *testing.T) {
	store := newFakeStore()
	store.conflictAt[1] = true
	store.conflictAt[2] = true

	result, err := newTestImporter(store, &eventRecorder{}).Run(context.Background(), &ImportJob{ID: "j"}, personType(),
		personSource(t, "a;1", "b;2", "c;3"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Retries)
	assert.Equal(t, 3, store.begins)
	assert.Equal(t, []string{"a", "b", "c"}, store.names())
	assert.Equal(t, 3, result.Count())
}

func TestImporter_SingleTransactionRollsBackOnInvalidRow(t *testing.T) {
	store := newFakeStore()

	_, err := newTestImporter(store, &eventRecorder{}).Run(context.Background(), &ImportJob{ID: "j"}, personType(),
		personSource(t, "a;1", "b;x", "c;3"))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, store.names())
	assert.Equal(t, 1, store.rollbacks)
}

func TestImporter_MaxConflictRetries(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 10; i++ {
		store.conflictAt[i] = true
	}
	job := &ImportJob{ID: "j", MaxConflictRetries: 2}

	result, err := newTestImporter(store, &eventRecorder{}).Run(context.Background(), job, personType(),
		personSource(t, "a;1"))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 2, result.Retries)
	assert.Equal(t, 3, store.commitAttempts)
	assert.Empty(t, store.names())
}

func TestImporter_FormatErrorAbortsJob(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}

	_, err := newTestImporter(store, events).Run(context.Background(), chunkedJob(2), personType(),
		personSource(t, "a;1", "b;2", `"c;3`))
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	// chunked mode reads everything before the first commit
	assert.Empty(t, store.names())
	assert.NotContains(t, events.subtypes(), EventEnd)
}

func TestImporter_CancelledBetweenChunks(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := SinkFunc(func(ev ProgressEvent) {
		if ev.Subtype == EventChunk {
			cancel()
		}
	})

	result, err := newTestImporter(store, sink).Run(ctx, chunkedJob(2), personType(),
		personSource(t, "a;1", "b;2", "c;3", "d;4"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, []string{"a", "b"}, store.names())
}

func TestImporter_CancelledMidChunkIsNotARowFailure(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.writeErr = func(rec TypedRecord) error {
		if rec.Values["name"] == "b" {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	result, err := newTestImporter(store, events).Run(ctx, chunkedJob(2), personType(),
		personSource(t, "a;1", "b;2", "c;3"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Outcomes)
	assert.Empty(t, store.names())
	assert.Equal(t, []EventKind{EventBegin}, events.subtypes())
}

func TestImporter_PerRecordTimeoutIsNotARowFailure(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}
	store.writeErr = func(rec TypedRecord) error {
		if rec.Values["name"] == "b" {
			return fmt.Errorf("write: %w", context.DeadlineExceeded)
		}
		return nil
	}

	result, err := newTestImporter(store, events).Run(context.Background(), &ImportJob{ID: "j"}, ownsTxType(),
		personSource(t, "a;1", "b;2", "c;3"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, result.Failed)
	assert.Len(t, result.Outcomes, 1)
	assert.NotContains(t, events.subtypes(), EventError)
}

func ownsTxType() *TypeDescriptor {
	desc := personType()
	desc.OwnsTransaction = true
	return desc
}

func TestImporter_PerRecord(t *testing.T) {
	store := newFakeStore()
	events := &eventRecorder{}
	job := &ImportJob{ID: "j", PeriodicCommit: true, ChunkSize: 2}

	result, err := newTestImporter(store, events).Run(context.Background(), job, ownsTxType(),
		personSource(t, "a;1", "b;oops", "c;3"))
	require.NoError(t, err)

	assert.Equal(t, ModePerRecord, result.Mode)
	assert.Equal(t, []string{"a", "c"}, store.names())
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []EventKind{EventBegin, EventError, EventEnd}, events.subtypes())
	require.Error(t, result.Err())
	assert.Contains(t, result.Err().Error(), "row 2")
}

func TestImporter_PerRecordConflictIsLocal(t *testing.T) {
	store := newFakeStore()
	store.conflictAt[2] = true

	result, err := newTestImporter(store, &eventRecorder{}).Run(context.Background(), &ImportJob{ID: "j"}, ownsTxType(),
		personSource(t, "a;1", "b;2", "c;3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, store.names())
	assert.True(t, IsConflict(result.Outcomes[1].Err()))
}

func TestImporter_PerRecordFatalErrorAborts(t *testing.T) {
	store := newFakeStore()
	store.writeErr = func(rec TypedRecord) error {
		if rec.Values["name"] == "b" {
			return errors.New("disk full")
		}
		return nil
	}

	result, err := newTestImporter(store, &eventRecorder{}).Run(context.Background(), &ImportJob{ID: "j"}, ownsTxType(),
		personSource(t, "a;1", "b;2", "c;3"))
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"a"}, store.names())
	assert.Equal(t, 2, result.Count())
}

func TestImporter_Location(t *testing.T) {
	t.Run("single object", func(t *testing.T) {
		result, err := newTestImporter(newFakeStore(), &eventRecorder{}).Run(context.Background(),
			&ImportJob{ID: "j"}, personType(), personSource(t, "a;1"))
		require.NoError(t, err)
		assert.Equal(t, "/api/csv/Person/p1", result.Location)
	})

	t.Run("several objects", func(t *testing.T) {
		result, err := newTestImporter(newFakeStore(), &eventRecorder{}).Run(context.Background(),
			&ImportJob{ID: "j"}, personType(), personSource(t, "a;1", "b;2"))
		require.NoError(t, err)
		assert.Empty(t, result.Location)
	})
}

func TestImporter_UpdatesExistingRecords(t *testing.T) {
	store := newFakeStore()
	im := newTestImporter(store, &eventRecorder{})

	_, err := im.Run(context.Background(), &ImportJob{ID: "j1"}, personType(), personSource(t, "a;1"))
	require.NoError(t, err)

	result, err := im.Run(context.Background(), &ImportJob{ID: "j2"}, personType(), personSource(t, "a;2", "b;3"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Created)
}

func TestImporter_PreservesInputOrder(t *testing.T) {
	var rows []string
	var want []string
	for i := range 25 {
		name := fmt.Sprintf("r%02d", i)
		rows = append(rows, name+";1")
		want = append(want, name)
	}

	store := newFakeStore()
	store.conflictAt[3] = true
	_, err := newTestImporter(store, &eventRecorder{}).Run(context.Background(), chunkedJob(4), personType(),
		personSource(t, rows...))
	require.NoError(t, err)
	assert.Equal(t, want, store.names())
}

func TestImporter_EventsCarryJobIdentity(t *testing.T) {
	events := &eventRecorder{}
	job := chunkedJob(10)
	job.BytesRead = func() int64 { return 42 }

	result, err := newTestImporter(newFakeStore(), events).Run(context.Background(), job, personType(),
		personSource(t, "a;1"))
	require.NoError(t, err)

	for _, ev := range events.events {
		assert.Equal(t, "job-1", ev.JobID)
		assert.Equal(t, "tester", ev.Username)
		assert.Equal(t, "CSV_IMPORT_STATUS", ev.Type)
	}
	end := events.events[len(events.events)-1]
	assert.Equal(t, EventEnd, end.Subtype)
	assert.Regexp(t, `^\d+\.\d{2}s$`, end.Duration)
	assert.Equal(t, end.Duration, result.Duration)
	assert.Equal(t, int64(42), end.BytesRead)
}
