// Package core provides the business logic for bulk CSV exchange.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// FieldType represents the semantic type of a record field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldInteger
	FieldBool
	FieldStringArray
	FieldReference
	FieldReferenceList
)

// String returns the lowercase name of the field type.
func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldInteger:
		return "integer"
	case FieldBool:
		return "bool"
	case FieldStringArray:
		return "string[]"
	case FieldReference:
		return "reference"
	case FieldReferenceList:
		return "reference[]"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// DefaultDateFormat is the store's canonical date layout when a field does not declare one.
const DefaultDateFormat = "2006-01-02T15:04:05-0700"

// FieldSpec defines parsing and storage rules for a single record field.
type FieldSpec struct {
	Name       string              // Canonical field name (header column name)
	DBColumn   string              // Database column name (if different from Name, otherwise derived)
	Type       FieldType           // Expected data type
	Required   bool                // Value must be present on import
	AllowEmpty bool                // If true, empty values are allowed even when Required
	EnumValues []string            // Valid values for FieldEnum type
	DateFormat string              // Layout for FieldDate (DefaultDateFormat if empty)
	RefType    string              // Target type for FieldReference / FieldReferenceList
	Normalizer func(string) string // Optional transformation applied before parsing
}

// Column returns the database column for the field.
func (f FieldSpec) Column() string {
	if f.DBColumn != "" {
		return f.DBColumn
	}
	return toDBColumnName(f.Name)
}

// TypeDescriptor describes a record type known to the store.
type TypeDescriptor struct {
	Name     string // Type name used in URLs and progress events: "Customer"
	Table    string // Backing table
	KeyField string // Field used to match existing records on import; empty means always create

	// ExtraColumn, when set, is a JSON column that keeps header columns the
	// type does not declare. Without it such columns are dropped by the store.
	ExtraColumn string

	FieldSpecs []FieldSpec
	Views      map[string][]string // Named, ordered field subsets used for export

	// OwnsTransaction marks types whose writes create and commit their own
	// transaction. The coordinator then imports them one row at a time.
	OwnsTransaction bool
}

// Field returns the spec for name, matched case-insensitively.
func (d *TypeDescriptor) Field(name string) (FieldSpec, bool) {
	for _, spec := range d.FieldSpecs {
		if strings.EqualFold(spec.Name, name) {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// FieldNames returns all declared field names in declaration order.
func (d *TypeDescriptor) FieldNames() []string {
	names := make([]string, len(d.FieldSpecs))
	for i, spec := range d.FieldSpecs {
		names[i] = spec.Name
	}
	return names
}

// DateFormat returns the layout used to render and parse the named date field.
func (d *TypeDescriptor) DateFormat(field string) string {
	if spec, ok := d.Field(field); ok && spec.DateFormat != "" {
		return spec.DateFormat
	}
	return DefaultDateFormat
}

// Reference points at another record by id.
type Reference struct {
	Type string
	ID   string
}

// String returns the textual form used when a reference is serialized.
func (r Reference) String() string {
	return r.ID
}

// ObjectRef identifies a record written by the store.
type ObjectRef struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Location returns the API path of the referenced object.
func (o ObjectRef) Location() string {
	return "/api/csv/" + o.Type + "/" + o.ID
}

// RawRow is one decoded input record before type conversion.
// Columns is shared by every row of a stream and must not be modified.
type RawRow struct {
	Index   int      // 1-based data row number (header excluded)
	Line    int      // 1-based source line the row starts on
	Columns []string // Canonical column names, in header order
	Values  []string // Raw values aligned with Columns
	Text    string   // Source text of the row, without the line terminator
}

// Get returns the raw value of the named column.
func (r RawRow) Get(name string) (string, bool) {
	for i, col := range r.Columns {
		if col == name {
			if i < len(r.Values) {
				return r.Values[i], true
			}
			return "", false
		}
	}
	return "", false
}

// Map returns the row as a field name to raw value map.
func (r RawRow) Map() map[string]string {
	m := make(map[string]string, len(r.Columns))
	for i, col := range r.Columns {
		if i < len(r.Values) {
			m[col] = r.Values[i]
		}
	}
	return m
}

// TypedRecord is a record whose fields hold typed values: string, float64,
// int64, bool, time.Time, []string, Reference or []Reference. A missing key
// or nil value means the field is absent.
type TypedRecord struct {
	Type   string
	ID     string
	Values map[string]any
}

// CommitMode selects how the coordinator groups rows into transactions.
type CommitMode string

const (
	ModeSingle    CommitMode = "single"
	ModePerRecord CommitMode = "per-record"
	ModeChunked   CommitMode = "chunked"
)

// DefaultChunkSize is the periodic commit interval when none is given.
const DefaultChunkSize = 1000

// ImportJob describes one import operation. It lives for the duration of
// the operation and each job carries its own copy of the format options.
type ImportJob struct {
	ID       string
	TypeName string
	Username string

	Separator      rune
	Quote          rune
	PeriodicCommit bool
	ChunkSize      int
	Range          string

	// StreamChunks reads chunks incrementally instead of materializing the
	// whole input first. Chunk events then report a total of 0.
	StreamChunks bool

	// MaxConflictRetries bounds retries of one unit of work. 0 means unbounded.
	MaxConflictRetries int

	// BytesRead, when set, reports input consumed so far for progress events.
	BytesRead func() int64

	processed atomic.Int64
}

// Processed returns the number of rows committed so far.
func (j *ImportJob) Processed() int64 {
	return j.processed.Load()
}

// Mode returns the committing mode for the job against the given type.
// Types that own their transaction always import row by row.
func (j *ImportJob) Mode(desc *TypeDescriptor) CommitMode {
	switch {
	case desc.OwnsTransaction:
		return ModePerRecord
	case j.PeriodicCommit:
		return ModeChunked
	default:
		return ModeSingle
	}
}

func (j *ImportJob) chunkSize() int {
	if j.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return j.ChunkSize
}

// Chunk is a bounded, ordered group of rows committed in one transaction.
type Chunk struct {
	Seq   int // 1-based
	Total int // 0 when unknown
	Rows  []RawRow
}

// RowOutcome is the result of applying one row.
type RowOutcome struct {
	Row     int        `json:"row"`
	Ref     *ObjectRef `json:"ref,omitempty"`
	Error   string     `json:"error,omitempty"`
	RowText string     `json:"rowText,omitempty"`

	err error
}

// Err returns the row's error, if any.
// A result read back from JSON only has the message.
func (o RowOutcome) Err() error {
	if o.err == nil && o.Error != "" {
		return errors.New(o.Error)
	}
	return o.err
}

// ImportResult accumulates row outcomes for a job.
type ImportResult struct {
	JobID    string       `json:"jobId"`
	Type     string       `json:"type"`
	Mode     CommitMode   `json:"mode"`
	Outcomes []RowOutcome `json:"outcomes"`
	Created  int          `json:"created"`
	Updated  int          `json:"updated"`
	Failed   int          `json:"failed"`
	Chunks   int          `json:"chunks"`
	Retries  int          `json:"retries"`
	Location string       `json:"location,omitempty"`
	Duration string       `json:"duration"`        // Seconds, as in END events
	Error    string       `json:"error,omitempty"` // Non-empty if the job was aborted
}

// Count returns the number of rows with an outcome.
func (r *ImportResult) Count() int {
	return len(r.Outcomes)
}

// Succeeded returns the number of rows that were created or updated.
func (r *ImportResult) Succeeded() int {
	return r.Created + r.Updated
}

// Err returns all row errors combined, or nil.
func (r *ImportResult) Err() error {
	var errs *multierror.Error
	for _, o := range r.Outcomes {
		if err := o.Err(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (r *ImportResult) add(outcomes ...RowOutcome) {
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			r.Failed++
		case o.Ref != nil && o.Ref.Created:
			r.Created++
		case o.Ref != nil:
			r.Updated++
		}
		r.Outcomes = append(r.Outcomes, o)
	}
}

// finalize sets Location only when exactly one object was written; a
// response for several objects cannot point at one of them.
func (r *ImportResult) finalize() {
	r.Location = ""
	if r.Succeeded() != 1 {
		return
	}
	for _, o := range r.Outcomes {
		if o.err == nil && o.Ref != nil {
			r.Location = o.Ref.Location()
			return
		}
	}
}

// EventKind is the subtype of a progress event.
type EventKind string

const (
	EventBegin EventKind = "BEGIN"
	EventChunk EventKind = "CHUNK"
	EventEnd   EventKind = "END"
	EventError EventKind = "ERROR"
)

const (
	statusMessageType = "CSV_IMPORT_STATUS"
	errorMessageType  = "CSV_IMPORT_ERROR"
)

// ProgressEvent is a job lifecycle notification broadcast to the progress sink.
type ProgressEvent struct {
	Type         string        `json:"type"`
	Subtype      EventKind     `json:"subtype"`
	JobID        string        `json:"jobId"`
	Username     string        `json:"username"`
	CurrentChunk int           `json:"currentChunkNo,omitempty"`
	TotalChunks  int           `json:"totalChunkNo,omitempty"`
	Duration     string        `json:"duration,omitempty"`
	Elapsed      time.Duration `json:"-"`
	Title        string        `json:"title,omitempty"`
	Text         string        `json:"text,omitempty"`
	BytesRead    int64         `json:"bytesRead,omitempty"`
	Time         time.Time     `json:"time"`
}

// ProgressSink receives progress events. Publish must not block; losing
// an event is acceptable.
type ProgressSink interface {
	Publish(ProgressEvent)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ProgressEvent)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev ProgressEvent) {
	f(ev)
}

// Writer writes a single record and returns the stored object.
type Writer interface {
	Write(ctx context.Context, desc *TypeDescriptor, rec TypedRecord) (ObjectRef, error)
}

// Tx is a store transaction. Rollback after Commit is a no-op.
type Tx interface {
	Writer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the transactional record store used by imports.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	// AutoCommit returns a writer whose writes commit individually.
	AutoCommit() Writer
}

// RecordSource streams stored records of a type for export.
type RecordSource interface {
	Records(ctx context.Context, desc *TypeDescriptor) iter.Seq2[TypedRecord, error]
	// Record returns one record by the id of its ObjectRef, or ErrNoRecord.
	Record(ctx context.Context, desc *TypeDescriptor, id string) (TypedRecord, error)
}

// DataStore is the full store surface used by the Service.
type DataStore interface {
	Store
	RecordSource
}

// ViewResolver returns the ordered field names of a type's named view.
type ViewResolver interface {
	FieldsForView(typeName, view string) ([]string, error)
}

// DateFormatter is optionally implemented by a ViewResolver to supply the
// date layout of a field.
type DateFormatter interface {
	DateFormat(typeName, field string) string
}
