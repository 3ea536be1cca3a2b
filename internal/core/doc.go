// Package core provides the business logic for bulk CSV exchange.
//
// This package moves record sets between a delimited-text wire format and
// a transactional record store. It has no transport dependencies and can be
// used by web handlers, CLI tools, or tests without modification.
//
// # Types
//
// Record types are registered at init time using [Register]. Each
// [TypeDescriptor] lists its fields with their parsers, named views for
// export, the key used to match existing records, and whether the type
// creates its own transaction:
//
//	core.Register(core.TypeDescriptor{
//	    Name:     "Customer",
//	    KeyField: "Code",
//	    FieldSpecs: []core.FieldSpec{
//	        {Name: "Code", Type: core.FieldText, Required: true},
//	        {Name: "Balance", Type: core.FieldNumeric},
//	    },
//	    Views: map[string][]string{"public": {"Code", "Balance"}},
//	})
//
// # Import
//
// The [Decoder] pulls rows from the input one at a time. The [Importer]
// groups them by commit mode and applies each row with [Apply]:
//
//  1. single: one transaction for the whole input, restarted on conflict
//  2. chunked: one transaction per chunk of [ImportJob.ChunkSize] rows, each
//     chunk restarted on conflict from its first row
//  3. per-record: for types with OwnsTransaction, every row commits on its own
//
// Progress is published as [ProgressEvent] values (BEGIN, CHUNK, END and
// ERROR) to a [ProgressSink]; [ProgressHub] fans them out to subscribers.
//
// # Export
//
// [Export] resolves the view of the first record's type, writes a quoted
// header and one quoted line per record, and flushes after every line.
// Values are rendered by [EncodeValue].
//
// # Error Handling
//
// A lost write race is a [ConflictError] and never escapes the importer.
// [ValidationError] is fatal to its row and to the enclosing transaction,
// [FormatError] to the whole job, and [TransportError] to an export.
// [MapError] turns any of them into a coded [UserMessage].
package core
