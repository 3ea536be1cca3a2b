package web

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/JonMunkholm/bulkcsv/internal/core"
	"github.com/JonMunkholm/bulkcsv/internal/logging"
)

// flushingWriter lets the encoder flush each line through middleware
// wrappers and remembers whether the response has started.
type flushingWriter struct {
	http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func (w *flushingWriter) Write(p []byte) (int, error) {
	w.started = true
	return w.ResponseWriter.Write(p)
}

func (w *flushingWriter) Flush() error {
	return w.rc.Flush()
}

// handleExport streams every record of a type as delimited text, or the
// single record named by {id}. Lines are flushed as they are written, so a
// failure part way leaves the client with the lines sent so far.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseExportRequest(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, strings.ToLower(req.TypeName)))

	fw := &flushingWriter{ResponseWriter: w, rc: http.NewResponseController(w)}
	n, err := s.service.Export(r.Context(), fw, req)
	if err == nil {
		return
	}

	if !fw.started {
		w.Header().Del("Content-Disposition")
		respondError(w, r, err, statusFor(err))
		return
	}

	logger := logging.FromContext(r.Context())
	if errors.Is(err, r.Context().Err()) || core.IsTransportError(err) {
		logger.Info("export ended by client", "type", req.TypeName, "rows", n, "error", err)
		return
	}
	logger.Error("export failed after output started", "type", req.TypeName, "rows", n, "error", err)
}

// FieldInfo describes one field of a record type.
type FieldInfo struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Values   []string `json:"values,omitempty"`
	RefType  string   `json:"refType,omitempty"`
}

// TypeInfo describes a record type for API clients.
type TypeInfo struct {
	Name            string              `json:"name"`
	KeyField        string              `json:"keyField,omitempty"`
	OwnsTransaction bool                `json:"ownsTransaction,omitempty"`
	Fields          []FieldInfo         `json:"fields"`
	Views           map[string][]string `json:"views"`
}

// describeType lists a type's fields and views, including the implicit "all" view.
func describeType(desc *core.TypeDescriptor) TypeInfo {
	info := TypeInfo{
		Name:            desc.Name,
		KeyField:        desc.KeyField,
		OwnsTransaction: desc.OwnsTransaction,
		Fields:          make([]FieldInfo, 0, len(desc.FieldSpecs)),
		Views:           make(map[string][]string, len(desc.Views)+1),
	}
	for _, spec := range desc.FieldSpecs {
		info.Fields = append(info.Fields, FieldInfo{
			Name:     spec.Name,
			Type:     spec.Type.String(),
			Required: spec.Required && !spec.AllowEmpty,
			Values:   spec.EnumValues,
			RefType:  spec.RefType,
		})
	}

	views := make([]string, 0, len(desc.Views))
	for name := range desc.Views {
		views = append(views, name)
	}
	views = append(views, core.DefaultView, core.AllFieldsView)
	sort.Strings(views)
	for _, name := range views {
		if fields, err := desc.FieldsForView(name); err == nil {
			info.Views[name] = fields
		}
	}
	return info
}

// handleListTypes returns all importable record types.
func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	types := s.service.Types()
	out := make([]TypeInfo, len(types))
	for i, desc := range types {
		out[i] = describeType(desc)
	}
	writeJSON(w, http.StatusOK, out)
}
