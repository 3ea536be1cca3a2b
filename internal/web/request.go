package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

// Request metadata understood by the import endpoints.
const (
	HeaderSeparator      = "X-CSV-Field-Separator"
	HeaderQuote          = "X-CSV-Quote-Character"
	HeaderPeriodicCommit = "X-CSV-Periodic-Commit"
	HeaderCommitInterval = "X-CSV-Periodic-Commit-Interval"
	HeaderRange          = "X-CSV-Range"
	HeaderStreamChunks   = "X-CSV-Stream-Chunks"
)

// parseImportRequest builds an import request from the URL and the X-CSV
// headers, falling back to the configured defaults.
func (s *Server) parseImportRequest(r *http.Request) (core.ImportRequest, error) {
	defaults := s.cfg.Import
	req := core.ImportRequest{
		TypeName:       chi.URLParam(r, "type"),
		Username:       core.UserFromContext(r.Context()),
		Separator:      defaults.SeparatorRune(),
		Quote:          defaults.QuoteRune(),
		PeriodicCommit: defaults.PeriodicCommit,
		ChunkSize:      defaults.CommitInterval,
		Range:          strings.TrimSpace(r.Header.Get(HeaderRange)),
		StreamChunks:   defaults.StreamChunks,
		Size:           r.ContentLength,
	}

	var err error
	if req.Separator, err = runeHeader(r, HeaderSeparator, req.Separator); err != nil {
		return req, err
	}
	if req.Quote, err = runeHeader(r, HeaderQuote, req.Quote); err != nil {
		return req, err
	}
	if req.PeriodicCommit, err = boolHeader(r, HeaderPeriodicCommit, req.PeriodicCommit); err != nil {
		return req, err
	}
	if req.StreamChunks, err = boolHeader(r, HeaderStreamChunks, req.StreamChunks); err != nil {
		return req, err
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderCommitInterval)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, &core.OptionError{Option: HeaderCommitInterval, Err: fmt.Errorf("must be a positive number, got %q", v)}
		}
		req.ChunkSize = n
	}
	return req, nil
}

func runeHeader(r *http.Request, name string, def rune) (rune, error) {
	v := r.Header.Get(name)
	if v == "" {
		return def, nil
	}
	if utf8.RuneCountInString(v) != 1 {
		return 0, &core.OptionError{Option: name, Err: fmt.Errorf("must be a single character, got %q", v)}
	}
	c, _ := utf8.DecodeRuneInString(v)
	return c, nil
}

func boolHeader(r *http.Request, name string, def bool) (bool, error) {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" {
		return def, nil
	}
	b, ok := core.ParseBool(v)
	if !ok {
		return false, &core.OptionError{Option: name, Err: fmt.Errorf("must be true or false, got %q", v)}
	}
	return b, nil
}

// parseExportRequest reads the export options from the query string.
// Flags are on when set to a true value such as "1".
func (s *Server) parseExportRequest(r *http.Request) (core.ExportRequest, error) {
	q := r.URL.Query()
	defaults := s.cfg.Export
	opts := core.ExportOptions{
		Separator:       defaults.SeparatorRune(),
		View:            defaults.View,
		StripLineBreaks: defaults.StripLineBreaks,
		WriteBOM:        defaults.WriteBOM,
	}

	if v := q.Get("view"); v != "" {
		opts.View = v
	}
	if v := q.Get("separator"); v != "" {
		if utf8.RuneCountInString(v) != 1 {
			return core.ExportRequest{}, &core.OptionError{Option: "separator", Err: fmt.Errorf("must be a single character, got %q", v)}
		}
		opts.Separator, _ = utf8.DecodeRuneInString(v)
	}

	var err error
	if opts.StripLineBreaks, err = boolParam(q.Get("nolinebreaks"), "nolinebreaks", opts.StripLineBreaks); err != nil {
		return core.ExportRequest{}, err
	}
	if opts.WriteBOM, err = boolParam(q.Get("bom"), "bom", opts.WriteBOM); err != nil {
		return core.ExportRequest{}, err
	}

	return core.ExportRequest{
		TypeName: chi.URLParam(r, "type"),
		ID:       chi.URLParam(r, "id"),
		Options:  opts,
	}, nil
}

func boolParam(v, name string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	b, ok := core.ParseBool(v)
	if !ok {
		return false, &core.OptionError{Option: name, Err: fmt.Errorf("must be 1 or 0, got %q", v)}
	}
	return b, nil
}
