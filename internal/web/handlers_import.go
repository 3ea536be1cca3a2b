package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkcsv/internal/logging"
)

// handleImport imports the request body and answers with the result once
// the job has finished. The body is streamed into the decoder.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseImportRequest(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	ctx := r.Context()

	result, err := s.service.Import(ctx, req, r.Body)
	if result != nil {
		logging.ForJob(ctx, result.JobID, result.Type).Info("import request done",
			"created", result.Created, "updated", result.Updated, "failed", result.Failed)
	}
	respondImport(w, r, result, err)
}

// handleStartImport spools the body to a temporary file and starts an
// asynchronous job on it. The job outlives the request, so it cannot read
// the request body directly.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseImportRequest(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	spool, size, err := spoolBody(r.Body)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	req.Size = size

	jobID, err := s.service.StartImport(r.Context(), req, spool)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	logging.ForJob(r.Context(), jobID, req.TypeName).Info("import accepted", "bytes", size)
	w.Header().Set("Location", "/api/imports/"+jobID+"/result")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":    jobID,
		"progress": "/api/imports/" + jobID + "/progress",
		"result":   "/api/imports/" + jobID + "/result",
	})
}

// spoolFile is a temporary copy of a request body, removed on Close.
type spoolFile struct {
	*os.File
}

func (f spoolFile) Close() error {
	err := f.File.Close()
	if rmErr := os.Remove(f.Name()); err == nil {
		err = rmErr
	}
	return err
}

func spoolBody(body io.Reader) (io.ReadCloser, int64, error) {
	f, err := os.CreateTemp("", "bulkcsv-import-*.csv")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool file: %w", err)
	}
	spool := spoolFile{f}

	size, err := io.Copy(f, body)
	if err != nil {
		spool.Close()
		return nil, 0, fmt.Errorf("spool request body: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		spool.Close()
		return nil, 0, fmt.Errorf("rewind spool file: %w", err)
	}
	return spool, size, nil
}

// handleImportProgress streams a job's progress events via Server-Sent
// Events. The stream ends with a "complete" event when the job is done.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	events, unsubscribe, err := s.service.SubscribeProgress(jobID)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Warn("progress stream cannot flush", "error", err)
	}

	// Event ids count events sent on this stream.
	eventID := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			eventID++
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult waits for a job to finish and returns its result.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	result, err := s.service.Result(r.Context(), jobID)
	respondImport(w, r, result, err)
}

// handleImportStatus returns a job's state without waiting.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCancelImport cancels a running job. The chunk in flight is rolled back.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.service.CancelImport(jobID); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	logging.FromContext(r.Context()).Info("import cancelled", "job_id", jobID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleImportQueueStatus returns the current state of the import limiter.
// Used for monitoring and to check if the system can accept more imports.
func (s *Server) handleImportQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}
