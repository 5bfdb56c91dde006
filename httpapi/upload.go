package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/queue"
)

var allowedImageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".bmp": true,
}

func classifyUpload(filename string) (domain.MimeClass, bool) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".pdf") {
		return domain.MimePDF, true
	}
	for ext := range allowedImageExt {
		if strings.HasSuffix(lower, ext) {
			return domain.MimeImage, true
		}
	}
	return "", false
}

// handleUpload implements POST /api/upload: multipart file intake,
// classification, a worker-reachability check, and PENDING job creation
// with the file content encrypted and the pipeline/OCR configuration
// snapshots stored alongside it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, core.NewDomainError(core.KindValidation, "file too large or malformed multipart body", nil))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, core.NewDomainError(core.KindValidation, "missing file field", nil))
		return
	}
	defer file.Close()

	if header.Size > MaxUploadBytes {
		writeError(w, core.NewDomainError(core.KindValidation, "file exceeds maximum allowed size", map[string]interface{}{
			"max_bytes": MaxUploadBytes,
		}))
		return
	}

	mimeClass, ok := classifyUpload(header.Filename)
	if !ok {
		writeError(w, core.NewDomainError(core.KindValidation, "unsupported file type", map[string]interface{}{"filename": header.Filename}))
		return
	}

	reachable, err := s.Registry.AnyReachable(ctx, queue.QueueOCR)
	if err != nil {
		writeError(w, err)
		return
	}
	if !reachable {
		writeError(w, core.NewDomainError(core.KindServiceUnavailable, "no worker is currently reachable", nil))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, core.WrapDomainError(core.KindInternal, "reading uploaded file", err))
		return
	}

	steps, err := s.enabledSteps(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	ocrCfg, err := s.activeOCRConfiguration(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	pipelineSnapshot, _ := json.Marshal(steps)
	ocrSnapshot, _ := json.Marshal(ocrCfg)

	targetLanguage := r.FormValue("target_language")

	processingID, err := s.Manager.CreateJob(ctx, header.Filename, mimeClass, content, targetLanguage, pipelineSnapshot, ocrSnapshot)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"processing_id": processingID,
		"filename":      header.Filename,
		"file_type":     mimeClass,
		"file_size":     header.Size,
		"status":        domain.JobPending,
	})
}

type processRequest struct {
	TargetLanguage string `json:"target_language"`
}

// handleProcess implements POST /api/process/{processing_id}: optionally
// overrides the target language, then enqueues the job.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	processingID := chi.URLParam(r, "processingID")

	var req processRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, core.NewDomainError(core.KindValidation, "malformed request body", nil))
			return
		}
	}

	ctx := r.Context()
	if req.TargetLanguage != "" {
		if err := s.Jobs.UpdateTargetLanguage(ctx, processingID, req.TargetLanguage); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.Manager.Enqueue(ctx, processingID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"processing_id": processingID,
		"status":        domain.JobQueued,
	})
}

// handleStatus implements GET /api/process/{processing_id}/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.Manager.GetStatus(r.Context(), chi.URLParam(r, "processingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleResult implements GET /api/process/{processing_id}/result, 409 if
// the job has not reached a completed/terminated state.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.Manager.GetResult(r.Context(), chi.URLParam(r, "processingID"))
	if err != nil {
		if de, ok := err.(*core.DomainError); ok && de.Kind == core.KindValidation {
			writeJSON(w, http.StatusConflict, envelope{Error: &envelopeError{
				Code: string(core.KindValidation), Message: de.Message,
			}})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleActive implements GET /api/process/active.
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Jobs.ActiveJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": jobs})
}
