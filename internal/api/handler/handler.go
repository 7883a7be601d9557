package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	core "recordstore.service/internal/core"
	"recordstore.service/internal/core/model"
	"recordstore.service/internal/core/store"
	"recordstore.service/internal/ports/storage"
)

// maxPhotoBytes caps photo uploads at 8 MiB.
const maxPhotoBytes = 8 << 20

// RecordHandler exposes the reconciled attendance view over HTTP. The
// handler is a stateless renderer of whatever the view service projects.
type RecordHandler struct {
	Service     *core.ViewService
	Uploader    storage.Uploader
	PhotoBucket string
}

type listResponse struct {
	Records []model.CanonicalRecord `json:"records"`
	Count   int                     `json:"count"`
}

// ListRecords renders the projected view, filtered by query parameters:
// search, status (repeatable), from, to (RFC3339).
func (h *RecordHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records := h.Service.List(criteria)
	writeJSON(w, http.StatusOK, listResponse{Records: records, Count: len(records)})
}

type recordRequest struct {
	SubjectID string  `json:"subjectId"`
	Status    *string `json:"status"`
	CheckIn   *string `json:"checkIn"`
	CheckOut  *string `json:"checkOut"`
}

// CreateRecord inserts a record optimistically. A store rejection still
// returns the temporary identity: the edit is parked, not lost.
func (h *RecordHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SubjectID == "" {
		http.Error(w, "subjectId is required", http.StatusBadRequest)
		return
	}

	fields, err := fieldsFromRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	identity, err := h.Service.Create(r.Context(), req.SubjectID, fields)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"identity": identity,
			"error":    "store rejected the create; the record is retained locally with a failure flag",
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"identity": identity})
}

// UpdateRecord applies an inline edit. On rejection the submitted values
// stay visible with a failure flag; the error is surfaced inline, not as a
// blocking failure.
func (h *RecordHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["id"]

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	fields, err := fieldsFromRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(fields) == 0 {
		http.Error(w, "no fields to update", http.StatusBadRequest)
		return
	}

	if err := h.Service.SubmitEdit(r.Context(), identity, fields); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"identity": identity,
			"error":    "store rejected the edit; submitted values are retained with a failure flag",
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRecord removes a record from the store and the view.
func (h *RecordHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["id"]
	if err := h.Service.Remove(r.Context(), identity); err != nil {
		http.Error(w, "Service error deleting record", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh is the retry-on-demand path for transient fetch failures.
func (h *RecordHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Refresh(r.Context()); err != nil {
		// Dismissible-banner semantics: report, do not clear anything.
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "refresh failed, showing last known state"})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UploadPhoto stores a record's photo and returns its public URL.
func (h *RecordHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	if h.Uploader == nil {
		http.Error(w, "photo storage not configured", http.StatusNotImplemented)
		return
	}
	identity := mux.Vars(r)["id"]

	data, err := io.ReadAll(io.LimitReader(r.Body, maxPhotoBytes+1))
	if err != nil || len(data) == 0 {
		http.Error(w, "empty or unreadable body", http.StatusBadRequest)
		return
	}
	if len(data) > maxPhotoBytes {
		http.Error(w, "photo too large", http.StatusRequestEntityTooLarge)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	path := fmt.Sprintf("records/%s/photo-%d", identity, time.Now().UTC().UnixNano())
	url, err := h.Uploader.Upload(r.Context(), h.PhotoBucket, path, data, contentType)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("identity", identity).Msg("Photo upload failed")
		http.Error(w, "upload failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

func criteriaFromQuery(r *http.Request) (store.Criteria, error) {
	q := r.URL.Query()
	c := store.Criteria{Search: q.Get("search")}

	for _, s := range q["status"] {
		status, ok := model.ParseStatus(s)
		if !ok {
			return store.Criteria{}, fmt.Errorf("unknown status %q", s)
		}
		c.Statuses = append(c.Statuses, status)
	}

	var err error
	if c.From, err = queryTime(q.Get("from")); err != nil {
		return store.Criteria{}, fmt.Errorf("invalid from: %w", err)
	}
	if c.To, err = queryTime(q.Get("to")); err != nil {
		return store.Criteria{}, fmt.Errorf("invalid to: %w", err)
	}
	return c, nil
}

func queryTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	u := t.UTC()
	return &u, nil
}

// fieldsFromRequest converts request fields to overrides. Client input is
// validated strictly, unlike store rows which the normalizer absorbs.
func fieldsFromRequest(req recordRequest) (model.Fields, error) {
	fields := model.Fields{}
	if req.Status != nil {
		status, ok := model.ParseStatus(*req.Status)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", *req.Status)
		}
		fields[model.FieldStatus] = status
	}
	if req.CheckIn != nil {
		t, err := queryTime(*req.CheckIn)
		if err != nil {
			return nil, fmt.Errorf("invalid checkIn: %w", err)
		}
		fields[model.FieldCheckIn] = t
	}
	if req.CheckOut != nil {
		t, err := queryTime(*req.CheckOut)
		if err != nil {
			return nil, fmt.Errorf("invalid checkOut: %w", err)
		}
		fields[model.FieldCheckOut] = t
	}
	return fields, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
