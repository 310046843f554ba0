package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"PulseCampaign/internal/csvparser"
	"PulseCampaign/internal/db"
	"PulseCampaign/internal/dispatch"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/tracking"
)

type Store interface {
	CreateCampaign(ctx context.Context, c *models.Campaign, recipients []models.Recipient) error
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.CampaignSummary, error)
	CampaignStats(ctx context.Context, id int64) (models.CampaignStats, error)
	ListRecipients(ctx context.Context, campaignID int64) ([]models.Recipient, error)
	DeleteCampaign(ctx context.Context, id int64) error
	ReportRows(ctx context.Context, campaignID int64) ([]models.ReportRow, error)
}

type Dispatcher interface {
	Start(ctx context.Context, campaignID int64, now time.Time) (models.CampaignStatus, error)
	SweepDue(ctx context.Context, now time.Time) (int, error)
}

type Handler struct {
	Store      Store
	Dispatcher Dispatcher
	Tracker    *tracking.Recorder
	Log        *zap.Logger
	Now        func() time.Time
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /campaigns", h.CreateCampaign)
	mux.HandleFunc("GET /campaigns", h.ListCampaigns)
	mux.HandleFunc("GET /campaigns/{id}", h.GetCampaign)
	mux.HandleFunc("POST /campaigns/{id}/start", h.StartCampaign)
	mux.HandleFunc("DELETE /campaigns/{id}", h.DeleteCampaign)
	mux.HandleFunc("GET /campaigns/{id}/report", h.CampaignReport)
	mux.HandleFunc("GET /report", h.CampaignReport)

	mux.HandleFunc("GET /track/open/{id}", h.TrackOpen)
	mux.HandleFunc("GET /track/replied/{id}", h.TrackReplied)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

type senderRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type recipientRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=200"`
	DOB   string `json:"dob"`
}

type createCampaignRequest struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Subject     string     `json:"subject" validate:"required,max=500"`
	Body        string     `json:"body" validate:"required"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	BatchSize   int        `json:"batch_size" validate:"omitempty,min=1"`
	BatchDelay  *int       `json:"batch_delay" validate:"omitempty,min=0"`

	Sender senderRequest `json:"sender"`

	Recipients   []recipientRequest `json:"recipients" validate:"dive"`
	CSV          string             `json:"csv"`
	Columns      csvparser.Columns  `json:"columns"`
	ManualEmails string             `json:"manual_emails"`
}

func (req createCampaignRequest) recipients() ([]models.Recipient, error) {
	explicit := make([]models.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		rec := models.Recipient{Email: strings.TrimSpace(r.Email), Name: strings.TrimSpace(r.Name)}
		if dob, ok := csvparser.ParseDOB(r.DOB); ok {
			rec.DOB = &dob
		}
		explicit = append(explicit, rec)
	}

	var fromCSV []models.Recipient
	if strings.TrimSpace(req.CSV) != "" {
		rows, err := csvparser.ParseRecipients(strings.NewReader(req.CSV), req.Columns, 0)
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		fromCSV = rows
	}

	return csvparser.Dedupe(explicit, fromCSV, csvparser.ParseManual(req.ManualEmails)), nil
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := validateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recipients, err := req.recipients()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(recipients) == 0 {
		writeError(w, http.StatusBadRequest, "no valid recipients")
		return
	}

	c := models.Campaign{
		Name:        req.Name,
		Subject:     req.Subject,
		Body:        req.Body,
		Status:      models.CampaignDraft,
		ScheduledAt: req.ScheduledAt,
		BatchSize:   req.BatchSize,
		BatchDelay:  models.DefaultBatchDelay,
		Sender: models.Credentials{
			Address: req.Sender.Email,
			Secret:  req.Sender.Password,
		},
	}
	if req.BatchDelay != nil {
		c.BatchDelay = *req.BatchDelay
	}

	if err := h.Store.CreateCampaign(r.Context(), &c, recipients); err != nil {
		h.Log.Error("failed to create campaign", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	h.Log.Info("campaign created",
		zap.Int64("campaign_id", c.ID),
		zap.Int("recipients", len(recipients)),
	)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         c.ID,
		"status":     c.Status,
		"recipients": len(recipients),
	})
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Dispatcher.SweepDue(r.Context(), h.now()); err != nil {
		h.Log.Warn("due check failed", zap.Error(err))
	}

	campaigns, err := h.Store.ListCampaigns(r.Context())
	if err != nil {
		h.Log.Error("failed to list campaigns", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []models.CampaignSummary{}
	}

	writeJSON(w, http.StatusOK, campaigns)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.Store.GetCampaign(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	stats, err := h.Store.CampaignStats(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	recipients, err := h.Store.ListRecipients(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign":   c,
		"stats":      stats,
		"recipients": recipients,
	})
}

func (h *Handler) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	status, err := h.Dispatcher.Start(r.Context(), id, h.now())
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	case errors.Is(err, dispatch.ErrNotEligible):
		writeError(w, http.StatusConflict, fmt.Sprintf("campaign is %s", status))
		return
	case errors.Is(err, dispatch.ErrNoCredentials):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		h.Log.Error("failed to start campaign", zap.Int64("campaign_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "campaign could not be queued")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     id,
		"status": status,
	})
}

func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteCampaign(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}

	h.Log.Info("campaign deleted", zap.Int64("campaign_id", id))
	w.WriteHeader(http.StatusNoContent)
}

var reportHeader = []string{
	"Campaign Name", "Subject", "Recipient Email", "Status", "Sent At", "Opens", "Replies", "Created At",
}

const reportTimeLayout = "2006-01-02 15:04:05"

// CampaignReport streams the delivery report as CSV, for one campaign or,
// on /report, for all of them.
func (h *Handler) CampaignReport(w http.ResponseWriter, r *http.Request) {
	var id int64
	filename := "all_campaigns_report.csv"

	if r.PathValue("id") != "" {
		var ok bool
		if id, ok = pathID(w, r); !ok {
			return
		}
		if _, err := h.Store.GetCampaign(r.Context(), id); err != nil {
			h.storeError(w, err)
			return
		}
		filename = fmt.Sprintf("report_campaign_%d.csv", id)
	}

	rows, err := h.Store.ReportRows(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(reportHeader)
	for _, row := range rows {
		sentAt := "N/A"
		if row.SentAt != nil {
			sentAt = row.SentAt.Format(reportTimeLayout)
		}
		_ = cw.Write([]string{
			row.CampaignName,
			row.Subject,
			row.Email,
			string(row.Status),
			sentAt,
			strconv.Itoa(row.Opens),
			strconv.Itoa(row.Replies),
			row.CreatedAt.Format(reportTimeLayout),
		})
	}
	cw.Flush()

	if err := cw.Error(); err != nil {
		h.Log.Warn("report write failed", zap.Error(err))
	}
}

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	h.Log.Error("store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
