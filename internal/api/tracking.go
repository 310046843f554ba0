package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"PulseCampaign/internal/metrics"
	"PulseCampaign/internal/models"
)

// transparent 1x1 GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

const repliedPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Thank you</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 60px;">
  <h1 style="color: #6366f1;">Thank you!</h1>
  <p>Your response has been recorded. You can close this window.</p>
</body>
</html>`

// TrackOpen always answers with the pixel; the open is recorded once per
// recipient and unknown ids are ignored.
func (h *Handler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	h.record(r, models.EventOpen)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
}

func (h *Handler) TrackReplied(w http.ResponseWriter, r *http.Request) {
	h.record(r, models.EventReplied)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(repliedPage))
}

func (h *Handler) record(r *http.Request, typ models.EventType) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return
	}

	var recorded bool
	switch typ {
	case models.EventOpen:
		recorded, err = h.Tracker.Opened(r.Context(), id)
	case models.EventReplied:
		recorded, err = h.Tracker.Replied(r.Context(), id)
	}
	if err != nil {
		h.Log.Warn("failed to record tracking event",
			zap.Int64("recipient_id", id),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
		return
	}

	if recorded {
		metrics.TrackingEvents.WithLabelValues(string(typ)).Inc()
		h.Log.Debug("tracking event recorded",
			zap.Int64("recipient_id", id),
			zap.String("type", string(typ)),
		)
	}
}
