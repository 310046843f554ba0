package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"PulseCampaign/internal/db"
	"PulseCampaign/internal/dispatch"
	"PulseCampaign/internal/email/emailtest"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/tracking"
	"PulseCampaign/internal/worker"
)

type testServer struct {
	store *db.MemStore
	queue *worker.Queue
	srv   *httptest.Server
	now   time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		store: db.NewMemStore(),
		queue: worker.NewQueue(10),
		now:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	d := dispatch.New(ts.store, &emailtest.Dialer{}, ts.queue, tracking.NewLinks("http://track.test"), 0, zap.NewNop())

	h := &Handler{
		Store:      ts.store,
		Dispatcher: d,
		Tracker:    tracking.NewRecorder(ts.store),
		Log:        zap.NewNop(),
		Now:        func() time.Time { return ts.now },
	}

	ts.srv = httptest.NewServer(h.Routes())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

const createBody = `{
	"name": "Spring launch",
	"subject": "Hello",
	"body": "<p>Hi</p>[VERIFY_BUTTON]",
	"batch_size": 2,
	"sender": {"email": "team@x.com", "password": "app-password"},
	"recipients": [{"email": "ana@x.com", "name": "Ana", "dob": "1990-06-14"}],
	"csv": "Email,Name\nbo@x.com,Bo\nana@x.com,Duplicate\n",
	"manual_emails": "cy@x.com, nope, bo@x.com"
}`

func (ts *testServer) create(t *testing.T) int64 {
	t.Helper()

	resp := ts.do(t, http.MethodPost, "/campaigns", createBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var out struct {
		ID         int64 `json:"id"`
		Recipients int   `json:"recipients"`
	}
	decode(t, resp, &out)
	if out.Recipients != 3 {
		t.Fatalf("expected 3 deduplicated recipients, got %d", out.Recipients)
	}
	return out.ID
}

func TestCreateCampaign(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)

	c, err := ts.store.GetCampaign(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.CampaignDraft || c.BatchSize != 2 || c.BatchDelay != models.DefaultBatchDelay {
		t.Errorf("unexpected campaign: %+v", c)
	}
	if c.Sender.Address != "team@x.com" || c.Sender.Secret != "app-password" {
		t.Errorf("sender credentials not stored: %+v", c.Sender)
	}

	rs, _ := ts.store.ListRecipients(context.Background(), id)
	if rs[0].Email != "ana@x.com" || rs[0].Name != "Ana" || rs[0].DOB == nil {
		t.Errorf("unexpected first recipient: %+v", rs[0])
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, ""},
		{"missing subject", `{"name":"n","body":"b","sender":{"email":"a@x.com","password":"p"},"manual_emails":"a@x.com"}`, "subject is required"},
		{"bad sender", `{"name":"n","subject":"s","body":"b","sender":{"email":"nope","password":"p"},"manual_emails":"a@x.com"}`, "email must be a valid email"},
		{"negative delay", `{"name":"n","subject":"s","body":"b","batch_delay":-1,"sender":{"email":"a@x.com","password":"p"},"manual_emails":"a@x.com"}`, "batchdelay must be at least 0"},
		{"no recipients", `{"name":"n","subject":"s","body":"b","sender":{"email":"a@x.com","password":"p"}}`, "no valid recipients"},
		{"csv without email column", `{"name":"n","subject":"s","body":"b","sender":{"email":"a@x.com","password":"p"},"csv":"name\nAna\n"}`, "csv:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/campaigns", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var out map[string]string
			decode(t, resp, &out)
			if !strings.Contains(out["error"], tt.want) {
				t.Errorf("error = %q, want it to contain %q", out["error"], tt.want)
			}
		})
	}
}

func TestStartCampaignQueuesOnce(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	path := fmt.Sprintf("/campaigns/%d/start", id)

	resp := ts.do(t, http.MethodPost, path, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	var out struct {
		Status models.CampaignStatus `json:"status"`
	}
	decode(t, resp, &out)
	if out.Status != models.CampaignSending {
		t.Errorf("status = %s, want Sending", out.Status)
	}

	if resp := ts.do(t, http.MethodPost, path, ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start: status %d, want 409", resp.StatusCode)
	}

	select {
	case job := <-ts.queue.Jobs():
		if job.CampaignID != id || job.Sender.Address != "team@x.com" {
			t.Errorf("unexpected job: %+v", job)
		}
	default:
		t.Fatal("expected a queued dispatch job")
	}
	select {
	case job := <-ts.queue.Jobs():
		t.Fatalf("unexpected second job: %+v", job)
	default:
	}

	if resp := ts.do(t, http.MethodPost, "/campaigns/999/start", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown campaign: status %d, want 404", resp.StatusCode)
	}
}

func TestListCampaignsLaunchesDueCampaigns(t *testing.T) {
	ts := newTestServer(t)

	past := ts.now.Add(-time.Minute)
	c := &models.Campaign{
		Name:        "due",
		Subject:     "s",
		Body:        "b",
		Status:      models.CampaignScheduled,
		ScheduledAt: &past,
		Sender:      models.Credentials{Address: "team@x.com", Secret: "p"},
	}
	if err := ts.store.CreateCampaign(context.Background(), c, []models.Recipient{{Email: "a@x.com"}}); err != nil {
		t.Fatal(err)
	}

	resp := ts.do(t, http.MethodGet, "/campaigns", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var list []models.CampaignSummary
	decode(t, resp, &list)

	if len(list) != 1 || list[0].Status != models.CampaignSending || list[0].Stats.Total != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if len(ts.queue.Jobs()) != 1 {
		t.Errorf("expected the due campaign queued, got %d jobs", len(ts.queue.Jobs()))
	}
}

func TestGetAndDeleteCampaign(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	path := fmt.Sprintf("/campaigns/%d", id)

	resp := ts.do(t, http.MethodGet, path, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	var detail struct {
		Campaign   models.Campaign      `json:"campaign"`
		Stats      models.CampaignStats `json:"stats"`
		Recipients []models.Recipient   `json:"recipients"`
	}
	decode(t, resp, &detail)
	if detail.Stats.Total != 3 || detail.Stats.Pending != 3 || len(detail.Recipients) != 3 {
		t.Errorf("unexpected detail: %+v", detail)
	}

	if resp := ts.do(t, http.MethodDelete, path, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodGet, path, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodGet, "/campaigns/abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id: status %d, want 400", resp.StatusCode)
	}
}

func TestTrackingEndpoints(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)
	rs, _ := ts.store.ListRecipients(context.Background(), id)
	rid := rs[0].ID

	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodGet, fmt.Sprintf("/track/open/%d", rid), "")
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/gif" {
			t.Fatalf("open: status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
		}
	}

	resp := ts.do(t, http.MethodGet, fmt.Sprintf("/track/replied/%d", rid), "")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("replied: status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	// unknown and malformed ids still get a pixel
	for _, p := range []string{"/track/open/99999", "/track/open/xyz"} {
		if resp := ts.do(t, http.MethodGet, p, ""); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", p, resp.StatusCode)
		}
	}

	stats, _ := ts.store.CampaignStats(context.Background(), id)
	if stats.Opened != 1 || stats.Replied != 1 {
		t.Errorf("expected one open and one reply, got %+v", stats)
	}
	if n := len(ts.store.Events()); n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
}

func TestCampaignReport(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t)

	resp := ts.do(t, http.MethodGet, fmt.Sprintf("/campaigns/%d/report", id), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %d:\n%s", len(lines), raw)
	}
	if !strings.HasPrefix(lines[0], "Campaign Name,Subject,Recipient Email") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "ana@x.com,Pending,N/A,0,0") {
		t.Errorf("unexpected row: %s", lines[1])
	}

	if resp := ts.do(t, http.MethodGet, "/campaigns/999/report", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown campaign report: status %d", resp.StatusCode)
	}
}
