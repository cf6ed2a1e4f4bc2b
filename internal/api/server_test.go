package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"resume-analyzer/internal/config"
	"resume-analyzer/internal/models"
	"resume-analyzer/internal/store"
)

type fakeStore struct {
	jobs      map[string]models.AnalysisJob
	created   int
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]models.AnalysisJob{}}
}

func (f *fakeStore) CreateJob(_ context.Context, p store.CreateJobParams) (models.AnalysisJob, error) {
	if f.createErr != nil {
		return models.AnalysisJob{}, f.createErr
	}
	f.created++
	job := models.AnalysisJob{
		ID:          fmt.Sprintf("job-%d", f.created),
		Fingerprint: p.Fingerprint,
		Language:    p.Language,
		CVText:      p.CVText,
		JobText:     p.JobText,
		Status:      models.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (models.AnalysisJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return models.AnalysisJob{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) FindRecentByFingerprint(_ context.Context, fp string, window time.Duration) (models.AnalysisJob, bool, error) {
	cutoff := time.Now().Add(-window)
	var newest models.AnalysisJob
	found := false
	for _, job := range f.jobs {
		if job.Fingerprint == fp && job.CreatedAt.After(cutoff) {
			if !found || job.CreatedAt.After(newest.CreatedAt) {
				newest = job
				found = true
			}
		}
	}
	return newest, found, nil
}

type fakeQueue struct {
	enqueued []string
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, float64, error) {
	return f.allowed, 0, nil
}

func testConfig() config.Config {
	return config.Config{
		MinCVLength:      10,
		MinJobTextLength: 5,
		DedupWindow:      10 * time.Minute,
		EstimatedSeconds: 45,
	}
}

func newTestServer(st JobStore, q Queue, lim Limiter) *Server {
	return New(testConfig(), st, q, lim, zerolog.Nop())
}

func submitBody(cv, job, lang string) *bytes.Buffer {
	b, _ := json.Marshal(submitRequest{CVText: cv, JobDescriptionText: job, Language: lang})
	return bytes.NewBuffer(b)
}

func doSubmit(t *testing.T, srv *Server, body *bytes.Buffer) (*httptest.ResponseRecorder, StatusResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var resp StatusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestSubmitValidation(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(st, &fakeQueue{}, nil)

	cases := []struct {
		name string
		body *bytes.Buffer
	}{
		{"short cv", submitBody("short", "a job description", "en")},
		{"short job text", submitBody("a sufficiently long cv text", "x", "en")},
		{"bad language", submitBody("a sufficiently long cv text", "a job description", "english")},
	}
	for _, tc := range cases {
		rec, _ := doSubmit(t, srv, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
	if st.created != 0 {
		t.Fatalf("validation failures must never create jobs, created=%d", st.created)
	}
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	srv := newTestServer(st, q, nil)

	rec, resp := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Status != models.StatusPending || resp.JobID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != resp.JobID {
		t.Fatalf("job must be handed off, enqueued=%v", q.enqueued)
	}
	if st.jobs[resp.JobID].Language != "en" {
		t.Fatalf("empty language must default to en")
	}
}

func TestSubmitDedupInFlight(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	srv := newTestServer(st, q, nil)

	_, first := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))
	rec, second := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if second.JobID != first.JobID {
		t.Fatalf("identical in-flight submission must reuse the job: %s vs %s", first.JobID, second.JobID)
	}
	if st.created != 1 || len(q.enqueued) != 1 {
		t.Fatalf("no duplicate job or enqueue allowed, created=%d enqueued=%d", st.created, len(q.enqueued))
	}
}

func TestSubmitDedupNormalizedInput(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(st, &fakeQueue{}, nil)

	_, first := doSubmit(t, srv, submitBody("A Sufficiently Long CV Text", "A Job Description", "EN"))
	_, second := doSubmit(t, srv, submitBody("  a sufficiently long cv text ", "a job description", "en"))
	if first.JobID != second.JobID {
		t.Fatalf("case/whitespace variants must dedup to one job")
	}
}

func TestSubmitDedupCompleted(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	srv := newTestServer(st, q, nil)

	_, first := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))

	// Complete the job out of band.
	job := st.jobs[first.JobID]
	job.Status = models.StatusCompleted
	now := time.Now()
	ms := int64(1234)
	job.CompletedAt = &now
	job.ProcessingMS = &ms
	job.Result = &models.AnalysisResult{ImprovedText: "cv", CoverLetterText: "letter", TipsText: "tips", ChangesOverviewText: "overview"}
	st.jobs[first.JobID] = job

	rec, resp := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for deduplicated completed job, got %d", rec.Code)
	}
	if !resp.Cached {
		t.Fatalf("deduplicated completed result must be tagged cached")
	}
	if resp.Result == nil || resp.Result.ImprovedText != "cv" {
		t.Fatalf("result must be returned inline: %+v", resp.Result)
	}
	if st.created != 1 {
		t.Fatalf("no new job may be created, created=%d", st.created)
	}
}

func TestSubmitAfterFailedCreatesNewJob(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(st, &fakeQueue{}, nil)

	_, first := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))
	job := st.jobs[first.JobID]
	job.Status = models.StatusFailed
	st.jobs[first.JobID] = job

	rec, second := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if second.JobID == first.JobID {
		t.Fatalf("a failed job must not block a retry")
	}
}

func TestSubmitSurvivesEnqueueFailure(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(st, &fakeQueue{err: errors.New("redis down")}, nil)

	rec, resp := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("a lost handoff must not fail the submission, got %d", rec.Code)
	}
	if resp.JobID == "" || resp.Status != models.StatusPending {
		t.Fatalf("client still needs an id to poll: %+v", resp)
	}
}

func TestSubmitStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.createErr = errors.New("postgres down")
	srv := newTestServer(st, &fakeQueue{}, nil)

	rec, _ := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("store write failure is a hard error, got %d", rec.Code)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(st, &fakeQueue{}, &fakeLimiter{allowed: false})

	rec, _ := doSubmit(t, srv, submitBody("a sufficiently long cv text", "a job description", "en"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if st.created != 0 {
		t.Fatalf("rate limited requests must not touch the store")
	}
}

func pollStatus(t *testing.T, srv *Server, id string) (*httptest.ResponseRecorder, StatusResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/analyses/"+id, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var resp StatusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestStatusNotFound(t *testing.T) {
	srv := newTestServer(newFakeStore(), &fakeQueue{}, nil)
	rec, _ := pollStatus(t, srv, "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Fatalf("not-found must be a distinct error payload: %s", rec.Body.String())
	}
}

func TestStatusProcessingView(t *testing.T) {
	st := newFakeStore()
	started := time.Now().Add(-10 * time.Second)
	st.jobs["job-p"] = models.AnalysisJob{
		ID: "job-p", Status: models.StatusProcessing, StartedAt: &started, CreatedAt: started,
	}
	srv := newTestServer(st, &fakeQueue{}, nil)

	rec, resp := pollStatus(t, srv, "job-p")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp.ElapsedSeconds == nil || *resp.ElapsedSeconds < 9 {
		t.Fatalf("elapsedSeconds missing or wrong: %+v", resp.ElapsedSeconds)
	}
	if resp.EstimatedTotalSeconds == nil || *resp.EstimatedTotalSeconds != 45 {
		t.Fatalf("estimatedTotalSeconds missing")
	}
	if resp.Result != nil || resp.ErrorMessage != nil {
		t.Fatalf("processing view must not carry result or error")
	}
}

func TestStatusFailedView(t *testing.T) {
	st := newFakeStore()
	msg := "model unreachable"
	st.jobs["job-f"] = models.AnalysisJob{ID: "job-f", Status: models.StatusFailed, ErrorMessage: &msg}
	srv := newTestServer(st, &fakeQueue{}, nil)

	rec, resp := pollStatus(t, srv, "job-f")
	if rec.Code != http.StatusOK {
		t.Fatalf("a known failed job is a status, not a 500; got %d", rec.Code)
	}
	if resp.ErrorMessage == nil || *resp.ErrorMessage != msg {
		t.Fatalf("failed view must carry the message: %+v", resp)
	}
}

func TestStatusTerminalImmutable(t *testing.T) {
	st := newFakeStore()
	now := time.Now()
	ms := int64(42000)
	st.jobs["job-c"] = models.AnalysisJob{
		ID: "job-c", Status: models.StatusCompleted,
		Result:       &models.AnalysisResult{ImprovedText: "cv", CoverLetterText: "l", TipsText: "t", ChangesOverviewText: "o"},
		CreatedAt:    now, CompletedAt: &now, ProcessingMS: &ms,
	}
	srv := newTestServer(st, &fakeQueue{}, nil)

	rec1, _ := pollStatus(t, srv, "job-c")
	rec2, _ := pollStatus(t, srv, "job-c")
	if !bytes.Equal(rec1.Body.Bytes(), rec2.Body.Bytes()) {
		t.Fatalf("repeated polls of a terminal job must be byte-identical:\n%s\n%s", rec1.Body.String(), rec2.Body.String())
	}
}
