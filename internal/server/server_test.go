package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"proofgate/internal/config"
	"proofgate/internal/db"
	"proofgate/internal/domain"
	"proofgate/internal/engine"
	"proofgate/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := New(Config{Engine: engine.New(conn, config.Default(), nil), BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestSubmitQuizRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/roadmaps", map[string]any{
		"user_id": "alice",
		"title":   "Backend path",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create roadmap status %d: %s", res.StatusCode, data)
	}
	var roadmap domain.Roadmap
	if err := json.Unmarshal(data, &roadmap); err != nil {
		t.Fatalf("unmarshal roadmap: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/roadmaps/"+roadmap.ID+"/tasks", map[string]any{
		"objective":      "Explain HTTP basics",
		"proof_type":     "quiz",
		"validator_type": "auto_quiz",
		"rules":          `{"answer_key":{"q1":"Paris"}}`,
		"is_core":        true,
	}, map[string]string{"X-Actor-Id": "mentor"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/attempts", map[string]any{
		"user_id": "alice",
		"payload": `{"answers":{"q1":"paris"}}`,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, data)
	}
	var submitted engine.SubmitResult
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit result: %v", err)
	}
	if submitted.Attempt.Status != domain.AttemptPass {
		t.Fatalf("attempt status = %s, want pass", submitted.Attempt.Status)
	}
	if !submitted.Task.Passed() {
		t.Fatalf("task should be passed after the validated attempt")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/alice/eligibility?roadmap_id="+roadmap.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("eligibility status %d: %s", res.StatusCode, data)
	}
	var ev struct {
		IsEligible bool `json:"is_eligible"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if !ev.IsEligible {
		t.Fatalf("all core tasks passed; expected eligible, got %s", data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/alice/roadmaps/"+roadmap.ID+"/resumes", map[string]any{}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("compile status %d: %s", res.StatusCode, data)
	}
	var doc engine.ResumeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version.Version != 1 || len(doc.Entries) != 1 {
		t.Fatalf("compiled document = %+v", doc)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, data)
	}
	if envelope.Error.Code != "not_found" || envelope.Error.Message == "" {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestDuplicateProofConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/roadmaps", map[string]any{
		"user_id": "alice", "title": "Path",
	}, nil)
	var roadmap domain.Roadmap
	json.Unmarshal(data, &roadmap)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/roadmaps/"+roadmap.ID+"/tasks", map[string]any{
		"objective":      "Quiz",
		"proof_type":     "quiz",
		"validator_type": "auto_quiz",
		"rules":          `{"answer_key":{"q1":"a"}}`,
	}, nil)
	var task domain.Task
	json.Unmarshal(data, &task)

	submit := map[string]any{"user_id": "alice", "payload": `{"answers":{"q1":"b"}}`}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/attempts", submit, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("first submit status %d: %s", res.StatusCode, data)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/attempts", submit, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "duplicate_proof" {
		t.Fatalf("code = %q, want duplicate_proof", envelope.Error.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
}
