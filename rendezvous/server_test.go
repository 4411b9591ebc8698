package rendezvous

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(pollTimeout time.Duration) (*Server, func()) {
	r := NewRegistry(time.Hour)
	s := NewServer(r, pollTimeout)
	return s, r.Close
}

func doJSON(t *testing.T, handler http.Handler, method, path, remoteAddr string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// scenario 1: create + poll + join.
func TestScenarioCreatePollJoin(t *testing.T) {
	s, closeReg := newTestServer(5 * time.Second)
	defer closeReg()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleCreate)
	mux.HandleFunc("/api/sessions/poll/", s.handlePoll)
	mux.HandleFunc("/api/sessions/join", s.handleJoin)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", "10.0.0.1:1", createRequest{
		ConnectionDetails: "AAA",
		CompressionLevel:  9,
		Password:          "",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: got %d want 200, body=%s", rec.Code, rec.Body)
	}
	var created createResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	pollDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		pollDone <- doJSON(t, mux, http.MethodGet, "/api/sessions/poll/"+created.Code, "10.0.0.1:1", nil)
	}()

	time.Sleep(20 * time.Millisecond) // let the poll start blocking

	joinRec := doJSON(t, mux, http.MethodPost, "/api/sessions/join", "10.0.0.2:1", joinRequest{
		Code:              created.Code,
		Password:          "",
		ConnectionDetails: "BBB",
	})
	if joinRec.Code != http.StatusOK {
		t.Fatalf("join: got %d want 200, body=%s", joinRec.Code, joinRec.Body)
	}
	var joined joinResponse
	json.Unmarshal(joinRec.Body.Bytes(), &joined)
	if joined.CompressionLevel != 9 || joined.HasPassword || joined.ConnectionDetails != "AAA" {
		t.Errorf("join response = %+v", joined)
	}

	select {
	case rec := <-pollDone:
		if rec.Code != http.StatusOK {
			t.Fatalf("poll: got %d want 200, body=%s", rec.Code, rec.Body)
		}
		var polled pollResponse
		json.Unmarshal(rec.Body.Bytes(), &polled)
		if polled.ConnectionDetails != "BBB" {
			t.Errorf("poll ConnectionDetails = %q, want BBB", polled.ConnectionDetails)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not return after join")
	}
}

// scenario 2: wrong password.
func TestScenarioWrongPassword(t *testing.T) {
	s, closeReg := newTestServer(time.Second)
	defer closeReg()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleCreate)
	mux.HandleFunc("/api/sessions/details", s.handleDetails)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", "10.0.0.1:1", createRequest{
		ConnectionDetails: "AAA", Password: "secret",
	})
	var created createResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/details", "10.0.0.2:1", detailsRequest{
		Code: created.Code, Password: "nope",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("details with wrong password: got %d want 401", rec.Code)
	}
}

// scenario 3: not owner.
func TestScenarioNotOwner(t *testing.T) {
	s, closeReg := newTestServer(time.Second)
	defer closeReg()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleCreate)
	mux.HandleFunc("/api/sessions/poll/", s.handlePoll)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", "10.0.0.1:1", createRequest{ConnectionDetails: "AAA"})
	var created createResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/poll/"+created.Code, "10.0.0.2:1", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("poll from non-owner: got %d want 403", rec.Code)
	}
}

// scenario 4: poll timeout then retry.
func TestScenarioPollTimeoutThenRetry(t *testing.T) {
	s, closeReg := newTestServer(50 * time.Millisecond)
	defer closeReg()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleCreate)
	mux.HandleFunc("/api/sessions/poll/", s.handlePoll)
	mux.HandleFunc("/api/sessions/join", s.handleJoin)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", "10.0.0.1:1", createRequest{ConnectionDetails: "AAA"})
	var created createResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	start := time.Now()
	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/poll/"+created.Code, "10.0.0.1:1", nil)
	elapsed := time.Since(start)
	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("first poll: got %d want 408", rec.Code)
	}
	if elapsed > time.Second {
		t.Errorf("poll took %v, expected to return near the 50ms deadline", elapsed)
	}

	joinRec := doJSON(t, mux, http.MethodPost, "/api/sessions/join", "10.0.0.2:1", joinRequest{
		Code: created.Code, ConnectionDetails: "BBB",
	})
	if joinRec.Code != http.StatusOK {
		t.Fatalf("join: got %d want 200", joinRec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/poll/"+created.Code, "10.0.0.1:1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry poll: got %d want 200, body=%s", rec.Code, rec.Body)
	}
}

func TestJoinAfterFilledIsConflict(t *testing.T) {
	s, closeReg := newTestServer(time.Second)
	defer closeReg()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleCreate)
	mux.HandleFunc("/api/sessions/join", s.handleJoin)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", "10.0.0.1:1", createRequest{ConnectionDetails: "AAA"})
	var created createResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	first := doJSON(t, mux, http.MethodPost, "/api/sessions/join", "10.0.0.2:1", joinRequest{
		Code: created.Code, ConnectionDetails: "BBB",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first join: got %d want 200", first.Code)
	}
	second := doJSON(t, mux, http.MethodPost, "/api/sessions/join", "10.0.0.3:1", joinRequest{
		Code: created.Code, ConnectionDetails: "CCC",
	})
	if second.Code != http.StatusConflict {
		t.Errorf("second join: got %d want 409", second.Code)
	}
}

func TestDetailsUnknownCode(t *testing.T) {
	s, closeReg := newTestServer(time.Second)
	defer closeReg()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions/details", s.handleDetails)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions/details", "10.0.0.1:1", detailsRequest{Code: "nosuchcode"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("details for unknown code: got %d want 404", rec.Code)
	}
}

func TestEmptyPasswordMustMatchEmpty(t *testing.T) {
	s, closeReg := newTestServer(time.Second)
	defer closeReg()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleCreate)
	mux.HandleFunc("/api/sessions/details", s.handleDetails)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", "10.0.0.1:1", createRequest{ConnectionDetails: "AAA"})
	var created createResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/details", "10.0.0.2:1", detailsRequest{Code: created.Code, Password: ""})
	if rec.Code != http.StatusOK {
		t.Errorf("details with matching empty password: got %d want 200", rec.Code)
	}
}
