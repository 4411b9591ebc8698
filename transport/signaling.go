package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SignalingClient talks to the rendezvous server's four HTTP endpoints. It
// is deliberately independent of the rendezvous package's types: peers
// only need the wire shapes, not the server's internal Session/Registry.
type SignalingClient struct {
	baseURL string
	http    *http.Client
}

// NewSignalingClient returns a client for the rendezvous server at
// baseURL (e.g. "https://wormdrop.example/"). pollTimeout bounds each
// individual long-poll HTTP request; the caller is expected to retry on a
// 408/502 per the protocol's long-poll contract.
func NewSignalingClient(baseURL string, pollTimeout time.Duration) *SignalingClient {
	return &SignalingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: pollTimeout + 5*time.Second},
	}
}

// CreateSession registers connectionDetails (the Host's offer blob) under a
// new code.
func (c *SignalingClient) CreateSession(connectionDetails, password string, compressionLevel int) (code string, err error) {
	var resp struct {
		Code string `json:"code"`
	}
	err = c.postJSON("/api/sessions", struct {
		ConnectionDetails string `json:"connection_details"`
		CompressionLevel  int    `json:"compression_level"`
		Password          string `json:"password"`
	}{connectionDetails, compressionLevel, password}, &resp)
	return resp.Code, err
}

// Poll long-polls for the Client's answer. It returns a *StatusError with
// Timeout() true on 408/502, so callers can distinguish "retry me" from a
// hard failure.
func (c *SignalingClient) Poll(code string) (connectionDetails string, err error) {
	var resp struct {
		ConnectionDetails string `json:"connection_details"`
	}
	err = c.getJSON("/api/sessions/poll/"+code, &resp)
	return resp.ConnectionDetails, err
}

// Details fetches the Host's offer blob for code, after checking password.
func (c *SignalingClient) Details(code, password string) (connectionDetails string, err error) {
	var resp struct {
		ConnectionDetails string `json:"connection_details"`
	}
	err = c.postJSON("/api/sessions/details", struct {
		Code     string `json:"code"`
		Password string `json:"password"`
	}{code, password}, &resp)
	return resp.ConnectionDetails, err
}

// JoinResult is the response to Join: the Host's offer, echoed back
// alongside session metadata.
type JoinResult struct {
	CompressionLevel  int    `json:"compression_level"`
	HasPassword       bool   `json:"has_password"`
	ConnectionDetails string `json:"connection_details"`
}

// Join submits the Client's answer blob, completing the handoff.
func (c *SignalingClient) Join(code, password, connectionDetails string) (JoinResult, error) {
	var resp JoinResult
	err := c.postJSON("/api/sessions/join", struct {
		Code              string `json:"code"`
		Password          string `json:"password"`
		ConnectionDetails string `json:"connection_details"`
	}{code, password, connectionDetails}, &resp)
	return resp, err
}

// StatusError is returned for non-2xx responses from the rendezvous API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rendezvous: %d: %s", e.StatusCode, e.Message)
}

// Timeout reports whether this error represents a long-poll deadline
// (408 or 502), which the long-poll contract requires the caller to
// retry immediately rather than treat as failure.
func (e *StatusError) Timeout() bool {
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusBadGateway
}

func (c *SignalingClient) postJSON(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *SignalingClient) getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *SignalingClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
