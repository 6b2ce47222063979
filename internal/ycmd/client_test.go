package ycmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   []byte
	HMAC   string
}

// newTestDaemon starts an httptest server and returns a client wired to
// it plus the request log.
func newTestDaemon(t *testing.T, secret string, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recordedRequest) {
	t.Helper()

	var log []recordedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log = append(log, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   body,
			HMAC:   r.Header.Get(HMACHeader),
		})
		if handler != nil {
			handler(w, r)
			return
		}
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("parse test server addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	client, err := NewClient(SessionInfo{
		Host:       host,
		Port:       port,
		HMACSecret: secret,
		Status:     StatusRunning,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, &log
}

func testSecret(t *testing.T) (string, []byte) {
	t.Helper()
	raw := []byte("0123456789abcdef")
	return base64.StdEncoding.EncodeToString(raw), raw
}

func TestClientReadyUsesGET(t *testing.T) {
	secret, _ := testSecret(t)
	client, log := newTestDaemon(t, secret, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("true"))
	})

	ready, err := client.Ready(context.Background())
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if !ready {
		t.Error("ready = false")
	}
	req := (*log)[0]
	if req.Method != http.MethodGet || req.Path != "/ready" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
}

func TestClientSignsRequests(t *testing.T) {
	secret, raw := testSecret(t)
	client, log := newTestDaemon(t, secret, nil)

	q := Query{
		Filepath:  "/src/main.go",
		Contents:  "package main",
		Filetypes: []string{"go"},
		LineNum:   1,
		ColumnNum: 1,
	}
	if _, err := client.Completions(context.Background(), q); err != nil {
		t.Fatalf("Completions: %v", err)
	}

	req := (*log)[0]
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST with body", req.Method)
	}
	if req.HMAC == "" {
		t.Fatal("HMAC header missing")
	}
	if !Verify(raw, req.Method, req.Path, req.Body, req.HMAC) {
		t.Error("signature does not verify against the request")
	}

	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["line_num"] != float64(1) || body["column_num"] != float64(1) || body["filepath"] != "/src/main.go" {
		t.Errorf("position fields = %v", body)
	}
	if _, ok := body["file_data"].(map[string]any)["/src/main.go"]; !ok {
		t.Errorf("file_data missing in-band contents: %v", body["file_data"])
	}
}

func TestClientNon2xxBecomesProtocolError(t *testing.T) {
	secret, _ := testSecret(t)
	client, _ := newTestDaemon(t, secret, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "hmac rejected", http.StatusUnauthorized)
	})

	_, err := client.Completions(context.Background(), Query{Filepath: "f", LineNum: 1, ColumnNum: 1})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if perr.StatusCode != http.StatusUnauthorized || !strings.Contains(perr.Body, "hmac rejected") {
		t.Errorf("error = %+v", perr)
	}
}

func TestClientTimeoutBecomesTransportError(t *testing.T) {
	secret, _ := testSecret(t)
	client, _ := newTestDaemon(t, secret, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	WithRequestTimeout(50 * time.Millisecond)(client)

	_, err := client.Completions(context.Background(), Query{Filepath: "f", LineNum: 1, ColumnNum: 1})
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestClientConnectFailureIsTransportError(t *testing.T) {
	secret, _ := testSecret(t)
	client, err := NewClient(SessionInfo{Host: "127.0.0.1", Port: 1, HMACSecret: secret})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	WithRequestTimeout(200 * time.Millisecond)(client)

	_, err = client.Ready(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestClientUnauthenticatedSessionBlocksPrivilegedCalls(t *testing.T) {
	client, log := newTestDaemon(t, "", nil)

	// Ready is permitted.
	if _, err := client.Ready(context.Background()); err != nil {
		t.Fatalf("Ready on external session: %v", err)
	}
	if (*log)[0].HMAC != "" {
		t.Error("external probe carried an HMAC header")
	}

	// Everything else is refused locally, never escalated.
	_, err := client.Completions(context.Background(), Query{Filepath: "f", LineNum: 1, ColumnNum: 1})
	if !errors.Is(err, ErrUnauthenticatedSession) {
		t.Errorf("expected ErrUnauthenticatedSession, got %v", err)
	}
	if len(*log) != 1 {
		t.Errorf("privileged call reached the daemon: %d requests", len(*log))
	}
}

func TestClientEventNotification(t *testing.T) {
	secret, _ := testSecret(t)
	client, log := newTestDaemon(t, secret, nil)

	q := Query{Filepath: "/a.py", Contents: "x = 1", Filetypes: []string{"python"}, LineNum: 1, ColumnNum: 1}
	if err := client.EventNotification(context.Background(), q, EventBufferVisit); err != nil {
		t.Fatalf("EventNotification: %v", err)
	}

	var body map[string]any
	_ = json.Unmarshal((*log)[0].Body, &body)
	if body["event_name"] != EventBufferVisit {
		t.Errorf("event_name = %v", body["event_name"])
	}
	if (*log)[0].Path != "/event_notification" {
		t.Errorf("path = %s", (*log)[0].Path)
	}
}

func TestClientRefactorRename(t *testing.T) {
	secret, _ := testSecret(t)
	client, log := newTestDaemon(t, secret, nil)

	q := Query{Filepath: "/a.go", Contents: "package a", Filetypes: []string{"go"}, LineNum: 3, ColumnNum: 7}
	if _, err := client.RefactorRename(context.Background(), q, "newName"); err != nil {
		t.Fatalf("RefactorRename: %v", err)
	}

	req := (*log)[0]
	if req.Path != "/run_completer_command" {
		t.Errorf("path = %s", req.Path)
	}
	var body map[string]any
	_ = json.Unmarshal(req.Body, &body)
	args, _ := body["command_arguments"].([]any)
	if len(args) != 2 || args[0] != "RefactorRename" || args[1] != "newName" {
		t.Errorf("command_arguments = %v", args)
	}
}
