package ycmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds each daemon request unless the caller's
// context carries an earlier deadline.
const DefaultRequestTimeout = 10 * time.Second

// Client is the authenticated HTTP client for one daemon session.
// Every request is signed with the session secret; a client built from
// an external session (empty secret) may only call Ready.
type Client struct {
	host    string
	port    int
	secret  []byte
	hc      *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithRequestTimeout replaces the default per-request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for the given session.
func NewClient(info SessionInfo, opts ...ClientOption) (*Client, error) {
	var secret []byte
	if info.HMACSecret != "" {
		raw, err := base64.StdEncoding.DecodeString(info.HMACSecret)
		if err != nil {
			return nil, fmt.Errorf("invalid HMAC secret: %w", err)
		}
		secret = raw
	}

	c := &Client{
		host:    info.Host,
		port:    info.Port,
		secret:  secret,
		hc:      &http.Client{},
		timeout: DefaultRequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do performs one request. The method defaults to POST when a payload
// is present and GET otherwise. Non-2xx responses become
// ProtocolError; connect/read failures and timeouts become
// TransportError.
func (c *Client) do(ctx context.Context, path string, payload any, privileged bool) (json.RawMessage, error) {
	if privileged && len(c.secret) == 0 {
		return nil, ErrUnauthenticatedSession
	}

	var body []byte
	method := http.MethodGet
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = raw
		method = http.MethodPost
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d%s", c.host, c.port, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(c.secret) > 0 {
		req.Header.Set(HMACHeader, Sign(c.secret, method, path, body))
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TransportError{
				Op:  path,
				Err: fmt.Errorf("request timed out after %d ms", c.timeout.Milliseconds()),
			}
		}
		return nil, &TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// Ready probes the readiness endpoint. It is the only operation
// permitted on an unauthenticated session.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	raw, err := c.do(ctx, "/ready", nil, false)
	if err != nil {
		return false, err
	}
	var ready bool
	if err := json.Unmarshal(raw, &ready); err != nil {
		// Some daemon builds answer a bare 200 with no JSON body.
		return true, nil
	}
	return ready, nil
}

// LoadExtraConf asks the daemon to trust a project configuration file.
func (c *Client) LoadExtraConf(ctx context.Context, filepath string) error {
	_, err := c.do(ctx, "/load_extra_conf_file", map[string]any{"filepath": filepath}, true)
	return err
}

// Completions requests completion candidates at the query position.
func (c *Client) Completions(ctx context.Context, q Query) (json.RawMessage, error) {
	return c.do(ctx, "/completions", q.body(), true)
}

// Diagnostics parses the file and returns its diagnostics.
func (c *Client) Diagnostics(ctx context.Context, q Query) (json.RawMessage, error) {
	body := q.body()
	body["event_name"] = EventFileReadyToParse
	return c.do(ctx, "/event_notification", body, true)
}

// GoToDefinition resolves the definition of the identifier at the
// query position.
func (c *Client) GoToDefinition(ctx context.Context, q Query) (json.RawMessage, error) {
	return c.do(ctx, "/goto_definition", q.body(), true)
}

// GoToDeclaration resolves the declaration of the identifier at the
// query position.
func (c *Client) GoToDeclaration(ctx context.Context, q Query) (json.RawMessage, error) {
	return c.do(ctx, "/goto_declaration", q.body(), true)
}

// GoToReferences lists references to the identifier at the query
// position.
func (c *Client) GoToReferences(ctx context.Context, q Query) (json.RawMessage, error) {
	return c.do(ctx, "/goto_references", q.body(), true)
}

// SignatureHelp returns call-signature information at the query
// position.
func (c *Client) SignatureHelp(ctx context.Context, q Query) (json.RawMessage, error) {
	return c.do(ctx, "/signature_help", q.body(), true)
}

// RunCompleterCommand invokes a named completer command with
// arguments.
func (c *Client) RunCompleterCommand(ctx context.Context, q Query, args ...string) (json.RawMessage, error) {
	body := q.body()
	body["command_arguments"] = args
	return c.do(ctx, "/run_completer_command", body, true)
}

// RefactorRename renames the identifier at the query position.
func (c *Client) RefactorRename(ctx context.Context, q Query, newName string) (json.RawMessage, error) {
	return c.RunCompleterCommand(ctx, q, "RefactorRename", newName)
}

// ExtractMethod extracts the selected range into a new method.
func (c *Client) ExtractMethod(ctx context.Context, q Query, endLine, endColumn int) (json.RawMessage, error) {
	body := q.body()
	body["command"] = "extract_method"
	body["end_line_num"] = endLine
	body["end_column_num"] = endColumn
	return c.do(ctx, "/refactor", body, true)
}

// OrganizeImports reorders and prunes the file's imports.
func (c *Client) OrganizeImports(ctx context.Context, q Query) (json.RawMessage, error) {
	return c.RunCompleterCommand(ctx, q, "OrganizeImports")
}

// ApplyFixIt applies the fix-it with the given index at the query
// position.
func (c *Client) ApplyFixIt(ctx context.Context, q Query, index int) (json.RawMessage, error) {
	body := q.body()
	body["command_arguments"] = []string{"FixIt"}
	body["fixit_index"] = index
	return c.do(ctx, "/run_completer_command", body, true)
}

// EventNotification reports a file event to the daemon.
func (c *Client) EventNotification(ctx context.Context, q Query, event string) error {
	body := q.body()
	body["event_name"] = event
	_, err := c.do(ctx, "/event_notification", body, true)
	return err
}

// Shutdown asks the daemon to exit cleanly.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.do(ctx, "/shutdown", map[string]any{}, true)
	return err
}
