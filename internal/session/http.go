package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPError is returned when the session server answers with a non-2xx status.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// HTTPConfig configures the HTTP session transport.
type HTTPConfig struct {
	BaseURL   string        // e.g. "http://127.0.0.1:4096"
	Directory string        // Optional project directory passed as ?directory=
	Timeout   time.Duration // Per-request timeout (default 30s)
	Client    *http.Client  // Optional; overrides Timeout
}

// HTTPClient implements Transport, StatusReporter and Aborter against a
// session server speaking JSON over REST.
type HTTPClient struct {
	base      *url.URL
	directory string
	client    *http.Client
}

// NewHTTPClient creates a transport for the server at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("session server base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		base:      base,
		directory: cfg.Directory,
		client:    client,
	}, nil
}

type createRequest struct {
	ParentID string `json:"parentID,omitempty"`
	Title    string `json:"title,omitempty"`
}

type sessionInfo struct {
	ID string `json:"id"`
}

type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type promptRequest struct {
	Agent string     `json:"agent,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireMessage struct {
	Info struct {
		Role string `json:"role"`
	} `json:"info"`
	Parts []wirePart `json:"parts"`
}

type wireStatus struct {
	Type string `json:"type"`
}

// Create allocates a new session on the server.
func (c *HTTPClient) Create(ctx context.Context, parentID string) (string, error) {
	var info sessionInfo
	if err := c.do(ctx, http.MethodPost, "/session", createRequest{ParentID: parentID}, &info); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return info.ID, nil
}

// Prompt sends content as a single text part to the session.
func (c *HTTPClient) Prompt(ctx context.Context, sessionID, content, agent string) error {
	body := promptRequest{
		Agent: agent,
		Parts: []wirePart{{Type: PartTypeText, Text: content}},
	}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/message", body, nil); err != nil {
		return fmt.Errorf("prompting session %s: %w", sessionID, err)
	}
	return nil
}

// Messages fetches the full transcript of the session.
func (c *HTTPClient) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var wire []wireMessage
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", nil, &wire); err != nil {
		return nil, fmt.Errorf("fetching messages of session %s: %w", sessionID, err)
	}

	messages := make([]Message, 0, len(wire))
	for _, wm := range wire {
		m := Message{Role: wm.Info.Role, Parts: make([]Part, 0, len(wm.Parts))}
		for _, wp := range wm.Parts {
			m.Parts = append(m.Parts, Part{Type: wp.Type, Text: wp.Text})
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Status reports the state token of the session. The server only lists
// sessions that are doing work, so an absent entry means idle.
func (c *HTTPClient) Status(ctx context.Context, sessionID string) (string, error) {
	var statuses map[string]wireStatus
	if err := c.do(ctx, http.MethodGet, "/session/status", nil, &statuses); err != nil {
		return "", fmt.Errorf("fetching session status: %w", err)
	}
	st, ok := statuses[sessionID]
	if !ok || st.Type == "" {
		return StatusIdle, nil
	}
	return st.Type, nil
}

// Abort asks the server to stop the session's current work.
func (c *HTTPClient) Abort(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/abort", nil, nil); err != nil {
		return fmt.Errorf("aborting session %s: %w", sessionID, err)
	}
	return nil
}

// do issues one JSON request. in may be nil for bodiless requests and out
// may be nil when the response body is not needed.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	u := *c.base
	u.Path = u.Path + path
	if c.directory != "" {
		q := u.Query()
		q.Set("directory", c.directory)
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
