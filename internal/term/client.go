package term

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/pipeline"
)

// Client talks to the terminal service. It satisfies the pipeline's
// worker surface so the orchestrator never touches tmux directly.
type Client struct {
	base string
	http *http.Client
}

// Verify Client drives the pipeline.
var _ pipeline.Workers = (*Client)(nil)

// NewClient returns a client for the service at base, defaulting to the
// local service address. The timeout leaves room for the slowest
// provider init wait behind a create call.
func NewClient(base string) *Client {
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", config.ServiceHost, config.ServicePort)
	}
	base = strings.TrimRight(base, "/")
	return &Client{
		base: base,
		http: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("terminal service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("terminal service %s %s: %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Health checks the service is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// StartSession creates a session with its first terminal.
func (c *Client) StartSession(ctx context.Context, req CreateRequest) (*Terminal, error) {
	q := url.Values{
		"provider":          {req.Provider},
		"agent_profile":     {req.Profile},
		"working_directory": {req.WD},
	}
	if req.Session != "" {
		q.Set("session_name", req.Session)
	}
	var t Terminal
	if err := c.do(ctx, http.MethodPost, "/sessions", q, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// AddTerminal creates a terminal in an existing session.
func (c *Client) AddTerminal(ctx context.Context, session string, req CreateRequest) (*Terminal, error) {
	q := url.Values{
		"provider":          {req.Provider},
		"agent_profile":     {req.Profile},
		"working_directory": {req.WD},
	}
	var t Terminal
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(session)+"/terminals", q, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns all registered terminals with live status.
func (c *Client) List(ctx context.Context) ([]Terminal, error) {
	var terminals []Terminal
	if err := c.do(ctx, http.MethodGet, "/terminals", nil, &terminals); err != nil {
		return nil, err
	}
	return terminals, nil
}

// Get returns one terminal with live status.
func (c *Client) Get(ctx context.Context, id string) (*Terminal, error) {
	var t Terminal
	if err := c.do(ctx, http.MethodGet, "/terminals/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Output fetches terminal text in the given mode.
func (c *Client) Output(ctx context.Context, id string, mode OutputMode) (string, error) {
	q := url.Values{"mode": {string(mode)}}
	var resp struct {
		Output string `json:"output"`
	}
	if err := c.do(ctx, http.MethodGet, "/terminals/"+url.PathEscape(id)+"/output", q, &resp); err != nil {
		return "", err
	}
	return resp.Output, nil
}

// Prune removes terminals past the retention window.
func (c *Client) Prune(ctx context.Context) ([]string, error) {
	var resp struct {
		Pruned []string `json:"pruned"`
	}
	if err := c.do(ctx, http.MethodPost, "/terminals/prune", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pruned, nil
}

// CreateSession implements the pipeline worker surface.
func (c *Client) CreateSession(ctx context.Context, profile, provider, wd string) (pipeline.TerminalInfo, error) {
	t, err := c.StartSession(ctx, CreateRequest{Provider: provider, Profile: profile, WD: wd})
	if err != nil {
		return pipeline.TerminalInfo{}, err
	}
	return pipeline.TerminalInfo{ID: t.ID, SessionName: t.Session}, nil
}

// CreateTerminal implements the pipeline worker surface.
func (c *Client) CreateTerminal(ctx context.Context, session, profile, provider, wd string) (pipeline.TerminalInfo, error) {
	t, err := c.AddTerminal(ctx, session, CreateRequest{Provider: provider, Profile: profile, WD: wd})
	if err != nil {
		return pipeline.TerminalInfo{}, err
	}
	return pipeline.TerminalInfo{ID: t.ID, SessionName: t.Session}, nil
}

// SendInput delivers a message to a terminal.
func (c *Client) SendInput(ctx context.Context, terminalID, message string) error {
	q := url.Values{"message": {message}}
	return c.do(ctx, http.MethodPost, "/terminals/"+url.PathEscape(terminalID)+"/input", q, nil)
}

// TailText returns the raw capture tail used for classification.
func (c *Client) TailText(ctx context.Context, terminalID string) (string, error) {
	return c.Output(ctx, terminalID, ModeTail)
}

// LastOutput returns the provider-extracted final response.
func (c *Client) LastOutput(ctx context.Context, terminalID string) (string, error) {
	return c.Output(ctx, terminalID, ModeLast)
}

// Exit terminates a terminal.
func (c *Client) Exit(ctx context.Context, terminalID string) error {
	return c.do(ctx, http.MethodPost, "/terminals/"+url.PathEscape(terminalID)+"/exit", nil, nil)
}
