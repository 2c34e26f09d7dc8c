// ABOUTME: CLI client commands that call a running botkeeper control API
// ABOUTME: Resolves the base URL and bearer token from env, token file, or config

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/botkeeper/internal/config"
	"github.com/2389/botkeeper/internal/gateway"
)

// apiClient calls the control API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError is a non-2xx response with its JSON "error" text.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// newAPIClient resolves the base URL and token.
// URL priority: BOTKEEPER_URL > http://<server.http_addr> from config > http://localhost:3000.
// Token priority: BOTKEEPER_TOKEN > <config dir>/token.
func newAPIClient() *apiClient {
	configPath := config.DefaultPath()

	baseURL := os.Getenv("BOTKEEPER_URL")
	if baseURL == "" {
		addr := config.Default().Server.HTTPAddr
		if cfg, err := config.Load(configPath); err == nil {
			addr = cfg.Server.HTTPAddr
		}
		baseURL = "http://" + addr
	}

	token := os.Getenv("BOTKEEPER_TOKEN")
	if token == "" {
		if data, err := os.ReadFile(filepath.Join(filepath.Dir(configPath), "token")); err == nil {
			token = strings.TrimSpace(string(data))
		}
	}

	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends a request and decodes a 2xx JSON body into out.
func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		return &apiError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) start(ctx context.Context) (string, error) {
	var resp gateway.MessageResponse
	err := c.do(ctx, http.MethodPost, "/start-bot", &resp)
	return resp.Message, err
}

func (c *apiClient) stop(ctx context.Context) (string, error) {
	var resp gateway.MessageResponse
	err := c.do(ctx, http.MethodPost, "/stop-bot", &resp)
	return resp.Message, err
}

func (c *apiClient) status(ctx context.Context) (*gateway.BotStatusResponse, error) {
	var resp gateway.BotStatusResponse
	if err := c.do(ctx, http.MethodGet, "/bot-status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) events(ctx context.Context, limit int) ([]gateway.AgentEventResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp gateway.ListEventsResponse
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func runStart(ctx context.Context) error {
	msg, err := newAPIClient().start(ctx)
	if err != nil {
		return err
	}
	color.Green("  ✓ %s\n", msg)
	return nil
}

func runStop(ctx context.Context) error {
	msg, err := newAPIClient().stop(ctx)
	if err != nil {
		return err
	}
	color.Green("  ✓ %s\n", msg)
	return nil
}

func runStatus(ctx context.Context) error {
	st, err := newAPIClient().status(ctx)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(w io.Writer, st *gateway.BotStatusResponse) {
	if st.Status != gateway.StatusRunning {
		fmt.Fprintf(w, "%s\n", color.YellowString(st.Status))
		return
	}
	fmt.Fprintf(w, "%s  %s on %s:%d\n", color.GreenString(st.Status), st.BotName, st.Host, st.Port)
}

func runEvents(ctx context.Context, args []string) error {
	limit := 0
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var raw string
		switch {
		case arg == "--limit" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			raw = args[i+1]
			i++
		case strings.HasPrefix(arg, "--limit="):
			raw = strings.TrimPrefix(arg, "--limit=")
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fmt.Errorf("--limit must be a positive integer")
		}
		limit = n
	}

	events, err := newAPIClient().events(ctx, limit)
	if err != nil {
		return err
	}
	printEvents(os.Stdout, events)
	return nil
}

func printEvents(w io.Writer, events []gateway.AgentEventResponse) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tGEN\tTYPE\tDETAIL")
	for _, evt := range events {
		ts := evt.CreatedAt
		if t, err := time.Parse(time.RFC3339Nano, evt.CreatedAt); err == nil {
			ts = t.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ts, evt.Generation, evt.Type, evt.Detail)
	}
	_ = tw.Flush()
}
