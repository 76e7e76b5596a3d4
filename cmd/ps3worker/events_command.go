package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/api"
	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/progress"
)

const cliTokenTTL = 5 * time.Minute

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var asJSON bool
	var server string

	cmd := &cobra.Command{
		Use:   "events <task-id>",
		Short: "Show the progress events of a task",
		Long: "Fetch the retained progress history of a task from the worker API. " +
			"With --follow the command stays attached over a websocket until the task finishes.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, server)
			if err != nil {
				return err
			}
			taskID := strings.TrimSpace(args[0])
			emit := func(evt progress.Event) error {
				if asJSON {
					return writeJSON(cmd, evt)
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatEvent(evt))
				return nil
			}

			if follow {
				return client.follow(cmd.Context(), taskID, emit)
			}
			events, err := client.history(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No events retained for %s\n", taskID)
				return nil
			}
			for _, evt := range events {
				if err := emit(evt); err != nil {
					return err
				}
			}
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), countLabel(len(events), "event"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream live events until the task finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output one JSON object per event")
	cmd.Flags().StringVar(&server, "server", "", "API base URL (defaults to http://<api.bind>)")
	return cmd
}

type apiClient struct {
	base   *url.URL
	secret string
	http   *http.Client
}

func newAPIClient(cfg *config.Config, server string) (*apiClient, error) {
	raw := strings.TrimSpace(server)
	if raw == "" {
		raw = "http://" + cfg.API.Bind
	}
	base, err := url.Parse(raw)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid API address %q", raw)
	}
	return &apiClient{
		base:   base,
		secret: cfg.API.JWTSecret,
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) endpoint(scheme string, parts ...string) *url.URL {
	u := *c.base
	if scheme != "" {
		u.Scheme = scheme
	}
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.PathEscape(part)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return &u
}

func (c *apiClient) token() (string, error) {
	if c.secret == "" {
		return "", nil
	}
	return api.IssueToken(c.secret, "ps3worker-cli", cliTokenTTL)
}

func (c *apiClient) history(ctx context.Context, taskID string) ([]progress.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("", "tasks", taskID, "history").String(), nil)
	if err != nil {
		return nil, err
	}
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query worker API: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read worker API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("worker API: %s (%d)", apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("worker API returned %s", resp.Status)
	}
	var payload api.HistoryResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return payload.Events, nil
}

func (c *apiClient) follow(ctx context.Context, taskID string, handle func(progress.Event) error) error {
	scheme := "ws"
	if c.base.Scheme == "https" {
		scheme = "wss"
	}
	target := c.endpoint(scheme, "tasks", taskID, "ws")
	token, err := c.token()
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	if token != "" {
		q := target.Query()
		q.Set("token", token)
		target.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("open event stream: %s", resp.Status)
		}
		return fmt.Errorf("open event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var evt progress.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("event stream closed unexpectedly")
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := handle(evt); err != nil {
			return err
		}
		if progress.Terminal(evt) {
			return nil
		}
	}
}

func formatEvent(evt progress.Event) string {
	ts := evt.Timestamp.Local().Format("15:04:05")
	switch evt.Kind {
	case progress.KindProgress:
		return fmt.Sprintf("%s  %-10s %3v%%  %-14v %v", ts, evt.Kind, evt.Data["progress"], evt.Data["stage"], evt.Data["message"])
	case progress.KindStatus:
		return fmt.Sprintf("%s  %-10s %v  %v", ts, evt.Kind, evt.Data["status"], evt.Data["message"])
	case progress.KindError:
		return fmt.Sprintf("%s  %-10s %v: %v", ts, evt.Kind, evt.Data["error"], evt.Data["details"])
	default:
		data, _ := json.Marshal(evt.Data)
		return fmt.Sprintf("%s  %-10s %s", ts, evt.Kind, data)
	}
}
