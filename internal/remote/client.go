package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ws "github.com/coder/websocket"

	"choreboard/internal/model"
)

// Client talks to the family hub over HTTP and implements Service. Every
// request carries the acting member's id; the hub resolves it to an actor.
type Client struct {
	baseURL string
	actorID string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, actorID string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actorID: actorID,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With("component", "remote_client"),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Member-ID", c.actorID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) Fetch(ctx context.Context, familyID string) (Family, error) {
	var fam Family
	err := c.do(ctx, http.MethodGet, "/api/families/"+familyID, nil, &fam)
	return fam, err
}

func (c *Client) InsertMember(ctx context.Context, m model.Member) (model.Member, error) {
	var out model.Member
	err := c.do(ctx, http.MethodPost, "/api/members", m, &out)
	return out, err
}

func (c *Client) UpdateMember(ctx context.Context, m model.Member) (model.Member, error) {
	var out model.Member
	err := c.do(ctx, http.MethodPut, "/api/members/"+m.ID, m, &out)
	return out, err
}

func (c *Client) InsertTemplate(ctx context.Context, t model.TaskTemplate) (model.TaskTemplate, error) {
	var out model.TaskTemplate
	err := c.do(ctx, http.MethodPost, "/api/templates", t, &out)
	return out, err
}

func (c *Client) UpdateTemplate(ctx context.Context, t model.TaskTemplate) (model.TaskTemplate, error) {
	var out model.TaskTemplate
	err := c.do(ctx, http.MethodPut, "/api/templates/"+t.ID, t, &out)
	return out, err
}

func (c *Client) InsertInstance(ctx context.Context, i model.TaskInstance) (model.TaskInstance, error) {
	var out model.TaskInstance
	err := c.do(ctx, http.MethodPost, "/api/instances", i, &out)
	return out, err
}

func (c *Client) UpdateInstanceStatusIf(ctx context.Context, expect model.Status, i model.TaskInstance) (bool, model.TaskInstance, error) {
	req := struct {
		Expect   model.Status       `json:"expect"`
		Instance model.TaskInstance `json:"instance"`
	}{Expect: expect, Instance: i}
	var resp struct {
		Applied  bool               `json:"applied"`
		Instance model.TaskInstance `json:"instance"`
	}
	err := c.do(ctx, http.MethodPost, "/api/instances/"+i.ID+"/status", req, &resp)
	return resp.Applied, resp.Instance, err
}

func (c *Client) AppendLedger(ctx context.Context, e model.LedgerEntry) (model.LedgerEntry, error) {
	var out model.LedgerEntry
	err := c.do(ctx, http.MethodPost, "/api/ledger", e, &out)
	return out, err
}

// Subscribe opens the push channel. Events arrive until ctx is cancelled or
// the connection drops; either way the returned channel is closed, and the
// caller decides whether to redial.
func (c *Client) Subscribe(ctx context.Context, familyID string) (<-chan ChangeEvent, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws/" + familyID
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	ch := make(chan ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer conn.Close(ws.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("push channel closed", "error", err)
				}
				return
			}
			var ev ChangeEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				c.logger.Warn("malformed push event", "error", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
