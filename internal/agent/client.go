package agent

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

	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/models"
)

// Client talks to the central controller's API on behalf of the agent.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the central controller at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Total   int             `json:"total"`
	Error   string          `json:"error"`
	Detail  string          `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*apiEnvelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("central returned unparseable response (%d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		return &env, fmt.Errorf("central rejected request (%d %s): %s", resp.StatusCode, env.Error, env.Detail)
	}
	return &env, nil
}

// Healthz probes the central liveness endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	return err
}

// ListNodes pulls node records from central. groupID narrows to one site.
func (c *Client) ListNodes(ctx context.Context, groupID string) ([]*models.Node, error) {
	path := "/api/v1/nodes"
	if groupID != "" {
		path += "?group_id=" + url.QueryEscape(groupID)
	}
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var nodes []*models.Node
	if err := json.Unmarshal(env.Data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetWorkflow pulls one workflow record from central.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var wf models.Workflow
	if err := json.Unmarshal(env.Data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Report delivers a node status report. Reports carry an event id so a
// replay after an ambiguous failure is acknowledged, not double-applied.
func (c *Client) Report(ctx context.Context, report lifecycle.Report) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/nodes/report", report)
	return err
}

// RegisterNode creates a node on central.
func (c *Client) RegisterNode(ctx context.Context, node *models.Node) (*models.Node, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/v1/nodes", node)
	if err != nil {
		return nil, err
	}
	var created models.Node
	if err := json.Unmarshal(env.Data, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// BootScript forwards a boot request to central and returns the raw iPXE
// script text.
func (c *Client) BootScript(ctx context.Context, mac, nodeIP string, hints models.HardwareHints) (string, error) {
	q := url.Values{}
	q.Set("mac", mac)
	if hints.Vendor != "" {
		q.Set("vendor", hints.Vendor)
	}
	if hints.Model != "" {
		q.Set("model", hints.Model)
	}
	if hints.Serial != "" {
		q.Set("serial", hints.Serial)
	}
	if hints.SystemUUID != "" {
		q.Set("uuid", hints.SystemUUID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/boot?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if nodeIP != "" {
		req.Header.Set("X-Forwarded-For", nodeIP)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("central boot endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchFile streams a boot artifact from central. The caller owns the reader.
func (c *Client) FetchFile(ctx context.Context, path string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("central file endpoint returned %d for %s", resp.StatusCode, path)
	}
	return resp.Body, resp.Header.Get("X-Checksum-SHA256"), nil
}
