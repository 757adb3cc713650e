package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// GatewayClient submits tasks to the task gateway for e2e testing.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGatewayClient creates a new client for the task gateway.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TaskSubmission is one edit task to submit.
type TaskSubmission struct {
	TaskID      string
	Instruction string
	Category    string
	Image       []byte
}

// TaskAck is the gateway's acceptance response.
type TaskAck struct {
	TaskID      string `json:"task_id"`
	TraceID     string `json:"trace_id"`
	ImageObject string `json:"image_object"`
	Status      string `json:"status"`
}

// Health checks gateway liveness.
func (c *GatewayClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SubmitTask uploads a task as a multipart form and decodes the
// acceptance ack. Non-202 responses are returned as errors.
func (c *GatewayClient) SubmitTask(ctx context.Context, sub TaskSubmission) (*TaskAck, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if sub.TaskID != "" {
		if err := mw.WriteField("task_id", sub.TaskID); err != nil {
			return nil, fmt.Errorf("write task_id: %w", err)
		}
	}
	if err := mw.WriteField("instruction", sub.Instruction); err != nil {
		return nil, fmt.Errorf("write instruction: %w", err)
	}
	if sub.Category != "" {
		if err := mw.WriteField("category", sub.Category); err != nil {
			return nil, fmt.Errorf("write category: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("image", "reference.png")
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := fw.Write(sub.Image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var ack TaskAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("unmarshal ack: %w", err)
	}
	return &ack, nil
}

// PostJSON posts an arbitrary JSON body to the task endpoint and
// returns the raw status and body, for exercising validation paths.
func (c *GatewayClient) PostJSON(ctx context.Context, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.PostRaw(ctx, "application/json", data)
}

// PostRaw posts a raw body with the given content type to the task
// endpoint and returns the status and response body.
func (c *GatewayClient) PostRaw(ctx context.Context, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// Get issues a GET against the task endpoint, for method checks.
func (c *GatewayClient) Get(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
