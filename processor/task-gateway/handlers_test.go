package taskgateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	taskorchestrator "github.com/c360studio/retouch/processor/task-orchestrator"
)

// pngBytes is a minimal payload http.DetectContentType sniffs as image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type fakeImageStore struct {
	puts     int
	lastData []byte
	lastCT   string
	err      error
}

func (f *fakeImageStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	f.puts++
	f.lastData = data
	f.lastCT = contentType
	if f.err != nil {
		return "", f.err
	}
	return "obj-test", nil
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) PublishToStream(_ context.Context, subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

// setupTestComponent creates a gateway Component wired to fake stores.
func setupTestComponent(t *testing.T) (*Component, *fakeImageStore, *fakePublisher, *httptest.Server) {
	t.Helper()

	images := &fakeImageStore{}
	publisher := &fakePublisher{}
	cfg := DefaultConfig()
	c := &Component{
		name:      "task-gateway",
		config:    cfg,
		logger:    slog.Default(),
		images:    images,
		publisher: publisher,
		fetcher:   newImageFetcher(cfg.FetchTimeout, cfg.MaxBodyBytes),
	}

	srv := httptest.NewServer(c.buildMux())
	t.Cleanup(srv.Close)
	return c, images, publisher, srv
}

// multipartBody builds a multipart form with the given fields and image.
func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if image != nil {
		fw, err := w.CreateFormFile("image", "reference.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(image); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestHandleCreateTask_Multipart(t *testing.T) {
	_, images, publisher, srv := setupTestComponent(t)

	body, contentType := multipartBody(t, map[string]string{
		"task_id":     "task-42",
		"instruction": "Remove the lamp in the background",
		"category":    "product/furniture",
	}, pngBytes)

	resp, err := http.Post(srv.URL+"/v1/tasks", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var ack CreateTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ack.TaskID != "task-42" {
		t.Errorf("expected task-42, got %s", ack.TaskID)
	}
	if ack.Status != "accepted" {
		t.Errorf("expected status accepted, got %s", ack.Status)
	}
	if ack.TraceID == "" {
		t.Error("expected a trace id")
	}
	if ack.ImageObject != "obj-test" {
		t.Errorf("expected image object obj-test, got %s", ack.ImageObject)
	}

	if images.puts != 1 {
		t.Fatalf("expected 1 image store put, got %d", images.puts)
	}
	if images.lastCT != "image/png" {
		t.Errorf("expected content type image/png, got %s", images.lastCT)
	}
	if !bytes.Equal(images.lastData, pngBytes) {
		t.Error("stored image bytes differ from upload")
	}

	if len(publisher.subjects) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(publisher.subjects))
	}
	if publisher.subjects[0] != "retouch.task.delivered.task-42" {
		t.Errorf("unexpected subject %s", publisher.subjects[0])
	}

	delivery, err := taskorchestrator.ParseDelivery(publisher.payloads[0])
	if err != nil {
		t.Fatalf("parse published delivery: %v", err)
	}
	if delivery.TaskID != "task-42" {
		t.Errorf("expected delivery task-42, got %s", delivery.TaskID)
	}
	if delivery.ImageObject != "obj-test" {
		t.Errorf("expected delivery image object obj-test, got %s", delivery.ImageObject)
	}
	if delivery.Category != "product/furniture" {
		t.Errorf("unexpected delivery category %s", delivery.Category)
	}
	if err := delivery.Validate(); err != nil {
		t.Errorf("published delivery should validate: %v", err)
	}
}

func TestHandleCreateTask_MultipartGeneratesTaskID(t *testing.T) {
	_, _, publisher, srv := setupTestComponent(t)

	body, contentType := multipartBody(t, map[string]string{
		"instruction": "Brighten the scene",
	}, pngBytes)

	resp, err := http.Post(srv.URL+"/v1/tasks", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var ack CreateTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ack.TaskID == "" {
		t.Fatal("expected a generated task id")
	}
	if len(publisher.subjects) != 1 || !strings.HasSuffix(publisher.subjects[0], ack.TaskID) {
		t.Errorf("publish subject should end with the generated id: %v", publisher.subjects)
	}
}

func TestHandleCreateTask_MultipartValidation(t *testing.T) {
	tests := []struct {
		name       string
		fields     map[string]string
		image      []byte
		wantStatus int
	}{
		{
			name:       "missing instruction",
			fields:     map[string]string{"task_id": "t1"},
			image:      pngBytes,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing image",
			fields:     map[string]string{"instruction": "do something"},
			image:      nil,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not an image",
			fields:     map[string]string{"instruction": "do something"},
			image:      []byte("plain text, definitely not pixels"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, srv := setupTestComponent(t)

			body, contentType := multipartBody(t, tt.fields, tt.image)
			resp, err := http.Post(srv.URL+"/v1/tasks", contentType, body)
			if err != nil {
				t.Fatalf("POST /v1/tasks: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestHandleCreateTask_JSON(t *testing.T) {
	_, images, publisher, srv := setupTestComponent(t)

	reqBody, _ := json.Marshal(CreateTaskRequest{
		TaskID:      "task-json",
		Instruction: "Make the sky bluer",
		ImageB64:    base64.StdEncoding.EncodeToString(pngBytes),
	})

	resp, err := http.Post(srv.URL+"/v1/tasks", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if images.puts != 1 {
		t.Errorf("expected 1 image store put, got %d", images.puts)
	}
	if len(publisher.subjects) != 1 || publisher.subjects[0] != "retouch.task.delivered.task-json" {
		t.Errorf("unexpected publishes: %v", publisher.subjects)
	}
}

func TestHandleCreateTask_JSONValidation(t *testing.T) {
	tests := []struct {
		name       string
		request    CreateTaskRequest
		wantStatus int
	}{
		{
			name:       "missing instruction",
			request:    CreateTaskRequest{ImageB64: "aGVsbG8="},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing image source",
			request:    CreateTaskRequest{Instruction: "edit it"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "both image sources",
			request: CreateTaskRequest{
				Instruction: "edit it",
				ImageB64:    "aGVsbG8=",
				ImageURL:    "https://example.com/a.png",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid base64",
			request: CreateTaskRequest{
				Instruction: "edit it",
				ImageB64:    "%%%not-base64%%%",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "plain http url rejected",
			request: CreateTaskRequest{
				Instruction: "edit it",
				ImageURL:    "http://example.com/a.png",
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, srv := setupTestComponent(t)

			reqBody, _ := json.Marshal(tt.request)
			resp, err := http.Post(srv.URL+"/v1/tasks", "application/json", bytes.NewReader(reqBody))
			if err != nil {
				t.Fatalf("POST /v1/tasks: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestHandleCreateTask_ImageTooLarge(t *testing.T) {
	c, _, _, srv := setupTestComponent(t)
	c.config.MaxBodyBytes = 16 // Far below the test image size

	body, contentType := multipartBody(t, map[string]string{
		"instruction": "edit it",
	}, pngBytes)

	resp, err := http.Post(srv.URL+"/v1/tasks", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
}

func TestHandleCreateTask_MethodAndContentType(t *testing.T) {
	_, _, _, srv := setupTestComponent(t)

	resp, err := http.Get(srv.URL + "/v1/tasks")
	if err != nil {
		t.Fatalf("GET /v1/tasks: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/tasks", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported content type, got %d", resp.StatusCode)
	}
}

func TestHandleCreateTask_DownstreamFailures(t *testing.T) {
	t.Run("image store failure", func(t *testing.T) {
		_, images, _, srv := setupTestComponent(t)
		images.err = fmt.Errorf("bucket unavailable")

		body, contentType := multipartBody(t, map[string]string{
			"instruction": "edit it",
		}, pngBytes)

		resp, err := http.Post(srv.URL+"/v1/tasks", contentType, body)
		if err != nil {
			t.Fatalf("POST /v1/tasks: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", resp.StatusCode)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		_, _, publisher, srv := setupTestComponent(t)
		publisher.err = fmt.Errorf("stream unavailable")

		body, contentType := multipartBody(t, map[string]string{
			"instruction": "edit it",
		}, pngBytes)

		resp, err := http.Post(srv.URL+"/v1/tasks", contentType, body)
		if err != nil {
			t.Fatalf("POST /v1/tasks: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", resp.StatusCode)
		}
	})
}

func TestHandleHealthz(t *testing.T) {
	_, _, _, srv := setupTestComponent(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status["status"] != "ok" {
		t.Errorf("expected status ok, got %v", status["status"])
	}
}
