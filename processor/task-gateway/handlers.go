package taskgateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"

	taskorchestrator "github.com/c360studio/retouch/processor/task-orchestrator"
)

// multipartMemoryLimit is how much of a multipart body is held in
// memory before spilling to disk.
const multipartMemoryLimit = 8 << 20 // 8 MB

// CreateTaskRequest is the JSON form of a task submission. The image
// travels either inline as base64 or as a URL the gateway downloads.
type CreateTaskRequest struct {
	TaskID      string `json:"task_id,omitempty"`
	Instruction string `json:"instruction"`
	Category    string `json:"category,omitempty"`
	ImageB64    string `json:"image_b64,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// CreateTaskResponse acknowledges an accepted task.
type CreateTaskResponse struct {
	TaskID      string `json:"task_id"`
	TraceID     string `json:"trace_id"`
	ImageObject string `json:"image_object"`
	Status      string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// buildMux wires the gateway routes.
func (c *Component) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tasks", c.handleCreateTask)
	mux.HandleFunc("/healthz", c.handleHealthz)
	return mux
}

// handleCreateTask accepts one edit task, stores its reference image,
// and publishes the delivery event. Accepts multipart form uploads and
// JSON bodies with inline base64 or a downloadable image URL.
func (c *Component) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.requestsReceived.Add(1)
	c.updateLastActivity()

	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxBodyBytes)

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		c.handleMultipartTask(w, r)
	case strings.HasPrefix(contentType, "application/json"):
		c.handleJSONTask(w, r)
	default:
		c.rejectRequest(w, http.StatusBadRequest, "unsupported content type")
	}
}

func (c *Component) handleMultipartTask(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		c.rejectRequest(w, statusForBodyError(err), fmt.Sprintf("parse form: %v", err))
		return
	}

	instruction := strings.TrimSpace(r.FormValue("instruction"))
	if instruction == "" {
		c.rejectRequest(w, http.StatusBadRequest, "instruction is required")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		c.rejectRequest(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		c.rejectRequest(w, statusForBodyError(err), fmt.Sprintf("read image: %v", err))
		return
	}

	c.acceptTask(w, r, taskSubmission{
		TaskID:      strings.TrimSpace(r.FormValue("task_id")),
		Instruction: instruction,
		Category:    strings.TrimSpace(r.FormValue("category")),
		Image:       image,
	})
}

func (c *Component) handleJSONTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.rejectRequest(w, statusForBodyError(err), fmt.Sprintf("parse request: %v", err))
		return
	}

	if strings.TrimSpace(req.Instruction) == "" {
		c.rejectRequest(w, http.StatusBadRequest, "instruction is required")
		return
	}
	if req.ImageB64 == "" && req.ImageURL == "" {
		c.rejectRequest(w, http.StatusBadRequest, "image_b64 or image_url is required")
		return
	}
	if req.ImageB64 != "" && req.ImageURL != "" {
		c.rejectRequest(w, http.StatusBadRequest, "image_b64 and image_url are mutually exclusive")
		return
	}

	var image []byte
	if req.ImageB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			c.rejectRequest(w, http.StatusBadRequest, "image_b64 is not valid base64")
			return
		}
		image = decoded
	} else {
		fetched, err := c.fetcher.Fetch(r.Context(), req.ImageURL)
		if err != nil {
			if errors.Is(err, errImageTooLarge) {
				c.rejectRequest(w, http.StatusRequestEntityTooLarge, err.Error())
				return
			}
			c.rejectRequest(w, http.StatusBadRequest, fmt.Sprintf("fetch image: %v", err))
			return
		}
		image = fetched
	}

	c.acceptTask(w, r, taskSubmission{
		TaskID:      strings.TrimSpace(req.TaskID),
		Instruction: strings.TrimSpace(req.Instruction),
		Category:    strings.TrimSpace(req.Category),
		Image:       image,
	})
}

// taskSubmission is a decoded task request, source-agnostic.
type taskSubmission struct {
	TaskID      string
	Instruction string
	Category    string
	Image       []byte
}

// acceptTask stores the reference image, publishes the delivery event,
// and acknowledges with 202. The task id is generated when the client
// did not supply one; clients that retry with the same id get duplicate
// absorption downstream.
func (c *Component) acceptTask(w http.ResponseWriter, r *http.Request, sub taskSubmission) {
	if len(sub.Image) == 0 {
		c.rejectRequest(w, http.StatusBadRequest, "image is empty")
		return
	}
	if int64(len(sub.Image)) > c.config.MaxBodyBytes {
		c.rejectRequest(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if !strings.HasPrefix(http.DetectContentType(sub.Image), "image/") {
		c.rejectRequest(w, http.StatusBadRequest, "file is not an image")
		return
	}

	if sub.TaskID == "" {
		sub.TaskID = uuid.NewString()
	}
	traceID := uuid.NewString()

	objectName, err := c.images.Put(r.Context(), sub.Image, http.DetectContentType(sub.Image))
	if err != nil {
		c.logger.Error("Failed to store reference image",
			"task_id", sub.TaskID,
			"error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to store image"})
		return
	}

	payload := taskorchestrator.TaskDeliveryPayload{
		TaskID:      sub.TaskID,
		Instruction: sub.Instruction,
		Category:    sub.Category,
		ImageObject: objectName,
		TraceID:     traceID,
		DeliveredAt: time.Now(),
	}

	baseMsg := message.NewBaseMessage(taskorchestrator.TaskDeliveryType, &payload, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Error("Failed to marshal delivery",
			"task_id", sub.TaskID,
			"error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to publish task"})
		return
	}

	subject := fmt.Sprintf("%s.%s", c.config.DeliverSubjectPrefix, sub.TaskID)
	if err := c.publisher.PublishToStream(r.Context(), subject, data); err != nil {
		c.logger.Error("Failed to publish delivery",
			"task_id", sub.TaskID,
			"subject", subject,
			"error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to publish task"})
		return
	}

	c.tasksAccepted.Add(1)
	c.logger.Info("Task accepted",
		"task_id", sub.TaskID,
		"trace_id", traceID,
		"category", sub.Category,
		"image_bytes", len(sub.Image),
		"image_object", objectName)

	writeJSON(w, http.StatusAccepted, CreateTaskResponse{
		TaskID:      sub.TaskID,
		TraceID:     traceID,
		ImageObject: objectName,
		Status:      "accepted",
	})
}

// handleHealthz reports liveness.
func (c *Component) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(c.startTime).String(),
	})
}

func (c *Component) rejectRequest(w http.ResponseWriter, status int, msg string) {
	c.requestsRejected.Add(1)
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusForBodyError distinguishes an oversized body from a malformed
// one: MaxBytesReader failures map to 413, everything else to 400.
func statusForBodyError(err error) int {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing to do.
		_ = err
	}
}
