// Package main implements a mock image-editing provider for local
// development and e2e testing. It serves OpenAI-compatible endpoints:
// /v1/chat/completions for the enhancement and grading calls and
// /v1/images/edits for generation, so a model registry pointed at it
// runs the full pipeline offline, fast, and deterministically.
//
// Usage:
//
//	mock-provider -port 11434 -latency 500ms -fixtures /path/to/fixtures
//
// With no fixtures the server answers from built-in behavior: grading
// prompts get a passing verdict, enhancement prompts get the edit
// request echoed back as a rewritten prompt, and the edits endpoint
// returns a 1x1 PNG (or the -image file). Fixture files override the
// chat behavior per model: "mock-validate.txt" is returned verbatim as
// the assistant message for model "mock-validate".
//
// Sequential fixtures: if numbered files exist ("mock-validate.1.txt",
// "mock-validate.2.txt"), the Nth call to that model returns the Nth
// fixture, and the base "mock-validate.txt" repeats once the numbered
// ones are exhausted. This scripts fail→fail→pass loops for exercising
// the escalation ladder.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// pixelB64 is a 1x1 transparent PNG, the default edits output.
const pixelB64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

// graderMarker identifies a grading prompt. It matches the fixed
// preamble of the validation template.
const graderMarker = "quality grader"

// editRequestMarker precedes the raw edit request in the enhancement
// prompt template.
const editRequestMarker = "Edit request:"

// chatRequest is the vision-format chat completions request: message
// content arrives as an array of typed parts.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// responseMessage carries plain string content, matching what real
// providers return even for vision requests.
type responseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// capturedCall stores the key fields of a provider call for test
// verification via /requests.
type capturedCall struct {
	Model     string `json:"model"`
	Operation string `json:"operation"`
	Prompt    string `json:"prompt"`
	Images    int    `json:"images"`
	CallIndex int    `json:"call_index"`
	Timestamp int64  `json:"timestamp"`
}

type server struct {
	fixtures map[string][]string
	imageB64 string
	latency  time.Duration
	logger   *slog.Logger

	calls atomic.Int64

	// Per-model call counters drive sequential fixture selection and
	// the /stats breakdown.
	modelCalls   map[string]*atomic.Int64
	modelCallsMu sync.Mutex

	captured   map[string][]capturedCall
	capturedMu sync.Mutex
}

func newServer(fixtures map[string][]string, imageB64 string, latency time.Duration, logger *slog.Logger) *server {
	return &server{
		fixtures:   fixtures,
		imageB64:   imageB64,
		latency:    latency,
		logger:     logger,
		modelCalls: make(map[string]*atomic.Int64),
		captured:   make(map[string][]capturedCall),
	}
}

func main() {
	port := flag.Int("port", 11434, "port to listen on")
	fixtureDir := flag.String("fixtures", "", "optional directory of per-model chat fixtures")
	imagePath := flag.String("image", "", "optional image file returned by the edits endpoint")
	latency := flag.Duration("latency", 0, "artificial delay added to every provider call")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if envDir := os.Getenv("MOCK_PROVIDER_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	fixtures := map[string][]string{}
	if *fixtureDir != "" {
		loaded, err := loadFixtures(*fixtureDir)
		if err != nil {
			logger.Error("failed to load fixtures", "dir", *fixtureDir, "error", err)
			os.Exit(1)
		}
		fixtures = loaded
		for model, seq := range fixtures {
			logger.Info("loaded fixtures", "model", model, "count", len(seq))
		}
	}

	imageB64 := pixelB64
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			logger.Error("failed to read image", "path", *imagePath, "error", err)
			os.Exit(1)
		}
		imageB64 = base64.StdEncoding.EncodeToString(data)
	}

	s := newServer(fixtures, imageB64, *latency, logger)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("mock provider listening", "addr", addr, "latency", *latency)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/images/edits", s.handleImageEdits)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChatCompletions serves the enhancement and grading calls.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	prompt, images := flattenMessages(req.Messages)
	callIndex := s.nextCall(req.Model)
	s.capture(capturedCall{
		Model:     req.Model,
		Operation: "chat",
		Prompt:    prompt,
		Images:    images,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})

	total := s.calls.Add(1)
	s.logger.Info("chat call",
		"call", total,
		"model", req.Model,
		"call_index", callIndex,
		"images", images)

	if !s.pause(w, r) {
		return
	}

	content := s.chatContent(req.Model, callIndex, prompt)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      responseMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(prompt) + len(content)) / 4,
		},
	})
}

// chatContent resolves the assistant message: a fixture when one is
// configured for the model, the built-in behavior otherwise.
func (s *server) chatContent(model string, callIndex int, prompt string) string {
	seq, ok := s.fixtures[model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(model, "mock-")]
	}
	if ok {
		if callIndex <= len(seq) {
			return seq[callIndex-1]
		}
		return seq[len(seq)-1]
	}

	if strings.Contains(prompt, graderMarker) {
		return `{"score": 9, "passed": true, "issues": [], "reasoning": "mock verdict", "status": "PASS"}`
	}

	// Enhancement: echo the edit request back as the rewritten prompt.
	request := prompt
	if idx := strings.LastIndex(prompt, editRequestMarker); idx >= 0 {
		request = strings.TrimSpace(prompt[idx+len(editRequestMarker):])
	}
	return "Apply exactly this edit: " + request + " Change nothing else."
}

// handleImageEdits serves the generation calls.
func (s *server) handleImageEdits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid multipart body: %v", err), http.StatusBadRequest)
		return
	}

	model := r.FormValue("model")
	prompt := r.FormValue("prompt")
	images := 0
	if r.MultipartForm != nil {
		images = len(r.MultipartForm.File["image"])
	}
	if images == 0 {
		http.Error(w, "missing image part", http.StatusBadRequest)
		return
	}

	callIndex := s.nextCall(model)
	s.capture(capturedCall{
		Model:     model,
		Operation: "edit",
		Prompt:    prompt,
		Images:    images,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})

	total := s.calls.Add(1)
	s.logger.Info("edit call", "call", total, "model", model, "call_index", callIndex)

	if !s.pause(w, r) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": []map[string]string{{"b64_json": s.imageB64}},
	})
}

// pause applies the configured latency, honoring client disconnects.
// Returns false when the request context ended during the wait.
func (s *server) pause(w http.ResponseWriter, r *http.Request) bool {
	if s.latency <= 0 {
		return true
	}
	select {
	case <-time.After(s.latency):
		return true
	case <-r.Context().Done():
		http.Error(w, "client gone", http.StatusRequestTimeout)
		return false
	}
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.modelCallsMu.Lock()
	byModel := make(map[string]int64, len(s.modelCalls))
	for model, counter := range s.modelCalls {
		byModel[model] = counter.Load()
	}
	s.modelCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": byModel,
	})
}

// handleRequests returns captured calls for prompt verification.
// Optional query params: model (filter by model) and call (filter by
// 1-indexed per-model call number).
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter := r.URL.Query().Get("call")

	s.capturedMu.Lock()
	result := make(map[string][]capturedCall)
	for model, calls := range s.captured {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		if callFilter != "" {
			if wanted, err := strconv.Atoi(callFilter); err == nil {
				for _, call := range calls {
					if call.CallIndex == wanted {
						result[model] = append(result[model], call)
					}
				}
				continue
			}
		}
		result[model] = calls
	}
	s.capturedMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"requests_by_model": result})
}

// nextCall increments and returns the 1-indexed call number for a model.
func (s *server) nextCall(model string) int {
	s.modelCallsMu.Lock()
	counter, ok := s.modelCalls[model]
	if !ok {
		counter = &atomic.Int64{}
		s.modelCalls[model] = counter
	}
	s.modelCallsMu.Unlock()
	return int(counter.Add(1))
}

func (s *server) capture(call capturedCall) {
	s.capturedMu.Lock()
	defer s.capturedMu.Unlock()
	s.captured[call.Model] = append(s.captured[call.Model], call)
}

// flattenMessages extracts the concatenated text and attached image
// count from vision-format messages.
func flattenMessages(messages []chatMessage) (string, int) {
	var text strings.Builder
	images := 0
	for _, msg := range messages {
		for _, part := range msg.Content {
			switch part.Type {
			case "text":
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(part.Text)
			case "image_url":
				images++
			}
		}
	}
	return text.String(), images
}

// numberedFixtureRe matches files like "mock-validate.2.txt".
var numberedFixtureRe = regexp.MustCompile(`^(.+)\.(\d+)\.txt$`)

// loadFixtures reads .txt files from dir into per-model response
// sequences: numbered files in numeric order, then the base file as the
// repeating fallback. File content is returned verbatim as the
// assistant message.
func loadFixtures(dir string) (map[string][]string, error) {
	base := make(map[string]string)
	numbered := make(map[string]map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".txt") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := strings.TrimSpace(string(data))

		if matches := numberedFixtureRe.FindStringSubmatch(info.Name()); matches != nil {
			model := matches[1]
			index, _ := strconv.Atoi(matches[2])
			if numbered[model] == nil {
				numbered[model] = make(map[int]string)
			}
			numbered[model][index] = content
			return nil
		}

		base[strings.TrimSuffix(info.Name(), ".txt")] = content
		return nil
	})
	if err != nil {
		return nil, err
	}

	models := make(map[string]bool)
	for m := range base {
		models[m] = true
	}
	for m := range numbered {
		models[m] = true
	}

	fixtures := make(map[string][]string)
	for model := range models {
		var seq []string
		if ordered, ok := numbered[model]; ok {
			indices := make([]int, 0, len(ordered))
			for idx := range ordered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, ordered[idx])
			}
		}
		if content, ok := base[model]; ok {
			seq = append(seq, content)
		}
		if len(seq) > 0 {
			fixtures[model] = seq
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
