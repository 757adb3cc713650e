package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/retouch/model"
	"github.com/c360studio/retouch/pipeline"
)

// ServiceConfig holds per-operation call timeouts. There is no task-wide
// deadline: these are the only bounds on a hung provider call.
type ServiceConfig struct {
	EnhanceTimeout  time.Duration `json:"enhance_timeout"`
	GenerateTimeout time.Duration `json:"generate_timeout"`
	ValidateTimeout time.Duration `json:"validate_timeout"`
}

// DefaultServiceConfig returns the default per-operation timeouts.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		EnhanceTimeout:  60 * time.Second,
		GenerateTimeout: 180 * time.Second,
		ValidateTimeout: 120 * time.Second,
	}
}

// Service adapts the provider client to the pipeline's collaborator
// interfaces: enhancement and validation resolve endpoints through
// capability chains, generation through the profile's own endpoint chain.
type Service struct {
	client   *Client
	registry *model.Registry
	cfg      ServiceConfig
	logger   *slog.Logger
}

// NewService creates a Service backed by the given client and registry.
func NewService(client *Client, registry *model.Registry, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.EnhanceTimeout <= 0 {
		cfg.EnhanceTimeout = DefaultServiceConfig().EnhanceTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultServiceConfig().GenerateTimeout
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = DefaultServiceConfig().ValidateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Enhance expands the raw instruction into a prompt tuned for the given
// profile's generation model.
func (s *Service) Enhance(ctx context.Context, req pipeline.EnhanceRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EnhanceTimeout)
	defer cancel()

	call := &Request{
		Op:     OpEnhance,
		Prompt: enhancePrompt(req.Instruction, req.Profile),
	}
	if req.IncludeImage && len(req.Image) > 0 {
		call.Images = [][]byte{req.Image}
	}

	resp, err := s.client.CallCapability(ctx, model.CapabilityEnhance, call)
	if err != nil {
		return "", fmt.Errorf("enhance for profile %s: %w", req.Profile.Name, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("enhance for profile %s: empty response from %s", req.Profile.Name, resp.Model)
	}

	s.logger.Debug("Instruction enhanced",
		"profile", req.Profile.Name,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"trace_id", req.TraceID)

	return text, nil
}

// Generate produces an edited image via the profile's endpoint chain.
func (s *Service) Generate(ctx context.Context, req pipeline.GenerateRequest) (*pipeline.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	chain, err := s.registry.GenerationChain(req.Profile.Name)
	if err != nil {
		return nil, fmt.Errorf("generate for profile %s: %w", req.Profile.Name, err)
	}

	call := &Request{
		Op:     OpGenerate,
		Prompt: req.Instruction,
		Images: [][]byte{req.BaseImage},
	}

	resp, err := s.client.CallChain(ctx, chain, call)
	if err != nil {
		return nil, fmt.Errorf("generate for profile %s: %w", req.Profile.Name, err)
	}
	if len(resp.Image) == 0 {
		return nil, fmt.Errorf("generate for profile %s: no image in response from %s", req.Profile.Name, resp.Model)
	}

	s.logger.Debug("Image generated",
		"profile", req.Profile.Name,
		"model", resp.Model,
		"bytes", len(resp.Image),
		"trace_id", req.TraceID)

	return &pipeline.Artifact{
		Profile: req.Profile.Name,
		Image:   resp.Image,
		Locator: resp.Locator,
	}, nil
}

// Validate grades a candidate against the original reference image. The
// grading endpoint runs a higher-cost reasoning mode, which is why callers
// pace these calls.
func (s *Service) Validate(ctx context.Context, req pipeline.ValidateRequest) (*pipeline.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ValidateTimeout)
	defer cancel()

	call := &Request{
		Op:     OpValidate,
		Prompt: validatePrompt(req.Instruction),
		Images: [][]byte{req.Candidate, req.Reference},
	}

	resp, err := s.client.CallCapability(ctx, model.CapabilityValidate, call)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	outcome, err := ParseVerdict(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("validate: %w (response from %s)", err, resp.Model)
	}

	s.logger.Debug("Candidate graded",
		"model", resp.Model,
		"score", outcome.Score,
		"status", outcome.Status,
		"trace_id", req.TraceID)

	return outcome, nil
}
