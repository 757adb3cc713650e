package scenarios

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/c360studio/retouch/test/e2e/client"
	"github.com/c360studio/retouch/test/e2e/config"
)

// GatewayValidationScenario sends malformed submissions to the gateway
// and verifies each is rejected with the right status and that none of
// them leak a delivery event onto the stream.
type GatewayValidationScenario struct {
	cfg        *config.Config
	env        *env
	deliveries *client.MessageCapture
}

// NewGatewayValidationScenario creates the scenario.
func NewGatewayValidationScenario(cfg *config.Config) *GatewayValidationScenario {
	return &GatewayValidationScenario{cfg: cfg}
}

// Name returns the scenario name.
func (s *GatewayValidationScenario) Name() string {
	return "gateway-validation"
}

// Description describes what the scenario verifies.
func (s *GatewayValidationScenario) Description() string {
	return "Sends malformed task submissions and verifies each is rejected without publishing a delivery event"
}

// Setup connects the clients and starts capturing delivery events.
func (s *GatewayValidationScenario) Setup(ctx context.Context) error {
	s.env = newEnv(s.cfg)
	if err := s.env.connect(ctx); err != nil {
		return err
	}

	capture, err := s.env.nats.CaptureMessages(config.DeliverySubjectWildcard)
	if err != nil {
		_ = s.env.close(ctx)
		return err
	}
	s.deliveries = capture
	return nil
}

// Execute runs the scenario.
func (s *GatewayValidationScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	cases := []struct {
		name       string
		submit     func(context.Context) (int, error)
		wantStatus int
	}{
		{
			name: "missing instruction",
			submit: func(ctx context.Context) (int, error) {
				status, _, err := s.env.gateway.PostJSON(ctx, map[string]any{
					"image_b64": pixelB64,
				})
				return status, err
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing image",
			submit: func(ctx context.Context) (int, error) {
				status, _, err := s.env.gateway.PostJSON(ctx, map[string]any{
					"instruction": "Remove the lamp",
				})
				return status, err
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "conflicting image sources",
			submit: func(ctx context.Context) (int, error) {
				status, _, err := s.env.gateway.PostJSON(ctx, map[string]any{
					"instruction": "Remove the lamp",
					"image_b64":   pixelB64,
					"image_url":   "http://example.com/reference.png",
				})
				return status, err
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid base64",
			submit: func(ctx context.Context) (int, error) {
				status, _, err := s.env.gateway.PostJSON(ctx, map[string]any{
					"instruction": "Remove the lamp",
					"image_b64":   "!!!not-base64!!!",
				})
				return status, err
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "payload is not an image",
			submit: func(ctx context.Context) (int, error) {
				status, _, err := s.env.gateway.PostJSON(ctx, map[string]any{
					"instruction": "Remove the lamp",
					"image_b64":   base64.StdEncoding.EncodeToString([]byte("plain text, not pixels")),
				})
				return status, err
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unsupported content type",
			submit: func(ctx context.Context) (int, error) {
				status, _, err := s.env.gateway.PostRaw(ctx, "text/plain", []byte("remove the lamp"))
				return status, err
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "method not allowed",
			submit: func(ctx context.Context) (int, error) {
				return s.env.gateway.Get(ctx)
			},
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tc := range cases {
		err := runStage(ctx, result, tc.name, func(ctx context.Context) error {
			status, err := tc.submit(ctx)
			if err != nil {
				return err
			}
			if status != tc.wantStatus {
				return fmt.Errorf("HTTP %d, want %d", status, tc.wantStatus)
			}
			return nil
		})
		if err != nil {
			return result, nil
		}
	}

	err := runStage(ctx, result, "no deliveries published", func(ctx context.Context) error {
		select {
		case <-time.After(config.QuietPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}
		if n := s.deliveries.Count(); n != 0 {
			return fmt.Errorf("%d delivery events published for rejected submissions", n)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	result.SetMetric("rejected_submissions", len(cases))
	result.Success = true
	return result, nil
}

// Teardown stops captures and closes connections.
func (s *GatewayValidationScenario) Teardown(ctx context.Context) error {
	if s.deliveries != nil {
		_ = s.deliveries.Stop()
	}
	if s.env != nil {
		return s.env.close(ctx)
	}
	return nil
}
