package scenarios

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	taskorchestrator "github.com/c360studio/retouch/processor/task-orchestrator"
	"github.com/c360studio/retouch/test/e2e/client"
	"github.com/c360studio/retouch/test/e2e/config"
)

// pixelB64 is a 1x1 transparent PNG used as the reference image for
// submitted tasks.
const pixelB64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

// env bundles the clients every scenario needs against one deployment.
type env struct {
	cfg      *config.Config
	nats     *client.NATSClient
	gateway  *client.GatewayClient
	provider *client.ProviderClient
	store    *client.StoreClient
}

func newEnv(cfg *config.Config) *env {
	return &env{
		cfg:      cfg,
		gateway:  client.NewGatewayClient(cfg.GatewayURL),
		provider: client.NewProviderClient(cfg.ProviderURL),
	}
}

// connect establishes the NATS connection, opens the stores, and
// verifies the gateway and provider answer their health endpoints.
func (e *env) connect(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, e.cfg.SetupTimeout)
	defer cancel()

	nc, err := client.NewNATSClient(setupCtx, e.cfg.NATSURL)
	if err != nil {
		return err
	}
	e.nats = nc

	store, err := client.NewStoreClient(setupCtx, nc.JetStreamContext())
	if err != nil {
		_ = nc.Close(ctx)
		return err
	}
	e.store = store

	if err := e.gateway.Health(setupCtx); err != nil {
		_ = nc.Close(ctx)
		return fmt.Errorf("gateway not healthy: %w", err)
	}
	if err := e.provider.Health(setupCtx); err != nil {
		_ = nc.Close(ctx)
		return fmt.Errorf("mock provider not healthy: %w", err)
	}
	return nil
}

func (e *env) close(ctx context.Context) error {
	if e.nats == nil {
		return nil
	}
	return e.nats.Close(ctx)
}

// referenceImage returns the test reference image bytes.
func referenceImage() []byte {
	img, err := base64.StdEncoding.DecodeString(pixelB64)
	if err != nil {
		// The constant is well-formed; this cannot happen.
		panic(err)
	}
	return img
}

// runStage executes one named stage, recording its outcome and timing
// on the result. A failed stage sets the result error and is returned
// so the caller can abort the scenario.
func runStage(ctx context.Context, result *Result, name string, fn func(context.Context) error) error {
	start := time.Now()
	if err := fn(ctx); err != nil {
		result.AddStage(name, false, time.Since(start), err.Error())
		result.Error = fmt.Sprintf("%s: %v", name, err)
		result.AddError(result.Error)
		return err
	}
	result.AddStage(name, true, time.Since(start), "")
	return nil
}

// decodeResultEvent peels the message envelope off a captured result
// event and returns its payload.
func decodeResultEvent(msg *nats.Msg) (*taskorchestrator.TaskResultPayload, error) {
	var envelope struct {
		Payload taskorchestrator.TaskResultPayload `json:"payload"`
	}
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal result event: %w", err)
	}
	if envelope.Payload.TaskID == "" {
		return nil, fmt.Errorf("result event has no payload")
	}
	return &envelope.Payload, nil
}

// resultEventsFor filters captured result events down to one task.
func resultEventsFor(capture *client.MessageCapture, taskID string) []*taskorchestrator.TaskResultPayload {
	var events []*taskorchestrator.TaskResultPayload
	for _, msg := range capture.Messages() {
		payload, err := decodeResultEvent(msg)
		if err != nil {
			continue
		}
		if payload.TaskID == taskID {
			events = append(events, payload)
		}
	}
	return events
}
