// Package taskorchestrator consumes task deliveries from JetStream and
// drives each one through the escalation pipeline: parallel refinement,
// decomposed sequential execution, and human-review fallback.
package taskorchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/retouch/genai"
	"github.com/c360studio/retouch/metrics"
	"github.com/c360studio/retouch/model"
	"github.com/c360studio/retouch/pipeline"
	"github.com/c360studio/retouch/storage"
)

// recordWriteTimeout bounds the best-effort KV writes made from
// pipeline observer callbacks.
const recordWriteTimeout = 5 * time.Second

// Component implements the task-orchestrator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	engine  *pipeline.Engine
	metrics *metrics.Metrics

	// Stores are created in Start once JetStream is reachable.
	store  *storage.Store
	images *storage.ImageStore

	// JetStream consumer
	consumer jetstream.Consumer
	stream   jetstream.Stream

	// Worker slots bounding concurrent task runs
	sem chan struct{}

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	tasksReceived      atomic.Int64
	tasksCompleted     atomic.Int64
	duplicatesRejected atomic.Int64
	reviewsRequested   atomic.Int64
	locksReclaimed     atomic.Int64
	lastActivityMu     sync.RWMutex
	lastActivity       time.Time
}

// Interface checks: the component is both the engine's escalation
// notifier and its progress observer.
var (
	_ pipeline.Notifier = (*Component)(nil)
	_ pipeline.Observer = (*Component)(nil)
)

// NewComponent creates a new task-orchestrator processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.FilterSubject == "" {
		config.FilterSubject = defaults.FilterSubject
	}
	if config.Workers == 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxDeliver == 0 {
		config.MaxDeliver = defaults.MaxDeliver
	}
	if config.AckWait == 0 {
		config.AckWait = defaults.AckWait
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.ResultSubjectPrefix == "" {
		config.ResultSubjectPrefix = defaults.ResultSubjectPrefix
	}
	if config.ReviewSubjectPrefix == "" {
		config.ReviewSubjectPrefix = defaults.ReviewSubjectPrefix
	}
	if config.MaxProviderAttempts == 0 {
		config.MaxProviderAttempts = defaults.MaxProviderAttempts
	}
	if config.Pipeline.MaxIterations == 0 {
		config.Pipeline.MaxIterations = defaults.Pipeline.MaxIterations
	}
	if config.Pipeline.MaxAttemptsPerStep == 0 {
		config.Pipeline.MaxAttemptsPerStep = defaults.Pipeline.MaxAttemptsPerStep
	}
	if config.Pipeline.PassThreshold == 0 {
		config.Pipeline.PassThreshold = defaults.Pipeline.PassThreshold
	}
	if config.Pipeline.EnhanceConcurrency == 0 {
		config.Pipeline.EnhanceConcurrency = defaults.Pipeline.EnhanceConcurrency
	}
	if config.Pipeline.GenerateConcurrency == 0 {
		config.Pipeline.GenerateConcurrency = defaults.Pipeline.GenerateConcurrency
	}
	if config.Pipeline.LockTTL == 0 {
		config.Pipeline.LockTTL = defaults.Pipeline.LockTTL
	}
	if config.Providers.EnhanceTimeout == 0 {
		config.Providers.EnhanceTimeout = defaults.Providers.EnhanceTimeout
	}
	if config.Providers.GenerateTimeout == 0 {
		config.Providers.GenerateTimeout = defaults.Providers.GenerateTimeout
	}
	if config.Providers.ValidateTimeout == 0 {
		config.Providers.ValidateTimeout = defaults.Providers.ValidateTimeout
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()
	met := metrics.GetDefault()

	c := &Component{
		name:       "task-orchestrator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     logger,
		metrics:    met,
		sem:        make(chan struct{}, config.Workers),
	}

	// The provider client reports every call attempt to the metrics
	// recorder, including retried ones.
	retry := genai.DefaultRetryConfig()
	retry.MaxAttempts = config.MaxProviderAttempts
	client := genai.NewClient(model.Global(),
		genai.WithLogger(logger),
		genai.WithRecorder(met),
		genai.WithRetryConfig(retry),
	)
	service := genai.NewService(client, model.Global(), config.Providers, logger)

	c.engine = pipeline.NewEngine(config.Pipeline, model.Global(), service, service, service, c, logger)
	c.engine.SetObserver(c)

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized task-orchestrator",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"filter_subject", c.config.FilterSubject,
		"workers", c.config.Workers)
	return nil
}

// Start begins consuming task deliveries.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	// Get JetStream context
	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	// Record and image stores share the JetStream context
	store, err := storage.NewStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create record store: %w", err)
	}
	c.store = store

	images, err := storage.NewImageStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create image store: %w", err)
	}
	c.images = images

	// Get stream
	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}
	c.stream = stream

	// Create or get consumer
	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliver,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	// Start consuming messages and sweeping stale locks
	go c.consumeLoop(subCtx)
	go c.cleanupLoop(subCtx)

	c.logger.Info("task-orchestrator started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.FilterSubject,
		"workers", c.config.Workers,
		"ack_wait", c.config.AckWait)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes messages from the JetStream
// consumer. A worker slot is taken before each fetch so the number of
// in-flight runs never exceeds the worker bound and unclaimed
// deliveries stay queued on the stream.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			<-c.sem
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		claimed := false
		for msg := range msgs.Messages() {
			claimed = true
			go func(m jetstream.Msg) {
				defer func() { <-c.sem }()
				c.handleDelivery(ctx, m)
			}(msg)
		}
		if !claimed {
			<-c.sem
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// cleanupLoop periodically reclaims stale task locks and refreshes the
// active-lock gauge. The registry also reclaims lazily on acquisition;
// this sweep keeps abandoned entries from lingering on idle streams.
func (c *Component) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.engine.Locks().Cleanup(time.Now())
			c.metrics.ActiveLocks.Set(float64(c.engine.Locks().Len()))
			if removed > 0 {
				c.locksReclaimed.Add(int64(removed))
				c.logger.Info("Reclaimed stale task locks", "count", removed)
			}
		}
	}
}

// handleDelivery runs one delivered task through the pipeline and
// persists and publishes its terminal outcome.
func (c *Component) handleDelivery(ctx context.Context, msg jetstream.Msg) {
	c.tasksReceived.Add(1)
	c.metrics.TasksReceived.Inc()
	c.updateLastActivity()

	delivery, err := ParseDelivery(msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse delivery", "error", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	// An invalid payload never becomes valid on redelivery: drop it.
	if err := delivery.Validate(); err != nil {
		c.logger.Error("Dropping invalid delivery",
			"task_id", delivery.TaskID,
			"error", err)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	if delivery.TraceID == "" {
		delivery.TraceID = uuid.NewString()
	}

	c.logger.Info("Processing task delivery",
		"task_id", delivery.TaskID,
		"trace_id", delivery.TraceID,
		"category", delivery.Category)

	image, retryable, err := c.resolveImage(ctx, delivery)
	if err != nil {
		c.logger.Error("Failed to resolve reference image",
			"task_id", delivery.TaskID,
			"image_object", delivery.ImageObject,
			"error", err)
		if retryable {
			if err := msg.Nak(); err != nil {
				c.logger.Warn("Failed to NAK message", "error", err)
			}
		} else if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	task := &pipeline.Task{
		ID:             delivery.TaskID,
		Instruction:    delivery.Instruction,
		Category:       delivery.Category,
		ReferenceImage: image,
		ReceivedAt:     time.Now(),
		TraceID:        delivery.TraceID,
	}
	if err := task.Validate(); err != nil {
		c.logger.Error("Dropping invalid task", "task_id", task.ID, "error", err)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	// The engine re-checks under the lock; this early check only keeps a
	// concurrent duplicate from overwriting the in-flight run's record.
	if !c.engine.Locks().Held(task.ID) {
		rec := &storage.TaskRecord{
			ID:          task.ID,
			Instruction: task.Instruction,
			Category:    task.Category,
			ImageObject: delivery.ImageObject,
			Status:      pipeline.StatusReceived,
			TraceID:     task.TraceID,
		}
		if err := c.store.PutTask(ctx, rec); err != nil {
			c.logger.Warn("Failed to store task record",
				"task_id", task.ID,
				"error", err)
		}
	}

	result := c.engine.Process(ctx, task)
	c.metrics.ActiveLocks.Set(float64(c.engine.Locks().Len()))

	if result.Status == pipeline.StatusRejectedDuplicate {
		c.duplicatesRejected.Add(1)
		c.metrics.DuplicatesRejected.Inc()
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	c.tasksCompleted.Add(1)
	c.metrics.TasksTerminal.WithLabelValues(string(result.Status)).Inc()
	c.metrics.PipelineDuration.WithLabelValues(string(result.Status)).Observe(result.Elapsed.Seconds())

	artifactObject := c.storeArtifact(ctx, result)

	if err := c.store.PutResult(ctx, storage.NewResultRecord(result, artifactObject)); err != nil {
		c.logger.Warn("Failed to store result record",
			"task_id", result.TaskID,
			"error", err)
	}

	if err := c.publishResult(ctx, result, artifactObject); err != nil {
		c.logger.Warn("Failed to publish result",
			"task_id", result.TaskID,
			"error", err)
	}

	// The run is terminal either way; redelivery would rerun the whole
	// pipeline for the sake of a lost side effect.
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}

	c.logger.Info("Task run completed",
		"task_id", result.TaskID,
		"trace_id", task.TraceID,
		"status", result.Status.String(),
		"winning_profile", result.WinningProfile,
		"iterations", result.Iterations,
		"elapsed", result.Elapsed)
}

// resolveImage loads the reference image bytes from the delivery: the
// object store when an object name is set, inline base64 otherwise. The
// second return reports whether a failure is worth a redelivery.
func (c *Component) resolveImage(ctx context.Context, delivery *TaskDeliveryPayload) ([]byte, bool, error) {
	if delivery.ImageObject != "" {
		image, err := c.images.Get(ctx, delivery.ImageObject)
		if err != nil {
			// Store reads can fail transiently; let JetStream retry.
			return nil, true, err
		}
		return image, false, nil
	}

	image, err := base64.StdEncoding.DecodeString(delivery.ImageB64)
	if err != nil {
		return nil, false, fmt.Errorf("decode inline image: %w", err)
	}
	return image, false, nil
}

// storeArtifact persists the winning image, when the run produced one,
// and returns its object name. Best-effort: the provider-side locator
// in the result record still identifies the artifact if this write
// fails.
func (c *Component) storeArtifact(ctx context.Context, result *pipeline.Result) string {
	if result.Artifact == nil || len(result.Artifact.Image) == 0 {
		return ""
	}

	name, err := c.images.Put(ctx, result.Artifact.Image, genai.DetectImageMIME(result.Artifact.Image))
	if err != nil {
		c.logger.Warn("Failed to store winning artifact",
			"task_id", result.TaskID,
			"error", err)
		return ""
	}
	return name
}

// publishResult publishes the terminal result event for a run.
func (c *Component) publishResult(ctx context.Context, result *pipeline.Result, artifactObject string) error {
	payload := TaskResultPayload{
		TaskID:           result.TaskID,
		Status:           string(result.Status),
		WinningProfile:   result.WinningProfile,
		Iterations:       result.Iterations,
		StepsCompleted:   result.StepsCompleted,
		StepsTotal:       result.StepsTotal,
		ElapsedMS:        result.Elapsed.Milliseconds(),
		FailureSummaries: result.FailureSummaries,
		ArtifactObject:   artifactObject,
		Timestamp:        time.Now(),
	}

	baseMsg := message.NewBaseMessage(TaskResultType, &payload, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", c.config.ResultSubjectPrefix, result.Status)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	return nil
}

// Notify publishes a human review request for a task that exhausted
// both automated modes. Implements pipeline.Notifier; the engine treats
// a returned error as best-effort and never retries.
func (c *Component) Notify(ctx context.Context, esc pipeline.Escalation) error {
	payload := ReviewRequestPayload{
		TaskID:      esc.Task.ID,
		Instruction: esc.Task.Instruction,
		Category:    esc.Task.Category,
		Iterations:  esc.Iterations,
		Failures:    esc.Failures,
		Timestamp:   time.Now(),
	}

	baseMsg := message.NewBaseMessage(ReviewRequestType, &payload, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal review request: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", c.config.ReviewSubjectPrefix, esc.Task.ID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	c.reviewsRequested.Add(1)
	c.metrics.ReviewRequests.Inc()

	return nil
}

// OnTransition persists status changes to the task record and counts
// phase-level metrics. Implements pipeline.Observer; runs synchronously
// on the task's goroutine, so writes are best-effort with a short
// bounded timeout.
func (c *Component) OnTransition(taskID string, _, to pipeline.Status) {
	// Duplicate rejections never touch the record owned by the
	// in-flight run, and the initial status is written at delivery.
	if to == pipeline.StatusRejectedDuplicate || to == pipeline.StatusReceived {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
	defer cancel()

	if err := c.store.UpdateTaskStatus(ctx, taskID, to); err != nil {
		c.logger.Debug("Failed to record status change",
			"task_id", taskID,
			"status", to.String(),
			"error", err)
	}
}

// OnPhaseFailure counts a per-model phase failure.
func (c *Component) OnPhaseFailure(phase, _ string) {
	c.metrics.PhaseFailures.WithLabelValues(phase).Inc()
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("task-orchestrator stopped",
		"tasks_received", c.tasksReceived.Load(),
		"tasks_completed", c.tasksCompleted.Load(),
		"duplicates_rejected", c.duplicatesRejected.Load(),
		"reviews_requested", c.reviewsRequested.Load(),
		"locks_reclaimed", c.locksReclaimed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "task-orchestrator",
		Type:        "processor",
		Description: "Runs delivered image edit tasks through the escalation pipeline",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return orchestratorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

// IsRunning reports whether the component has been started.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
