// Package main provides the retouch binary entry point.
// Retouch is an AI image-editing service built on semstreams: an HTTP
// gateway accepts edit tasks, and an orchestrator drives each one
// through parallel refinement with sequential and human-review
// fallbacks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register model providers via init()
	_ "github.com/c360studio/retouch/genai/providers"

	"github.com/c360studio/retouch/config"
	"github.com/c360studio/retouch/genai"
	"github.com/c360studio/retouch/metrics"
	"github.com/c360studio/retouch/model"
	"github.com/c360studio/retouch/pipeline"
	taskgateway "github.com/c360studio/retouch/processor/task-gateway"
	taskorchestrator "github.com/c360studio/retouch/processor/task-orchestrator"
	"github.com/c360studio/retouch/storage"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	semconfig "github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "retouch"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "retouch",
		Short: "AI image-editing service",
		Long: `Retouch runs an AI image-editing pipeline on top of semstreams.

It provides:
- An HTTP gateway that accepts edit tasks with reference images
- A task orchestrator running parallel refinement across model profiles
- Sequential decomposed execution and human-review fallbacks

All components communicate via NATS using the semstreams framework.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(deliverCmd(&configPath, &logLevel))
	cmd.AddCommand(statusCmd(&configPath, &logLevel))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	// Print banner
	printBanner()

	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(logger)
	cfg, err := loader.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Load model profiles into the global registry
	watcher, err := initProfiles(cfg, logger)
	if err != nil {
		return err
	}

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Build the semstreams service configuration
	svcCfg, err := buildServiceConfig(cfg)
	if err != nil {
		return fmt.Errorf("build service config: %w", err)
	}

	// Ensure JetStream streams exist
	if err := ensureStreams(ctx, svcCfg, natsClient, logger); err != nil {
		return err
	}

	slog.Info("Retouch ready",
		"version", Version,
		"gateway_addr", cfg.Gateway.Addr,
		"admin_addr", cfg.Admin.Addr)

	// Create remaining infrastructure
	metricsRegistry := metric.NewMetricsRegistry()
	platform := extractPlatformMeta(svcCfg)

	// Create and start config manager (required for component-manager to access component configs)
	configManager, err := semconfig.NewConfigManager(svcCfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()

	// Register all semstreams components
	slog.Debug("Registering semstreams component factories")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}

	// Register retouch-specific components
	slog.Debug("Registering retouch component factories")
	if err := taskgateway.Register(componentRegistry); err != nil {
		return fmt.Errorf("register task-gateway: %w", err)
	}
	if err := taskorchestrator.Register(componentRegistry); err != nil {
		return fmt.Errorf("register task-orchestrator: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	// Create service registry and manager (semstreams pattern)
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)
	ensureServiceManagerConfig(svcCfg)

	// Create service dependencies
	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	// Configure and create services
	if err := configureAndCreateServices(svcCfg, manager, svcDeps); err != nil {
		return err
	}

	slog.Info("All services configured")

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Start the profile watcher alongside the services
	if watcher != nil {
		if err := watcher.Start(signalCtx); err != nil {
			return fmt.Errorf("start profile watcher: %w", err)
		}
		defer watcher.Stop()
	}

	// Admin listener: Prometheus metrics and liveness
	admin := startAdminServer(cfg.Admin.Addr, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}()

	// Start all services
	slog.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started successfully")

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop all services
	shutdownTimeout := 30 * time.Second
	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
	}

	slog.Info("Retouch shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Retouch v" + Version + "                     ║")
	fmt.Println("║      AI Image Editing Pipeline                ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// initProfiles loads the model profile file into the global registry and
// builds the hot-reload watcher when enabled. With no profile file the
// built-in defaults stay in effect.
func initProfiles(cfg *config.Config, logger *slog.Logger) (*config.ProfileWatcher, error) {
	if cfg.Profiles.Path == "" {
		slog.Debug("Using built-in model profiles")
		return nil, nil
	}

	profileCfg, err := model.LoadConfigFile(cfg.Profiles.Path)
	if err != nil {
		return nil, fmt.Errorf("load model profiles: %w", err)
	}

	registry, err := model.FromConfig(profileCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid model profiles: %w", err)
	}
	model.InitGlobal(registry)

	slog.Info("Model profiles loaded",
		"path", cfg.Profiles.Path,
		"endpoints", len(profileCfg.Endpoints),
		"profiles", len(profileCfg.Profiles))

	if !cfg.Profiles.Watch {
		return nil, nil
	}

	watcher, err := config.NewProfileWatcher(cfg.Profiles.Path, model.Global(), cfg.Profiles.DebounceDelay, logger)
	if err != nil {
		return nil, fmt.Errorf("create profile watcher: %w", err)
	}
	return watcher, nil
}

// startAdminServer serves Prometheus metrics and a liveness probe on the
// admin address.
func startAdminServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server error", "error", err)
		}
	}()

	logger.Info("Admin server started", "addr", addr)
	return srv
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURL := cfg.NATS.URL

	// Environment variable override takes precedence
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURL = envURL
	} else if envURL := os.Getenv("RETOUCH_NATS_URL"); envURL != "" {
		natsURL = envURL
	}

	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	logger.Info("Connected to NATS", "url", natsURL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *semconfig.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := semconfig.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

// buildServiceConfig maps the retouch configuration onto a semstreams
// service config: component configs for the gateway and orchestrator,
// and the durable stream carrying deliveries, results, and review
// requests.
func buildServiceConfig(cfg *config.Config) (*semconfig.Config, error) {
	gatewayCfg := taskgateway.DefaultConfig()
	gatewayCfg.Addr = cfg.Gateway.Addr
	gatewayCfg.MaxBodyBytes = cfg.Gateway.MaxBodyBytes
	gatewayCfg.MaxConnections = cfg.Gateway.MaxConnections
	gatewayJSON, err := json.Marshal(gatewayCfg)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway config: %w", err)
	}

	orchCfg := taskorchestrator.DefaultConfig()
	orchCfg.Workers = cfg.Orchestrator.Workers
	orchCfg.MaxDeliver = cfg.Orchestrator.MaxDeliver
	orchCfg.CleanupInterval = cfg.Orchestrator.CleanupInterval
	orchCfg.Pipeline = pipeline.Config{
		MaxIterations:       cfg.Pipeline.MaxIterations,
		MaxAttemptsPerStep:  cfg.Pipeline.MaxAttemptsPerStep,
		PassThreshold:       cfg.Pipeline.PassThreshold,
		EnhanceConcurrency:  cfg.Pipeline.EnhanceConcurrency,
		GenerateConcurrency: cfg.Pipeline.GenerateConcurrency,
		ValidationDelay:     cfg.Pipeline.ValidationDelay,
		LockTTL:             cfg.Pipeline.LockTTL,
	}
	orchCfg.Providers = genai.ServiceConfig{
		EnhanceTimeout:  cfg.Providers.EnhanceTimeout,
		GenerateTimeout: cfg.Providers.GenerateTimeout,
		ValidateTimeout: cfg.Providers.ValidateTimeout,
	}
	orchCfg.MaxProviderAttempts = cfg.Providers.MaxAttempts
	orchJSON, err := json.Marshal(orchCfg)
	if err != nil {
		return nil, fmt.Errorf("marshal orchestrator config: %w", err)
	}

	return &semconfig.Config{
		Version: "1.0.0",
		Platform: semconfig.PlatformConfig{
			Org:         "c360",
			ID:          "retouch-local",
			Environment: "dev",
		},
		NATS: semconfig.NATSConfig{
			URLs:          []string{cfg.NATS.URL},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: semconfig.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{},
		Components: semconfig.ComponentConfigs{
			"task-gateway": types.ComponentConfig{
				Name:    "task-gateway",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  gatewayJSON,
			},
			"task-orchestrator": types.ComponentConfig{
				Name:    "task-orchestrator",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  orchJSON,
			},
		},
		Streams: semconfig.StreamConfigs{
			// File storage: deliveries and results must survive restarts.
			"RETOUCH": semconfig.StreamConfig{
				Subjects: []string{"retouch.>"},
				MaxAge:   "168h",
				Storage:  "file",
				Replicas: 1,
			},
		},
	}, nil
}

func extractPlatformMeta(cfg *semconfig.Config) types.PlatformMeta {
	platformID := cfg.Platform.InstanceID
	if platformID == "" {
		platformID = cfg.Platform.ID
	}

	return types.PlatformMeta{
		Org:      cfg.Platform.Org,
		Platform: platformID,
	}
}

// ensureServiceManagerConfig ensures service-manager config exists with defaults
func ensureServiceManagerConfig(cfg *semconfig.Config) {
	if cfg.Services == nil {
		cfg.Services = make(types.ServiceConfigs)
	}

	if _, exists := cfg.Services["service-manager"]; !exists {
		slog.Debug("Adding default service-manager config")
		// The gateway owns :8080, so the platform surface moves off it.
		defaultConfig := map[string]any{
			"http_port":  8081,
			"swagger_ui": false,
			"server_info": map[string]string{
				"title":       "Retouch API",
				"description": "AI image-editing pipeline - task orchestration and escalation",
				"version":     Version,
			},
		}
		defaultConfigJSON, _ := json.Marshal(defaultConfig)
		cfg.Services["service-manager"] = types.ServiceConfig{
			Name:    "service-manager",
			Enabled: true,
			Config:  defaultConfigJSON,
		}
		slog.Debug("Service-manager config added", "enabled", true)
	}
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *semconfig.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Configuring Manager")
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			slog.Debug("Skipping service-manager (configured directly)")
			continue
		}

		if err := createServiceIfEnabled(manager, name, svcConfig, svcDeps); err != nil {
			return err
		}
	}

	return nil
}

// createServiceIfEnabled creates a service if it's enabled and registered
func createServiceIfEnabled(
	manager *service.Manager,
	name string,
	svcConfig types.ServiceConfig,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Processing service config", "key", name, "name", svcConfig.Name, "enabled", svcConfig.Enabled)

	if !svcConfig.Enabled {
		slog.Info("Service disabled in config", "name", name)
		return nil
	}

	if !manager.HasConstructor(name) {
		slog.Warn("Service configured but not registered", "key", name, "available_constructors", manager.ListConstructors())
		return nil
	}

	slog.Debug("Creating service", "name", name, "has_constructor", true)
	if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
		return fmt.Errorf("create service %s: %w", name, err)
	}

	slog.Info("Created service", "name", name, "config_name", svcConfig.Name)
	return nil
}

func deliverCmd(configPath, logLevel *string) *cobra.Command {
	var (
		taskID      string
		instruction string
		category    string
		imagePath   string
	)

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Publish a task delivery directly to the stream",
		Long: `Deliver publishes a task delivery event without going through the
HTTP gateway. The reference image is read from a file and stored in the
image object store first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeliver(*configPath, *logLevel, taskID, instruction, category, imagePath)
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "Task id (generated when empty)")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Edit instruction (required)")
	cmd.Flags().StringVar(&category, "category", "", "Product category hint")
	cmd.Flags().StringVar(&imagePath, "image", "", "Reference image file (required)")
	_ = cmd.MarkFlagRequired("instruction")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

func runDeliver(configPath, logLevel, taskID, instruction, category, imagePath string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	cfg, err := loader.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	contentType := http.DetectContentType(imageData)
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("%s is not an image (detected %s)", imagePath, contentType)
	}

	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	svcCfg, err := buildServiceConfig(cfg)
	if err != nil {
		return fmt.Errorf("build service config: %w", err)
	}
	if err := ensureStreams(ctx, svcCfg, natsClient, logger); err != nil {
		return err
	}

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}
	images, err := storage.NewImageStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create image store: %w", err)
	}

	objectName, err := images.Put(ctx, imageData, contentType)
	if err != nil {
		return fmt.Errorf("store image: %w", err)
	}

	if taskID == "" {
		taskID = uuid.NewString()
	}

	payload := &taskorchestrator.TaskDeliveryPayload{
		TaskID:      taskID,
		Instruction: instruction,
		Category:    category,
		ImageObject: objectName,
		TraceID:     uuid.NewString(),
		DeliveredAt: time.Now(),
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid delivery: %w", err)
	}

	msg := message.NewBaseMessage(taskorchestrator.TaskDeliveryType, payload, appName)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	subject := fmt.Sprintf("retouch.task.delivered.%s", taskID)
	if err := natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}

	fmt.Printf("Delivered task %s (image object %s)\n", taskID, objectName)
	return nil
}

func statusCmd(configPath, logLevel *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the stored state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(*configPath, *logLevel, args[0], asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func runStatus(configPath, logLevel, taskID string, asJSON bool) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	cfg, err := loader.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}
	store, err := storage.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("task not found: %s", taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	// A task without a result is still in flight.
	result, err := store.GetResult(ctx, taskID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get result: %w", err)
	}

	if asJSON {
		out := struct {
			Task   *storage.TaskRecord   `json:"task"`
			Result *storage.ResultRecord `json:"result,omitempty"`
		}{Task: task, Result: result}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printTaskStatus(task, result)
	return nil
}

func printTaskStatus(task *storage.TaskRecord, result *storage.ResultRecord) {
	fmt.Printf("Task:        %s\n", task.ID)
	fmt.Printf("Status:      %s\n", task.Status)
	fmt.Printf("Instruction: %s\n", task.Instruction)
	if task.Category != "" {
		fmt.Printf("Category:    %s\n", task.Category)
	}
	fmt.Printf("Created:     %s\n", task.CreatedAt.Format(time.RFC3339))
	if task.StartedAt != nil {
		fmt.Printf("Started:     %s\n", task.StartedAt.Format(time.RFC3339))
	}
	if task.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", task.CompletedAt.Format(time.RFC3339))
	}

	if len(task.StatusChange) > 0 {
		fmt.Println("\nHistory:")
		for _, change := range task.StatusChange {
			fmt.Printf("  %s  %s -> %s\n",
				change.Timestamp.Format(time.RFC3339), change.From, change.To)
		}
	}

	if result == nil {
		return
	}

	fmt.Println("\nResult:")
	fmt.Printf("  Status:     %s\n", result.Status)
	fmt.Printf("  Iterations: %d\n", result.Iterations)
	fmt.Printf("  Elapsed:    %s\n", time.Duration(result.ElapsedMS)*time.Millisecond)
	if result.WinningProfile != "" {
		fmt.Printf("  Profile:    %s\n", result.WinningProfile)
	}
	if result.StepsTotal > 0 {
		fmt.Printf("  Steps:      %d/%d\n", result.StepsCompleted, result.StepsTotal)
	}
	if result.ArtifactObject != "" {
		fmt.Printf("  Artifact:   %s\n", result.ArtifactObject)
	}
	for _, summary := range result.FailureSummaries {
		fmt.Printf("  Failure:    %s\n", summary)
	}
}
