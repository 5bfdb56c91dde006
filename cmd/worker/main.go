// Command worker drains the ocr_queue and ai_queue broker lists and runs
// the two task kinds: process_document (OCR -> PII removal -> pipeline
// execution) and analyze_feedback (the out-of-band quality report). One
// process handles both queues; nothing about the broker protocol
// requires splitting them across binaries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/medlingua/pipeline/clients"
	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/executor"
	"github.com/medlingua/pipeline/feedback"
	"github.com/medlingua/pipeline/joblifecycle"
	"github.com/medlingua/pipeline/ocr"
	"github.com/medlingua/pipeline/queue"
	"github.com/medlingua/pipeline/resilience"
	"github.com/medlingua/pipeline/storage"
)

const (
	heartbeatInterval = 15 * time.Second
	heartbeatTTL       = 45 * time.Second
	dequeueTimeout     = 5 * time.Second
)

type worker struct {
	id         string
	jobs       *storage.JobRepository
	config     *storage.ConfigRepository
	manager    *joblifecycle.Manager
	registry   *queue.WorkerRegistry
	pii        *clients.PIIClient
	llm        *clients.LLMClient
	router     *ocr.Router
	guideline  *clients.GuidelineClient
	analyzer   *feedback.Analyzer
	logger     core.Logger
	jobTimeout time.Duration
}

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	encryptor, err := storage.NewEncryptor(cfg.Security.EncryptionKey, cfg.Security.EncryptionEnabled)
	if err != nil {
		logger.Error("building encryptor", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	store, err := storage.Open(ctx, storage.Config{
		DatabaseURL:     cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, encryptor, logger)
	if err != nil {
		logger.Error("connecting to postgres", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	jobs := storage.NewJobRepository(store)
	configRepo := storage.NewConfigRepository(store)
	feedbackRepo := storage.NewFeedbackRepository(store)

	redisClient, err := core.NewRedisClient(core.RedisClientOptions{RedisURL: cfg.Redis.URL, Logger: logger})
	if err != nil {
		logger.Error("connecting to redis", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer redisClient.Close()

	queueBreaker, err := resilience.NewNamedCircuitBreaker("queue.broker", resilience.WithLogger(logger))
	if err != nil {
		logger.Error("building queue circuit breaker", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	broker := queue.NewBroker(redisClient, cfg.Redis.KeyPrefix, logger, queueBreaker)
	registry := queue.NewWorkerRegistry(redisClient, cfg.Redis.KeyPrefix, logger)

	models, err := configRepo.AvailableModels(ctx)
	if err != nil {
		logger.Error("loading available models", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	providerNames := make([]string, 0, len(models))
	seenProvider := map[string]bool{}
	for _, m := range models {
		if !seenProvider[m.Provider] {
			seenProvider[m.Provider] = true
			providerNames = append(providerNames, m.Provider)
		}
	}
	llmClient := clients.NewLLMClient(clients.ProviderConfigsFromEnv(providerNames), 90*time.Second, logger)

	var ocrServiceClient *clients.OCRServiceClient
	if cfg.Services.OCRServiceURL != "" {
		ocrServiceClient = clients.NewOCRServiceClient(cfg.Services.OCRServiceURL, "", logger)
	}
	ocrRouter, err := ocr.NewRouter(ocrServiceClient, llmClient, visionModelName(ctx, configRepo, logger), logger)
	if err != nil {
		logger.Error("building OCR router", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	piiClient := clients.NewPIIClient(cfg.Services.PIIServiceURL, cfg.Services.PIIAPIKey, !cfg.Services.UseExternalPII || cfg.Services.PIIServiceURL == "", logger)

	var guidelineClient *clients.GuidelineClient
	if cfg.Services.UseDifyRAG && cfg.Services.DifyRAGURL != "" {
		guidelineClient = clients.NewGuidelineClient(cfg.Services.DifyRAGURL, cfg.Services.DifyRAGAPIKey, llmClient, logger)
	}

	analyzer, err := feedback.New(jobs, feedbackRepo, llmClient, logger)
	if err != nil {
		logger.Error("building feedback analyzer", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	manager := joblifecycle.New(jobs, broker, registry, logger)

	hostname, _ := os.Hostname()
	w := &worker{
		id:         fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		jobs:       jobs,
		config:     configRepo,
		manager:    manager,
		registry:   registry,
		pii:        piiClient,
		llm:        llmClient,
		router:     ocrRouter,
		guideline:  guidelineClient,
		analyzer:   analyzer,
		logger:     logger,
		jobTimeout: time.Duration(cfg.Jobs.TimeoutMinutes) * time.Minute,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.heartbeatLoop(ctx) }()
	go func() { defer wg.Done(); w.drainLoop(ctx, broker, queue.QueueOCR, w.handleProcessDocument) }()
	go func() { defer wg.Done(); w.drainLoop(ctx, broker, queue.QueueAI, w.handleAnalyzeFeedback) }()

	logger.Info("worker starting", map[string]interface{}{"worker_id": w.id})
	<-ctx.Done()
	logger.Info("worker shutting down", nil)
	wg.Wait()
}

func visionModelName(ctx context.Context, configRepo *storage.ConfigRepository, logger core.Logger) string {
	cfg, err := configRepo.ActiveOCRConfiguration(ctx)
	if err != nil {
		return "gpt-4o"
	}
	if name, ok := cfg.EngineConfig["vision_model_name"].(string); ok && name != "" {
		return name
	}
	return "gpt-4o"
}

func (w *worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	beat := func() {
		if err := w.registry.Heartbeat(ctx, queue.QueueOCR, w.id, heartbeatTTL); err != nil {
			w.logger.WarnWithContext(ctx, "heartbeat failed", map[string]interface{}{"queue": queue.QueueOCR, "error": err.Error()})
		}
		if err := w.registry.Heartbeat(ctx, queue.QueueAI, w.id, heartbeatTTL); err != nil {
			w.logger.WarnWithContext(ctx, "heartbeat failed", map[string]interface{}{"queue": queue.QueueAI, "error": err.Error()})
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

func (w *worker) drainLoop(ctx context.Context, broker *queue.Broker, q queue.QueueName, handle func(context.Context, *queue.Task)) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := broker.Dequeue(ctx, q, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WarnWithContext(ctx, "dequeue failed", map[string]interface{}{"queue": q, "error": err.Error()})
			continue
		}
		if task == nil {
			continue
		}
		handle(ctx, task)
	}
}

// handleProcessDocument runs the full document pipeline for one job: OCR
// extraction, PII removal (when enabled), then the pipeline executor, with
// a hard deadline enforcing the worker-level processing timeout.
func (w *worker) handleProcessDocument(ctx context.Context, task *queue.Task) {
	processingID := task.ProcessingID
	logger := w.logger

	if err := w.manager.MarkRunning(ctx, processingID, w.id); err != nil {
		logger.ErrorWithContext(ctx, "marking job running failed", map[string]interface{}{"processing_id": processingID, "error": err.Error()})
		return
	}

	job, err := w.jobs.GetByProcessingID(ctx, processingID)
	if err != nil {
		logger.ErrorWithContext(ctx, "loading job failed", map[string]interface{}{"processing_id": processingID, "error": err.Error()})
		return
	}

	var steps []domain.DynamicStep
	if err := json.Unmarshal(job.PipelineSnapshot, &steps); err != nil {
		_ = w.manager.MarkFailed(ctx, processingID, "pipeline_snapshot", "corrupt pipeline snapshot: "+err.Error())
		return
	}
	var ocrCfg domain.OCRConfiguration
	if err := json.Unmarshal(job.OCRSnapshot, &ocrCfg); err != nil {
		_ = w.manager.MarkFailed(ctx, processingID, "ocr_snapshot", "corrupt OCR snapshot: "+err.Error())
		return
	}

	classes, err := w.config.DocumentClasses(ctx)
	if err != nil {
		_ = w.manager.MarkFailed(ctx, processingID, "load_classes", err.Error())
		return
	}
	availableModels, err := w.config.AvailableModels(ctx)
	if err != nil {
		_ = w.manager.MarkFailed(ctx, processingID, "load_models", err.Error())
		return
	}
	modelsByID := make(map[int64]domain.AvailableModel, len(availableModels))
	for _, m := range availableModels {
		modelsByID[m.ID] = m
	}

	deadline := w.jobTimeout
	if deadline <= 0 {
		deadline = 18 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	inputFile := ocr.InputFile{
		Filename:  job.Filename,
		Content:   job.FileContent,
		MediaType: mediaTypeFor(job.MimeClass),
		Analysis:  ocr.Analyze(job.Filename, job.FileContent, ""),
	}
	ocrResult, err := w.router.Extract(runCtx, []ocr.InputFile{inputFile}, ocrCfg)
	if err != nil {
		w.failOrTimeout(ctx, runCtx, processingID, "ocr_extraction", err)
		return
	}

	text := ocrResult.Text
	if ocrCfg.PIIRemovalEnabled {
		piiResult, err := w.pii.RemovePII(runCtx, text, job.TargetLanguage)
		if err != nil {
			w.failOrTimeout(ctx, runCtx, processingID, "pii_removal", err)
			return
		}
		text = piiResult.CleanedText
	}

	exec := executor.New(w.jobs, modelsByID, w.llm, w.manager, nil, w.logger)
	outcome, err := exec.Run(runCtx, processingID, text, job.TargetLanguage, steps, classes)
	if err != nil {
		// A required-step failure already persisted MarkFailed inside the
		// executor; a context deadline here did not, so fall through.
		if runCtx.Err() == context.DeadlineExceeded {
			_ = w.manager.MarkTimeout(ctx, processingID, "pipeline_execution")
		} else {
			logger.ErrorWithContext(ctx, "pipeline execution failed", map[string]interface{}{"processing_id": processingID, "error": err.Error()})
		}
		return
	}
	if outcome.Terminated {
		return // MarkTerminated already called inside the executor
	}

	switch outcome.Result.Status {
	case domain.JobCompleted:
		if err := w.manager.MarkCompleted(ctx, processingID, outcome.Result); err != nil {
			logger.ErrorWithContext(ctx, "marking job completed failed", map[string]interface{}{"processing_id": processingID, "error": err.Error()})
			return
		}
		w.attachGuidelines(ctx, processingID, outcome.Result.DocumentTypeDetected, outcome.Result.TranslatedText, job.TargetLanguage)
	case domain.JobCancelled:
		if err := w.manager.MarkCancelled(ctx, processingID); err != nil {
			logger.ErrorWithContext(ctx, "marking job cancelled failed", map[string]interface{}{"processing_id": processingID, "error": err.Error()})
		}
	}
}

// attachGuidelines queries the AWMF guideline knowledge base for a
// completed job, best-effort: the document has already been marked
// completed by the time this runs, so a failure here is logged and
// swallowed rather than failing the job.
func (w *worker) attachGuidelines(ctx context.Context, processingID, documentType, translatedText, targetLanguage string) {
	if w.guideline == nil || strings.TrimSpace(translatedText) == "" {
		return
	}
	query := translatedText
	if documentType != "" {
		query = documentType + ": " + query
	}
	result, err := w.guideline.Query(ctx, processingID, query, targetLanguage)
	if err != nil {
		w.logger.WarnWithContext(ctx, "guideline lookup failed, continuing without guidelines", map[string]interface{}{
			"processing_id": processingID, "error": err.Error(),
		})
		return
	}
	text := result.Bilingual
	if text == "" {
		text = result.Answer
	}
	if text == "" {
		return
	}
	if err := w.jobs.UpdateGuidelines(ctx, processingID, text); err != nil {
		w.logger.WarnWithContext(ctx, "storing guideline result failed", map[string]interface{}{
			"processing_id": processingID, "error": err.Error(),
		})
	}
}

func (w *worker) failOrTimeout(ctx, runCtx context.Context, processingID, step string, err error) {
	if runCtx.Err() == context.DeadlineExceeded {
		_ = w.manager.MarkTimeout(ctx, processingID, step)
		return
	}
	if markErr := w.manager.MarkFailed(ctx, processingID, step, err.Error()); markErr != nil {
		w.logger.ErrorWithContext(ctx, "marking job failed failed", map[string]interface{}{"processing_id": processingID, "error": markErr.Error()})
	}
}

func (w *worker) handleAnalyzeFeedback(ctx context.Context, task *queue.Task) {
	processingID := task.Options["processing_id"]
	if err := w.analyzer.Analyze(ctx, task.FeedbackID, processingID); err != nil {
		w.logger.ErrorWithContext(ctx, "feedback analysis task failed", map[string]interface{}{
			"feedback_id": task.FeedbackID, "processing_id": processingID, "error": err.Error(),
		})
	}
}

func mediaTypeFor(mime domain.MimeClass) string {
	switch mime {
	case domain.MimePDF:
		return "application/pdf"
	case domain.MimeImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
