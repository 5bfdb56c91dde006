package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/clients"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/resilience"
)

// InputFile is one file handed to the router. EmbeddedText, when
// non-empty, is the PDF's own text layer as supplied by the caller. This
// module does not parse PDF structure, the upload path does not extract
// a text layer, and the worker leaves EmbeddedText empty, so PDFs reach
// the router with zero embedded-text coverage.
type InputFile struct {
	Filename     string
	Content      []byte
	MediaType    string
	EmbeddedText string
	Analysis     FileAnalysis
}

// Result is what the router hands back to the pipeline executor: merged
// text, a confidence estimate, and whatever quality commentary accrued
// across the batch.
type Result struct {
	Text          string
	Confidence    float64
	EngineUsed    domain.OCREngine
	QualityIssues []string
	Suggestions   []string
	Metadata      map[string]interface{}
}

// Router selects and executes an extraction strategy from a fixed
// decision table, falling through LOCAL_TEXT -> LOCAL_OCR -> VISION_LLM
// on failure when the configuration allows it.
type Router struct {
	ocrClient   *clients.OCRServiceClient
	llmClient   *clients.LLMClient
	localOCRCB  *resilience.CircuitBreaker
	visionCB    *resilience.CircuitBreaker
	localOCRRty *resilience.RetryConfig
	visionRty   *resilience.RetryConfig
	logger      core.Logger
	visionModel clients.ProviderConfig
	visionModelName string
}

// NewRouter wires a Router from its external clients and resilience
// policies: every external engine call (LOCAL_OCR, VISION_LLM) goes
// through a named circuit breaker + retry pair, the same as an LLM
// dispatch inside the executor. LOCAL_TEXT runs in-process without either.
func NewRouter(ocrClient *clients.OCRServiceClient, llmClient *clients.LLMClient, visionModelName string, logger core.Logger) (*Router, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	localOCRCB, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name: "ocr.local_ocr", FailureThreshold: 5, SuccessThreshold: 2, RecoveryTimeout: resilience.DefaultConfig().RecoveryTimeout,
		ErrorClassifier: resilience.DefaultErrorClassifier, Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	visionCB, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name: "ocr.vision_llm", FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: resilience.DefaultConfig().RecoveryTimeout,
		ErrorClassifier: resilience.DefaultErrorClassifier, Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &Router{
		ocrClient:       ocrClient,
		llmClient:       llmClient,
		localOCRCB:      localOCRCB,
		visionCB:        visionCB,
		localOCRRty:     resilience.APIRetryConfig(),
		visionRty:       resilience.APIRetryConfig(),
		logger:          logger,
		visionModelName: visionModelName,
	}, nil
}

// SelectStrategy implements the engine decision table for a single file.
func SelectStrategy(a FileAnalysis, cfg domain.OCRConfiguration) domain.OCREngine {
	if cfg.Engine != "" && cfg.Engine != domain.EngineHybrid {
		// An explicit non-hybrid configuration pins every file to one engine.
		return cfg.Engine
	}
	switch {
	case a.Kind == FilePDF && a.EmbeddedTextCoverage >= 0.8 && !a.HasComplexTables:
		return domain.EngineLocalText
	case (a.HasComplexTables || a.IsForm):
		return domain.EngineVisionLLM
	case a.Kind == FileImage && a.ResolutionScore < 0.3:
		return domain.EngineVisionLLM
	case a.Kind == FilePDF:
		return domain.EngineLocalOCR
	default:
		return domain.EngineLocalOCR
	}
}

// Extract runs the full router over a (possibly multi-file) batch:
// per-file strategy selection and extraction with fallback, followed by
// the medical-aware merge across files.
func (r *Router) Extract(ctx context.Context, files []InputFile, cfg domain.OCRConfiguration) (*Result, error) {
	if len(files) == 0 {
		return nil, core.NewDomainError(core.KindValidation, "no input files provided to OCR router", nil)
	}

	ordered := detectSequence(files)
	pages := make([]pageResult, 0, len(ordered))

	for _, f := range ordered {
		quality := AssessQuality(f.Analysis, cfg.QualityFloor)
		strategy := SelectStrategy(f.Analysis, cfg)
		if len(files) > 1 && cfg.Engine == domain.EngineHybrid {
			strategy = domain.EngineHybrid
		}

		text, confidence, engineUsed, err := r.extractOne(ctx, f, strategy, cfg)
		if err != nil {
			return nil, fmt.Errorf("ocr: extracting %q: %w", f.Filename, err)
		}
		pages = append(pages, pageResult{
			filename: f.Filename, text: text, confidence: confidence, engine: engineUsed,
			issues: quality.Issues, suggestions: quality.Suggestions,
		})
	}

	merged := mergeMedical(pages)
	return &merged, nil
}

// extractOne runs one file through its selected strategy, falling
// through to the next most expensive strategy on failure when
// vision_llm_fallback_enabled is set.
func (r *Router) extractOne(ctx context.Context, f InputFile, strategy domain.OCREngine, cfg domain.OCRConfiguration) (string, float64, domain.OCREngine, error) {
	switch strategy {
	case domain.EngineLocalText:
		text, conf, err := r.runLocalText(f)
		if err == nil {
			return text, conf, domain.EngineLocalText, nil
		}
		if !cfg.VisionLLMFallbackEnabled {
			return "", 0, "", err
		}
		return r.extractOne(ctx, f, domain.EngineLocalOCR, cfg)

	case domain.EngineLocalOCR:
		text, conf, err := r.runLocalOCR(ctx, f)
		if err == nil {
			return text, conf, domain.EngineLocalOCR, nil
		}
		if !cfg.VisionLLMFallbackEnabled {
			return "", 0, "", err
		}
		return r.extractOne(ctx, f, domain.EngineVisionLLM, cfg)

	case domain.EngineVisionLLM:
		text, conf, err := r.runVisionLLM(ctx, f)
		return text, conf, domain.EngineVisionLLM, err

	case domain.EngineHybrid:
		ocrText, ocrConf, ocrErr := r.runLocalOCR(ctx, f)
		visionText, visionConf, visionErr := r.runVisionLLM(ctx, f)
		if ocrErr != nil && visionErr != nil {
			return "", 0, "", fmt.Errorf("ocr: hybrid strategy failed on both engines: %w / %w", ocrErr, visionErr)
		}
		if ocrErr != nil {
			return visionText, visionConf, domain.EngineVisionLLM, nil
		}
		if visionErr != nil {
			return ocrText, ocrConf, domain.EngineLocalOCR, nil
		}
		// both succeeded: prefer the higher-confidence transcription,
		// the merge step later reconciles section-level disagreements.
		if visionConf > ocrConf {
			return visionText, visionConf, domain.EngineHybrid, nil
		}
		return ocrText, ocrConf, domain.EngineHybrid, nil

	default:
		return "", 0, "", core.NewDomainError(core.KindValidation, fmt.Sprintf("unknown OCR engine %q", strategy), nil)
	}
}

func (r *Router) runLocalText(f InputFile) (string, float64, error) {
	if strings.TrimSpace(f.EmbeddedText) == "" {
		return "", 0, core.NewDomainError(core.KindProcessing, "no embedded text layer available", nil)
	}
	return f.EmbeddedText, f.Analysis.EmbeddedTextCoverage, nil
}

func (r *Router) runLocalOCR(ctx context.Context, f InputFile) (string, float64, error) {
	if r.ocrClient == nil {
		return "", 0, core.NewDomainError(core.KindServiceUnavailable, "OCR microservice not configured", nil)
	}
	var result *clients.OCRServiceResult
	op := func() error {
		res, err := r.ocrClient.Extract(ctx, f.Filename, f.Content)
		if err != nil {
			return err
		}
		result = res
		return nil
	}
	err := resilience.RetryWithCircuitBreaker(ctx, r.localOCRRty, r.localOCRCB, op)
	if err != nil {
		return "", 0, err
	}
	return result.Text, result.Confidence, nil
}

func (r *Router) runVisionLLM(ctx context.Context, f InputFile) (string, float64, error) {
	if r.llmClient == nil {
		return "", 0, core.NewDomainError(core.KindServiceUnavailable, "vision LLM not configured", nil)
	}
	mediaType := f.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	var text string
	op := func() error {
		resp, err := r.llmClient.Generate(ctx, clients.LLMRequest{
			Provider:       "openai",
			Model:          r.visionModelName,
			SystemPrompt:   "Transcribe this medical document image verbatim, preserving section headers and table layout as plain text.",
			Prompt:         "Transcribe the document.",
			Temperature:    0,
			MaxTokens:      4000,
			ImageBase64:    base64.StdEncoding.EncodeToString(f.Content),
			ImageMediaType: mediaType,
		})
		if err != nil {
			return err
		}
		text = resp.Text
		return nil
	}
	err := resilience.RetryWithCircuitBreaker(ctx, r.visionRty, r.visionCB, op)
	if err != nil {
		return "", 0, err
	}
	// Vision transcription carries no native confidence score; a fixed,
	// conservative estimate keeps it comparable to the OCR engine's score
	// in hybrid merge decisions.
	return text, 0.85, nil
}
