package cli

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/classify"
	"github.com/docprocd/docprocd/internal/config"
	"github.com/docprocd/docprocd/internal/export"
	"github.com/docprocd/docprocd/internal/logging"
	"github.com/docprocd/docprocd/internal/normalize"
	"github.com/docprocd/docprocd/internal/ocr"
	"github.com/docprocd/docprocd/internal/orchestrator"
	"github.com/docprocd/docprocd/internal/store"
)

// components bundles the wired collaborators shared across subcommands.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *store.Store
	cache     *normalize.Cache
	detector  *normalize.Detector
	llm       *classify.Client
	pipeline  *ocr.Pipeline
	assembler *export.Assembler
	runtime   *orchestrator.Runtime
}

// wire loads configuration and constructs every collaborator in the
// dependency order the teacher's main() follows: config, then storage, then
// the processing components that depend on it.
func wire() (*components, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("preparing data directories: %w", err)
	}

	logger, err := logging.New(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	s, err := store.Open(cfg.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	cache, err := normalize.NewCache(cfg.NormalizedCacheDir)
	if err != nil {
		return nil, fmt.Errorf("initializing normalized cache: %w", err)
	}

	var llm *classify.Client
	if cfg.LLMHost != "" {
		llm = classify.New(cfg.LLMHost, cfg.LLMModel, cfg.LLMVisionModel, secondsToDuration(cfg.LLMTimeoutSeconds), logging.Named(logger, "classify"))
	}

	detector := normalize.NewDetector(cache, typeClassifierOrNil(llm))

	tier1 := ocr.NewTesseractEngine(cfg.TesseractPath)
	var tier2, tier3 ocr.Engine
	if llm != nil {
		tier2 = ocr.NewVisionEngine(llm, cfg.LLMVisionModel, "vision-tier2")
	}
	cascade := ocr.NewCascade(tier1, tier2, tier3, ocr.CascadeConfig{
		Tier1MinConfidence: cfg.OCRTier1MinConfidence,
		Tier2MinConfidence: cfg.OCRTier2MinConfidence,
	})

	pipeline := ocr.NewPipeline(s, cascade, llm, ocr.Config{
		RenderScale:      cfg.OCRRenderScale,
		OverlayTextLimit: cfg.OCROverlayTextLimit,
		PageTimeout:      secondsToDuration(cfg.OCRPageTimeoutSeconds),
		FastTestMode:     cfg.FastTestMode,
		Cascade: ocr.CascadeConfig{
			Tier1MinConfidence: cfg.OCRTier1MinConfidence,
			Tier2MinConfidence: cfg.OCRTier2MinConfidence,
		},
	}, logging.Named(logger, "ocr"))

	assembler := export.NewAssembler(cfg.FilingCabinetDir, cache, s, llm, cfg.EnableTagExtraction, logging.Named(logger, "export"))

	runtime := orchestrator.NewRuntime(s, detector, pipeline, orchestrator.Config{
		Concurrency: cfg.WorkerConcurrency,
		TokenTTL:    secondsToDuration(cfg.SmartTokenTTLSeconds),
	}, logging.Named(logger, "orchestrator"))

	return &components{
		cfg: cfg, logger: logger, store: s, cache: cache, detector: detector,
		llm: llm, pipeline: pipeline, assembler: assembler, runtime: runtime,
	}, nil
}

// typeClassifierOrNil returns llm typed as normalize.TypeClassifier, or a
// true nil interface when llm itself is nil — a plain type assertion on a
// nil *classify.Client would otherwise produce a non-nil interface holding
// a nil pointer, defeating Detector's "nil classifier" heuristics-only mode.
func typeClassifierOrNil(llm *classify.Client) normalize.TypeClassifier {
	if llm == nil {
		return nil
	}
	return llm
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
