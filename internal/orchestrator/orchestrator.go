/**
 * Smart Processing Orchestrator (spec §4.4): runs intake analysis and the
 * OCR/AI pipeline over many artifacts concurrently behind a single progress
 * stream, with dual-pipeline batch routing and SmartToken-scoped
 * cancellation.
 *
 * Grounded on the teacher's RedisConsumer worker pool (internal/queue/
 * redis_consumer.go): a fixed-size pool of goroutines, a WaitGroup-guarded
 * Stop, and a context carrying cancellation into each suspension point.
 * Generalized from Redis BRPop to an in-process path list, and from a
 * fixed pool of long-lived worker goroutines to a golang.org/x/sync/
 * semaphore bounding one short-lived goroutine per artifact, since the
 * artifact count is known up front.
 */

package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/docprocd/docprocd/internal/normalize"
	"github.com/docprocd/docprocd/internal/ocr"
	"github.com/docprocd/docprocd/internal/store"
)

// Event is one entry on a run's progress stream (spec §4.4 event shape).
type Event struct {
	Token          string `json:"token"`
	Phase          string `json:"phase"`
	Current        int    `json:"current"`
	Total          int    `json:"total"`
	Message        string `json:"message"`
	Artifact       string `json:"artifact,omitempty"`
	DocumentID     int64  `json:"document_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Terminal       bool   `json:"terminal,omitempty"`
	SingleBatchID  int64  `json:"single_batch_id,omitempty"`
	GroupedBatchID int64  `json:"grouped_batch_id,omitempty"`
}

// Phases named by spec §4.4.
const (
	PhaseAnalyze    = "analyze"
	PhaseNormalize  = "normalize"
	PhaseOCR        = "ocr"
	PhaseAIClassify = "ai_classify"
	PhasePersist    = "persist"
	PhaseFinalize   = "finalize"
	PhaseCancelled  = "cancelled"
)

// Config controls the orchestrator's scheduling and token lifecycle.
type Config struct {
	Concurrency int
	TokenTTL    time.Duration
}

// run tracks one in-flight or recently completed SmartToken.
type run struct {
	cancelled  atomic.Bool
	events     chan Event
	done       atomic.Bool
	finishedAt atomic.Value // time.Time, set once done
}

// Runtime coordinates concurrent intake processing behind SmartTokens.
type Runtime struct {
	store    *store.Store
	guard    *store.BatchGuard
	detector *normalize.Detector
	pipeline *ocr.Pipeline
	cfg      Config
	logger   *zap.Logger

	mu     sync.Mutex
	tokens map[string]*run
}

// NewRuntime builds an orchestrator runtime. Concurrency defaults to 4 if
// unset; TokenTTL defaults to 10 minutes.
func NewRuntime(s *store.Store, detector *normalize.Detector, pipeline *ocr.Pipeline, cfg Config, logger *zap.Logger) *Runtime {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 10 * time.Minute
	}
	return &Runtime{
		store:    s,
		guard:    store.NewBatchGuard(s),
		detector: detector,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		tokens:   make(map[string]*run),
	}
}

// StartRun launches a new smart-processing pass over paths and returns its
// token and progress stream. The stream is closed after the terminal event.
func (r *Runtime) StartRun(paths []string) (string, <-chan Event) {
	token := uuid.NewString()
	rn := &run{events: make(chan Event, 64)}
	r.mu.Lock()
	r.tokens[token] = rn
	r.mu.Unlock()

	go r.process(token, rn, paths)

	return token, rn.events
}

// Cancel sets the cancelled flag for token. Returns false if the token is
// unknown or already finished (spec §4.4: "lookup failure is treated as
// unknown/expired").
func (r *Runtime) Cancel(token string) bool {
	r.mu.Lock()
	rn, ok := r.tokens[token]
	r.mu.Unlock()
	if !ok || rn.done.Load() {
		return false
	}
	rn.cancelled.Store(true)
	return true
}

// CleanupExpired removes tokens whose run finished more than TokenTTL ago.
// Intended to be driven by internal/maintenance on a periodic tick.
func (r *Runtime) CleanupExpired() int {
	cutoff := time.Now().Add(-r.cfg.TokenTTL)
	removed := 0

	r.mu.Lock()
	defer r.mu.Unlock()
	for token, rn := range r.tokens {
		if !rn.done.Load() {
			continue
		}
		finishedAt, _ := rn.finishedAt.Load().(time.Time)
		if finishedAt.Before(cutoff) {
			delete(r.tokens, token)
			removed++
		}
	}
	return removed
}

func (r *Runtime) process(token string, rn *run, paths []string) {
	defer func() {
		rn.done.Store(true)
		rn.finishedAt.Store(time.Now())
		close(rn.events)
	}()

	ctx := context.Background()
	total := len(paths)

	var analyzeCount, normalizeCount, ocrCount, persistCount int32
	var singleBatchID, groupedBatchID int64
	var batchIDMu sync.Mutex
	var aggregateErrors []string
	var errMu sync.Mutex

	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	var wg sync.WaitGroup

	for _, path := range paths {
		if rn.cancelled.Load() {
			break
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			if rn.cancelled.Load() {
				return
			}

			analysis, err := r.detector.Analyze(path)
			n := int(atomic.AddInt32(&analyzeCount, 1))
			if err != nil {
				r.emit(rn, Event{Token: token, Phase: PhaseAnalyze, Current: n, Total: total,
					Artifact: path, Error: err.Error()})
				errMu.Lock()
				aggregateErrors = append(aggregateErrors, fmt.Sprintf("%s: analyze failed: %v", path, err))
				errMu.Unlock()
				return
			}
			r.emit(rn, Event{Token: token, Phase: PhaseAnalyze, Current: n, Total: total,
				Artifact: path, Message: string(analysis.Strategy)})

			if rn.cancelled.Load() {
				return
			}

			nc := int(atomic.AddInt32(&normalizeCount, 1))
			r.emit(rn, Event{Token: token, Phase: PhaseNormalize, Current: nc, Total: total, Artifact: path})

			var batchID int64
			switch analysis.Strategy {
			case normalize.StrategySingleDocument:
				batchID, err = r.guard.GetOrCreateProcessingBatch(ctx, store.KindSingleDocumentBatch)
				if err == nil {
					batchIDMu.Lock()
					singleBatchID = batchID
					batchIDMu.Unlock()
				}
			case normalize.StrategyBatchScan:
				batchID, err = r.guard.GetOrCreateProcessingBatch(ctx, store.KindGroupedBatch)
				if err == nil {
					batchIDMu.Lock()
					groupedBatchID = batchID
					batchIDMu.Unlock()
				}
			}
			if err != nil {
				errMu.Lock()
				aggregateErrors = append(aggregateErrors, fmt.Sprintf("%s: batch assignment failed: %v", path, err))
				errMu.Unlock()
				return
			}

			if rn.cancelled.Load() {
				return
			}

			switch analysis.Strategy {
			case normalize.StrategySingleDocument:
				r.processSingleDocument(ctx, rn, token, path, batchID, analysis, total, &ocrCount, &persistCount, &aggregateErrors, &errMu)
			case normalize.StrategyBatchScan:
				r.processBatchScan(ctx, rn, token, path, batchID, analysis, total, &persistCount, &aggregateErrors, &errMu)
			}
		}(path)
	}
	wg.Wait()

	phase := PhaseFinalize
	if rn.cancelled.Load() {
		phase = PhaseCancelled
	}

	batchIDMu.Lock()
	sb, gb := singleBatchID, groupedBatchID
	batchIDMu.Unlock()

	errMu.Lock()
	joinedErr := strings.Join(aggregateErrors, "; ")
	errMu.Unlock()

	r.emit(rn, Event{
		Token: token, Phase: phase, Current: total, Total: total,
		Terminal: true, Error: joinedErr,
		SingleBatchID: sb, GroupedBatchID: gb,
	})
}

func (r *Runtime) processSingleDocument(ctx context.Context, rn *run, token, path string, batchID int64, analysis *normalize.Analysis, total int, ocrCount, persistCount *int32, aggregateErrors *[]string, errMu *sync.Mutex) {
	doc := &store.SingleDocument{
		BatchID:    batchID,
		SourceHash: analysis.ContentHash,
		State:      store.StateNew,
	}
	docID, err := r.store.UpsertSingleDocument(ctx, doc)
	if err != nil {
		errMu.Lock()
		*aggregateErrors = append(*aggregateErrors, fmt.Sprintf("%s: persisting document failed: %v", path, err))
		errMu.Unlock()
		return
	}

	pc := int(atomic.AddInt32(persistCount, 1))
	r.emit(rn, Event{Token: token, Phase: PhasePersist, Current: pc, Total: total, Artifact: path, DocumentID: docID})

	if rn.cancelled.Load() {
		return
	}

	oc := int(atomic.AddInt32(ocrCount, 1))
	r.emit(rn, Event{Token: token, Phase: PhaseOCR, Current: oc, Total: total, Artifact: path, DocumentID: docID})

	result, err := r.pipeline.ProcessDocument(ctx, docID, analysis.ContentHash, analysis.NormalizedPath, nil)
	if err != nil {
		errMu.Lock()
		*aggregateErrors = append(*aggregateErrors, fmt.Sprintf("%s: pipeline failed: %v", path, err))
		errMu.Unlock()
		r.emit(rn, Event{Token: token, Phase: PhaseOCR, Current: oc, Total: total, Artifact: path, DocumentID: docID, Error: err.Error()})
		return
	}

	category := result.AICategory
	if category == "" {
		category = "unclassified"
	}
	r.emit(rn, Event{Token: token, Phase: PhaseAIClassify, Current: oc, Total: total, Artifact: path,
		DocumentID: docID, Message: category})
}

func (r *Runtime) processBatchScan(ctx context.Context, rn *run, token, path string, batchID int64, analysis *normalize.Analysis, total int, persistCount *int32, aggregateErrors *[]string, errMu *sync.Mutex) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc, err := r.store.CreateGroupedDocument(ctx, batchID, name)
	if err != nil {
		errMu.Lock()
		*aggregateErrors = append(*aggregateErrors, fmt.Sprintf("%s: creating grouped document failed: %v", path, err))
		errMu.Unlock()
		return
	}

	for i := 0; i < analysis.PageCount; i++ {
		if _, err := r.store.AddPage(ctx, doc.ID, analysis.ContentHash, i, i); err != nil {
			errMu.Lock()
			*aggregateErrors = append(*aggregateErrors, fmt.Sprintf("%s: adding page %d failed: %v", path, i, err))
			errMu.Unlock()
			return
		}
	}

	pc := int(atomic.AddInt32(persistCount, 1))
	r.emit(rn, Event{Token: token, Phase: PhasePersist, Current: pc, Total: total, Artifact: path, DocumentID: doc.ID,
		Message: fmt.Sprintf("%d pages awaiting grouping", analysis.PageCount)})
}

func (r *Runtime) emit(rn *run, ev Event) {
	select {
	case rn.events <- ev:
	default:
		r.logger.Warn("progress event dropped, consumer not draining", zap.String("token", ev.Token), zap.String("phase", ev.Phase))
	}
}
