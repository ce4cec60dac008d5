package catset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// CaptionClassifier resolves a caption to a Label. TextClassifier implements it.
type CaptionClassifier interface {
	ClassifyLabel(ctx context.Context, text string) (Label, string, error)
}

// ETLOptions wires the pipeline components. Source and Publisher are
// optional; Classifier and Labeler are required for ProcessTexts.
type ETLOptions struct {
	Source      PostSource
	Classifier  CaptionClassifier
	Labeler     *ImageLabeler
	Ledger      *Ledger
	Partitioner *Partitioner
	Publisher   Publisher

	// OnClassification is called after every audit row is appended.
	OnClassification func(ClassificationRecord)
	// Sleep replaces the pacing sleep (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// ETL runs ingestion, labeling and partitioning in sequence.
type ETL struct {
	opts          ETLOptions
	layout        Layout
	classifyDelay time.Duration
}

// NewETL builds the orchestrator. A nil Ledger or Partitioner is created
// from cfg.
func NewETL(cfg Config, opts ETLOptions) (*ETL, error) {
	cfg.defaults()
	if opts.Ledger == nil {
		opts.Ledger = NewLedger(cfg)
	}
	if opts.Partitioner == nil {
		p, err := NewPartitioner(cfg)
		if err != nil {
			return nil, err
		}
		opts.Partitioner = p
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	delay := cfg.ClassifyDelay
	if delay < 0 {
		delay = 0
	}
	return &ETL{opts: opts, layout: cfg.Layout(), classifyDelay: delay}, nil
}

// Ledger returns the ledger the run records into.
func (e *ETL) Ledger() *Ledger { return e.opts.Ledger }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ingest pages through sourceID in ceil(total/perIteration) batches at
// cumulative offsets, sleeping delay between batches but not after the last.
// It returns the number of posts requested; zero-image posts dropped by the
// source are included. A failed batch is logged and the next one proceeds.
func (e *ETL) Ingest(ctx context.Context, sourceID string, total, perIteration int, delay time.Duration) (int, error) {
	if e.opts.Source == nil {
		return 0, ErrNoSource
	}
	if total <= 0 {
		return 0, nil
	}
	if perIteration <= 0 {
		perIteration = DefaultMaxPostsInIteration
	}
	iterations := (total + perIteration - 1) / perIteration
	slog.Info("catset: ingest started", "source", e.opts.Source.Name(), "id", sourceID, "posts", total, "batches", iterations)

	remaining, offset, saved := total, 0, 0
	for it := range iterations {
		n := min(remaining, perIteration)
		got, err := e.opts.Source.FetchBatch(ctx, sourceID, n, offset)
		if err != nil {
			slog.Warn("catset: batch failed", "source", e.opts.Source.Name(), "offset", offset, "count", n, "error", err.Error())
		}
		saved += got
		offset += n
		remaining -= n

		if it < iterations-1 {
			if err := e.opts.Sleep(ctx, delay); err != nil {
				return offset, err
			}
		}
	}
	slog.Info("catset: ingest finished", "requested", offset, "saved", saved)
	return offset, nil
}

// ProcessStats summarizes one labeling pass.
type ProcessStats struct {
	Texts         int            // captions found
	Processed     int            // already labeled, skipped without classification
	Classified    int            // audit rows added this run
	Labeled       int            // captions with at least one label file written
	LabeledImages int            // label files written
	Skipped       map[string]int // skip reason -> skip-log entries (images for detection rejections)
}

// ProcessTexts classifies every unlabeled caption and labels its images.
// Per-item failures never abort the pass; the ledger is flushed at the end.
func (e *ETL) ProcessTexts(ctx context.Context) (ProcessStats, error) {
	stats := ProcessStats{Skipped: map[string]int{}}
	if e.opts.Classifier == nil || e.opts.Labeler == nil {
		return stats, fmt.Errorf("catset: classifier and labeler are required")
	}
	if err := e.layout.Ensure(); err != nil {
		return stats, err
	}
	texts, err := listFiles(e.layout.TextsDir(), ".txt")
	if err != nil {
		return stats, fmt.Errorf("list texts: %w", err)
	}
	sort.Strings(texts)
	done, err := ProcessedTexts(e.layout.LabelsDir())
	if err != nil {
		return stats, fmt.Errorf("list labels: %w", err)
	}
	stats.Texts = len(texts)
	slog.Info("catset: labeling started", "texts", len(texts), "already_processed", len(done))

	ledger := e.opts.Ledger
	skip := func(reason, path string) {
		ledger.Skip(reason, path)
		stats.Skipped[reason]++
	}

	var runErr error
	for _, textPath := range texts {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if _, ok := done[filepath.Base(textPath)]; ok {
			stats.Processed++
			skip(SkipProcessed, textPath)
			continue
		}

		label, called := e.classify(ctx, textPath)
		stats.Classified++
		if called {
			if err := e.opts.Sleep(ctx, e.classifyDelay); err != nil {
				runErr = err
				break
			}
		}
		if label == LabelOther {
			skip(SkipNoSingleCat, textPath)
			continue
		}

		images, err := e.layout.ImagesForText(textPath)
		if err != nil {
			ledger.LogException(textPath, fmt.Errorf("list images: %w", err))
		}
		if len(images) == 0 {
			skip(SkipNoImages, textPath)
			continue
		}
		n := 0
		for _, img := range images {
			switch e.opts.Labeler.LabelImage(ctx, img, label) {
			case OutcomeLabeled:
				n++
			case OutcomeNoSubject:
				stats.Skipped[SkipNoDetection]++
			case OutcomeAmbiguous:
				stats.Skipped[SkipManyDetection]++
			}
		}
		if n == 0 {
			skip(SkipNoneLabeled, textPath)
			continue
		}
		stats.Labeled++
		stats.LabeledImages += n
	}

	for _, line := range SkipSummary(ledger.Skipped()) {
		slog.Info("catset: skipped " + line)
	}
	if err := ledger.Flush(); err != nil {
		return stats, err
	}
	slog.Info("catset: labeling finished", "labeled_texts", stats.Labeled, "labeled_images", stats.LabeledImages, "classified", stats.Classified)
	return stats, runErr
}

// classify reads a caption and resolves its label. Any failure falls back to
// LabelOther. An audit row is appended either way. called reports whether
// the remote classifier was invoked.
func (e *ETL) classify(ctx context.Context, textPath string) (label Label, called bool) {
	label = LabelOther
	defer func() {
		e.opts.Ledger.RecordClassification(textPath, label)
		if e.opts.OnClassification != nil {
			recs := e.opts.Ledger.Records()
			e.opts.OnClassification(recs[len(recs)-1])
		}
	}()

	data, err := os.ReadFile(textPath)
	if err != nil {
		e.opts.Ledger.LogException(textPath, err)
		return label, false
	}
	text := PrepareCaption(string(data))
	if l, ok := PreClassify(text); ok {
		slog.Debug("catset: caption resolved without classifier", "path", textPath, "label", l.String())
		return l, false
	}

	l, raw, err := e.opts.Classifier.ClassifyLabel(ctx, text)
	if err != nil {
		e.opts.Ledger.LogException(textPath, err)
		return label, true
	}
	slog.Debug("catset: caption classified", "path", textPath, "answer", raw, "label", l.String())
	return l, true
}

// RunOptions selects the phases of a full run.
type RunOptions struct {
	SourceID      string
	Posts         int
	PerIteration  int
	BatchDelay    time.Duration
	SkipIngest    bool
	PublishPrefix string // used when a Publisher is configured
}

// Stats summarizes a full run.
type Stats struct {
	Requested int
	Process   ProcessStats
	Split     SplitStats
	Manifest  string
	Published int
}

// Run executes ingest (when a source is configured), labeling, partitioning,
// manifest generation and, when configured, publishing.
func (e *ETL) Run(ctx context.Context, opts RunOptions) (Stats, error) {
	var stats Stats
	start := time.Now()

	if e.opts.Source != nil && !opts.SkipIngest {
		n, err := e.Ingest(ctx, opts.SourceID, opts.Posts, opts.PerIteration, opts.BatchDelay)
		stats.Requested = n
		if err != nil {
			return stats, err
		}
	} else {
		slog.Info("catset: ingestion skipped")
	}

	ps, err := e.ProcessTexts(ctx)
	stats.Process = ps
	if err != nil {
		return stats, err
	}

	split, err := e.opts.Partitioner.Organize()
	stats.Split = split
	if err != nil {
		return stats, fmt.Errorf("organize dataset: %w", err)
	}
	manifest, err := e.opts.Partitioner.WriteManifest()
	stats.Manifest = manifest
	if err != nil {
		return stats, err
	}

	if e.opts.Publisher != nil {
		n, err := PublishDataset(ctx, e.opts.Publisher, e.layout, opts.PublishPrefix)
		stats.Published = n
		if err != nil {
			return stats, fmt.Errorf("publish: %w", err)
		}
	}

	slog.Info("catset: run finished",
		"requested", stats.Requested,
		"labeled_texts", ps.Labeled,
		"train", split.Train, "val", split.Val, "test", split.Test,
		"manifest", manifest,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}
