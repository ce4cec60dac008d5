package catset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// fakeSource serves total posts and records every FetchBatch call.
type fakeSource struct {
	total   int
	offsets []int
	counts  []int
	fail    map[int]bool // offset -> listing error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchBatch(_ context.Context, _ string, count, offset int) (int, error) {
	f.offsets = append(f.offsets, offset)
	f.counts = append(f.counts, count)
	if f.fail[offset] {
		return 0, errors.New("listing failed")
	}
	return max(0, min(count, f.total-offset)), nil
}

// fakeCaptions answers by caption text.
type fakeCaptions struct {
	answers map[string]string
	errs    map[string]error
	seen    []string
}

func (f *fakeCaptions) ClassifyLabel(_ context.Context, text string) (Label, string, error) {
	f.seen = append(f.seen, text)
	if err := f.errs[text]; err != nil {
		return LabelOther, "", err
	}
	raw := f.answers[text]
	return ParseLabel(raw), raw, nil
}

type sleepRecorder struct{ delays []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestETL_IngestBatches(t *testing.T) {
	t.Parallel()
	src := &fakeSource{total: 10}
	sl := &sleepRecorder{}
	e, err := NewETL(testConfig(t), ETLOptions{Source: src, Sleep: sl.sleep})
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.Ingest(context.Background(), "cats", 100, 25, 4*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Errorf("Ingest = %d, want 100 requested", got)
	}
	if !slices.Equal(src.offsets, []int{0, 25, 50, 75}) {
		t.Errorf("offsets = %v, want [0 25 50 75]", src.offsets)
	}
	if !slices.Equal(src.counts, []int{25, 25, 25, 25}) {
		t.Errorf("counts = %v", src.counts)
	}
	if len(sl.delays) != 3 {
		t.Errorf("slept %d times, want 3", len(sl.delays))
	}
	for _, d := range sl.delays {
		if d != 4*time.Second {
			t.Errorf("delay = %v, want 4s", d)
		}
	}
}

func TestETL_IngestUnevenAndFailingBatch(t *testing.T) {
	t.Parallel()
	src := &fakeSource{total: 50, fail: map[int]bool{10: true}}
	sl := &sleepRecorder{}
	e, _ := NewETL(testConfig(t), ETLOptions{Source: src, Sleep: sl.sleep})

	got, err := e.Ingest(context.Background(), "cats", 25, 10, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 25 || !slices.Equal(src.counts, []int{10, 10, 5}) || len(sl.delays) != 2 {
		t.Errorf("Ingest = %d, counts %v, sleeps %d", got, src.counts, len(sl.delays))
	}
}

func TestETL_IngestWithoutSource(t *testing.T) {
	t.Parallel()
	e, _ := NewETL(testConfig(t), ETLOptions{})
	if _, err := e.Ingest(context.Background(), "x", 10, 5, 0); !errors.Is(err, ErrNoSource) {
		t.Errorf("err = %v, want ErrNoSource", err)
	}
}

// seedCorpus writes captions and images:
//
//	1   male, one image
//	2   female, two images
//	3   "other" answer, one image
//	4   male, no images
//	5   classifier error, one image
//	12  male, one image (must not pick up images of post 1)
func seedCorpus(t *testing.T, layout Layout) {
	t.Helper()
	if err := layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	captions := map[string]string{
		"1": "Мой кот Вася", "2": "Кошка Муся", "3": "Котята", "4": "Кот без фото", "5": "boom", "12": "Кот Тимофей",
	}
	for id, text := range captions {
		if err := os.WriteFile(layout.TextPath(id), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeImage(t, layout, "1", 1)
	writeImage(t, layout, "2", 1)
	writeImage(t, layout, "2", 2)
	writeImage(t, layout, "3", 1)
	writeImage(t, layout, "5", 1)
	writeImage(t, layout, "12", 1)
}

func corpusClassifier() *fakeCaptions {
	return &fakeCaptions{
		answers: map[string]string{
			"Мой кот Вася": "MALE CAT", "Кошка Муся": "female cat.", "Котята": "OTHER",
			"Кот без фото": "MALE CAT", "Кот Тимофей": "Answer: MALE CAT",
		},
		errs: map[string]error{"boom": errors.New("status 503")},
	}
}

func TestETL_ProcessTexts(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	layout := cfg.Layout()
	seedCorpus(t, layout)

	cls := corpusClassifier()
	det := &fakeDetector{dets: []Detection{cat(16, 12, 48, 36)}}
	ledger := NewLedger(cfg)
	sl := &sleepRecorder{}
	var hooked int
	e, err := NewETL(cfg, ETLOptions{
		Classifier:       cls,
		Labeler:          NewImageLabeler(cfg, det, ledger),
		Ledger:           ledger,
		Sleep:            sl.sleep,
		OnClassification: func(ClassificationRecord) { hooked++ },
	})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := e.ProcessTexts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Texts != 6 || stats.Classified != 6 || stats.Labeled != 3 || stats.LabeledImages != 4 {
		t.Errorf("stats = %+v", stats)
	}
	if len(cls.seen) != 6 || len(sl.delays) != 6 || hooked != 6 {
		t.Errorf("classifier calls %d, delays %d, hooks %d; want 6 each", len(cls.seen), len(sl.delays), hooked)
	}
	for _, name := range []string{"1_1.txt", "2_1.txt", "2_2.txt", "12_1.txt"} {
		if !exists(filepath.Join(layout.LabelsDir(), name)) {
			t.Errorf("label %s missing", name)
		}
	}
	if stats.Skipped[SkipNoSingleCat] != 2 || stats.Skipped[SkipNoImages] != 1 {
		t.Errorf("skipped = %v", stats.Skipped)
	}

	exc, err := os.ReadFile(cfg.ExceptionsLog)
	if err != nil {
		t.Fatal(err)
	}
	if want := layout.TextPath("5") + ". Error: status 503\n"; string(exc) != want {
		t.Errorf("exceptions log = %q, want %q", exc, want)
	}

	recs := NewLedger(cfg).Records()
	if len(recs) != 6 {
		t.Fatalf("audit rows = %d, want 6", len(recs))
	}
	for _, r := range recs {
		if r.TextPath == layout.TextPath("5") && r.Label != LabelOther {
			t.Errorf("failed classification recorded as %v, want OTHER", r.Label)
		}
	}
	if !exists(cfg.SkippedLog) {
		t.Error("skip log not written")
	}
}

func TestETL_DetectionRejectionsByText(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	layout := cfg.Layout()
	seedCorpus(t, layout)

	ledger := NewLedger(cfg)
	e, err := NewETL(cfg, ETLOptions{
		Classifier: corpusClassifier(),
		Labeler:    NewImageLabeler(cfg, &fakeDetector{}, ledger),
		Ledger:     ledger,
		Sleep:      (&sleepRecorder{}).sleep,
	})
	if err != nil {
		t.Fatal(err)
	}
	stats, err := e.ProcessTexts(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// 1, 2 (two images) and 12 reach the detector
	got := ledger.Skipped()[SkipNoDetection]
	slices.Sort(got)
	want := []string{layout.TextPath("1"), layout.TextPath("12"), layout.TextPath("2"), layout.TextPath("2")}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("skip log[%q] = %v, want %v", SkipNoDetection, got, want)
	}
	for reason, paths := range ledger.Skipped() {
		if stats.Skipped[reason] != len(paths) {
			t.Errorf("stats.Skipped[%q] = %d, skip log has %d", reason, stats.Skipped[reason], len(paths))
		}
	}
	if stats.Skipped[SkipNoneLabeled] != 3 || stats.Labeled != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestETL_RerunSkipsLabeledTexts(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	layout := cfg.Layout()
	seedCorpus(t, layout)
	det := &fakeDetector{dets: []Detection{cat(16, 12, 48, 36)}}

	run := func() (*fakeCaptions, ProcessStats) {
		cls := corpusClassifier()
		ledger := NewLedger(cfg)
		e, err := NewETL(cfg, ETLOptions{
			Classifier: cls,
			Labeler:    NewImageLabeler(cfg, det, ledger),
			Ledger:     ledger,
			Sleep:      (&sleepRecorder{}).sleep,
		})
		if err != nil {
			t.Fatal(err)
		}
		stats, err := e.ProcessTexts(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return cls, stats
	}

	run()
	cls, stats := run()
	for _, labeled := range []string{"Мой кот Вася", "Кошка Муся", "Кот Тимофей"} {
		if slices.Contains(cls.seen, labeled) {
			t.Errorf("rerun classified already labeled caption %q", labeled)
		}
	}
	if stats.Processed != 3 || stats.Skipped[SkipProcessed] != 3 {
		t.Errorf("rerun stats = %+v", stats)
	}
}

func TestETL_EmptyCaptionSkipsClassifier(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	layout := cfg.Layout()
	if err := layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(layout.TextPath("9"), []byte("  🐈  "), 0o644); err != nil {
		t.Fatal(err)
	}
	writeImage(t, layout, "9", 1)
	cls := corpusClassifier()
	sl := &sleepRecorder{}
	e, _ := NewETL(cfg, ETLOptions{Classifier: cls, Labeler: NewImageLabeler(cfg, &fakeDetector{}, nil), Sleep: sl.sleep})

	stats, err := e.ProcessTexts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cls.seen) != 0 || len(sl.delays) != 0 {
		t.Errorf("classifier called %d times, slept %d times; want 0", len(cls.seen), len(sl.delays))
	}
	if stats.Classified != 1 || stats.Skipped[SkipNoSingleCat] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// fakePublisher records uploads.
type fakePublisher struct {
	dirs  []string
	files []string
}

func (f *fakePublisher) Publish(_ context.Context, localDir, prefix string) (int, error) {
	f.dirs = append(f.dirs, prefix)
	entries, _ := os.ReadDir(filepath.Join(localDir, "images"))
	return len(entries), nil
}

func (f *fakePublisher) PublishFile(_ context.Context, _, key string) error {
	f.files = append(f.files, key)
	return nil
}

func TestETL_Run(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.SplitSeed = 7
	layout := cfg.Layout()
	seedCorpus(t, layout)

	src := &fakeSource{}
	pub := &fakePublisher{}
	ledger := NewLedger(cfg)
	e, err := NewETL(cfg, ETLOptions{
		Source:     src,
		Classifier: corpusClassifier(),
		Labeler:    NewImageLabeler(cfg, &fakeDetector{dets: []Detection{cat(16, 12, 48, 36)}}, ledger),
		Ledger:     ledger,
		Publisher:  pub,
		Sleep:      (&sleepRecorder{}).sleep,
	})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := e.Run(context.Background(), RunOptions{SourceID: "cats", Posts: 30, PerIteration: 10, PublishPrefix: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Requested != 30 || len(src.offsets) != 3 {
		t.Errorf("requested %d in %d batches", stats.Requested, len(src.offsets))
	}
	if stats.Split.Total() != 4 {
		t.Errorf("split total = %d, want 4 labeled images", stats.Split.Total())
	}
	if stats.Split != (SplitStats{Train: 2, Val: 0, Test: 2}) {
		t.Errorf("split = %+v, want 2/0/2 for K=4", stats.Split)
	}
	if stats.Manifest != layout.ManifestPath() || !exists(stats.Manifest) {
		t.Errorf("manifest = %q", stats.Manifest)
	}
	if !slices.Equal(pub.dirs, []string{"v1/train", "v1/valid", "v1/test"}) || !slices.Equal(pub.files, []string{"v1/data/data.yaml"}) {
		t.Errorf("published dirs %v files %v", pub.dirs, pub.files)
	}
	if stats.Published != 5 {
		t.Errorf("published = %d, want 5", stats.Published)
	}
}
