package catset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Skip reasons recorded in the skip-reason log.
const (
	SkipProcessed     = "processed"
	SkipNoImages      = "No images found for this text"
	SkipNoneLabeled   = "Text classified, but no images were processed"
	SkipNoSingleCat   = "No cats mentioned or multiple cats mentioned"
	SkipNoDetection   = "No cats detected"
	SkipManyDetection = "More than 1 cat detected"
)

const auditTimeLayout = "2006-01-02 15:04:05"

var auditHeader = []string{"text_path", "class_name", "timestamp"}

// ClassificationRecord is one row of the classification audit log.
type ClassificationRecord struct {
	TextPath  string
	Label     Label
	Timestamp time.Time
}

// Ledger accumulates the audit and skip-reason logs of a run and appends
// caught failures to the exceptions log. It is not safe for concurrent use;
// the pipeline is sequential.
type Ledger struct {
	classesPath    string
	skippedPath    string
	exceptionsPath string

	records []ClassificationRecord
	skipped map[string][]string
	now     func() time.Time
}

// NewLedger opens the ledger and loads the existing audit log. A missing or
// corrupt audit log starts the run with an empty history.
func NewLedger(cfg Config) *Ledger {
	cfg.defaults()
	l := &Ledger{
		classesPath:    cfg.ClassesLog,
		skippedPath:    cfg.SkippedLog,
		exceptionsPath: cfg.ExceptionsLog,
		skipped:        make(map[string][]string),
		now:            time.Now,
	}
	records, err := loadAudit(cfg.ClassesLog)
	if err != nil {
		slog.Warn("catset: audit log unreadable, starting empty", "path", cfg.ClassesLog, "error", err.Error())
		records = nil
	}
	l.records = records
	return l
}

func loadAudit(path string) ([]ClassificationRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(auditHeader)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i, col := range auditHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %q", header[i])
		}
	}

	var out []ClassificationRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		ts, err := time.ParseInLocation(auditTimeLayout, row[2], time.Local)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", row[0], err)
		}
		out = append(out, ClassificationRecord{TextPath: row[0], Label: auditLabel(row[1]), Timestamp: ts})
	}
}

// auditLabel reads a class_name cell. Older logs hold the raw classifier
// answer instead of the label name.
func auditLabel(cell string) Label {
	for _, l := range Labels {
		if cell == l.String() {
			return l
		}
	}
	return ParseLabel(cell)
}

// RecordClassification appends one audit row.
func (l *Ledger) RecordClassification(textPath string, label Label) {
	l.records = append(l.records, ClassificationRecord{TextPath: textPath, Label: label, Timestamp: l.now()})
}

// Records returns the audit rows loaded and appended so far.
func (l *Ledger) Records() []ClassificationRecord { return l.records }

// Skip records a policy rejection.
func (l *Ledger) Skip(reason, path string) {
	l.skipped[reason] = append(l.skipped[reason], path)
}

// Skipped returns the skip-reason log of this run.
func (l *Ledger) Skipped() map[string][]string { return l.skipped }

// LogException appends "<path>. Error: <message>" to the exceptions log.
// Failing to write the log is reported through slog only.
func (l *Ledger) LogException(path string, err error) {
	slog.Warn("catset: item failed", "path", path, "error", err.Error())
	_ = os.MkdirAll(filepath.Dir(l.exceptionsPath), 0o755)
	f, ferr := os.OpenFile(l.exceptionsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		slog.Error("catset: exceptions log unavailable", "path", l.exceptionsPath, "error", ferr.Error())
		return
	}
	defer f.Close()
	if _, ferr := fmt.Fprintf(f, "%s. Error: %s\n", path, err.Error()); ferr != nil {
		slog.Error("catset: exceptions log write failed", "path", l.exceptionsPath, "error", ferr.Error())
	}
}

// Flush writes the audit log and the skip-reason log.
func (l *Ledger) Flush() error {
	if err := l.flushAudit(); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	if err := l.flushSkipped(); err != nil {
		return fmt.Errorf("write skip log: %w", err)
	}
	return nil
}

// flushAudit rewrites the audit log through a temporary file in the same
// directory, so a crash mid-write leaves the previous log in place.
func (l *Ledger) flushAudit() error {
	dir := filepath.Dir(l.classesPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(l.classesPath)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	fail := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return err
	}

	w := csv.NewWriter(f)
	_ = w.Write(auditHeader)
	for _, r := range l.records {
		_ = w.Write([]string{r.TextPath, r.Label.String(), r.Timestamp.Format(auditTimeLayout)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fail(err)
	}
	if err := f.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, l.classesPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (l *Ledger) flushSkipped() error {
	data, err := json.MarshalIndent(l.skipped, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.skippedPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(l.skippedPath, data, 0o644)
}

// ProcessedTexts derives the set of caption basenames that already have at
// least one label file in labelsDir.
func ProcessedTexts(labelsDir string) (map[string]struct{}, error) {
	labels, err := listFiles(labelsDir, ".txt")
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(labels))
	for _, p := range labels {
		done[TextNameForLabel(p)] = struct{}{}
	}
	return done, nil
}

// SkipSummary returns reason counts in a stable order.
func SkipSummary(skipped map[string][]string) []string {
	reasons := make([]string, 0, len(skipped))
	for r := range skipped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = fmt.Sprintf("%s: %d", r, len(skipped[r]))
	}
	return out
}
