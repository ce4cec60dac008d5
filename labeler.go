package catset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Outcome is the result of labeling one image.
type Outcome int

const (
	OutcomeLabeled       Outcome = iota // label file written
	OutcomeUnreadable                   // image could not be read or decoded
	OutcomeNoSubject                    // no qualifying detection
	OutcomeAmbiguous                    // more than one qualifying detection
	OutcomeDetectorError                // detector failed
	OutcomeWriteError                   // label file could not be written
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLabeled:
		return "labeled"
	case OutcomeUnreadable:
		return "unreadable"
	case OutcomeNoSubject:
		return "no subject"
	case OutcomeAmbiguous:
		return "ambiguous"
	case OutcomeDetectorError:
		return "detector error"
	case OutcomeWriteError:
		return "write error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Box is a detection in normalized center/size form, all fields in [0,1].
type Box struct {
	CenterX, CenterY, Width, Height float64
}

// ImageLabeler turns a single-subject image into a label file.
type ImageLabeler struct {
	detector    Detector
	ledger      *Ledger
	layout      Layout
	targetClass int
	confidence  float64
}

// NewImageLabeler wires a detector to the label directory. Exceptions and
// policy rejections go to ledger.
func NewImageLabeler(cfg Config, detector Detector, ledger *Ledger) *ImageLabeler {
	cfg.defaults()
	if ledger == nil {
		ledger = NewLedger(cfg)
	}
	return &ImageLabeler{
		detector:    detector,
		ledger:      ledger,
		layout:      cfg.Layout(),
		targetClass: *cfg.TargetClass,
		confidence:  cfg.Confidence,
	}
}

// Label writes the label file for imagePath and reports whether it did.
// It never panics or returns an error: failures are logged and skipped.
func (l *ImageLabeler) Label(ctx context.Context, imagePath string, label Label) bool {
	return l.LabelImage(ctx, imagePath, label) == OutcomeLabeled
}

// LabelImage is Label with the reason a label file was not written. Policy
// rejections are recorded in the skip log under the image's caption path.
func (l *ImageLabeler) LabelImage(ctx context.Context, imagePath string, label Label) Outcome {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		l.ledger.LogException(imagePath, fmt.Errorf("could not read image file: %w", err))
		return OutcomeUnreadable
	}
	img, err := decodeImage(data)
	if err != nil {
		l.ledger.LogException(imagePath, fmt.Errorf("could not read image file: %w", err))
		return OutcomeUnreadable
	}
	if l.detector == nil {
		l.ledger.LogException(imagePath, errors.New("detector is not configured"))
		return OutcomeDetectorError
	}

	dets, err := l.detector.Detect(ctx, img)
	if err != nil {
		l.ledger.LogException(imagePath, fmt.Errorf("detect: %w", err))
		return OutcomeDetectorError
	}
	subjects := l.qualifying(dets)

	switch {
	case len(subjects) == 0:
		slog.Debug("catset: no target object detected", "path", imagePath)
		l.ledger.Skip(SkipNoDetection, l.textPath(imagePath))
		return OutcomeNoSubject
	case len(subjects) > 1:
		slog.Debug("catset: ambiguous subject count", "path", imagePath, "count", len(subjects))
		l.ledger.Skip(SkipManyDetection, l.textPath(imagePath))
		return OutcomeAmbiguous
	}

	b := img.Bounds()
	box := Normalize(subjects[0], float64(b.Dx()), float64(b.Dy()))
	if err := l.write(imagePath, label, box); err != nil {
		l.ledger.LogException(imagePath, err)
		return OutcomeWriteError
	}
	return OutcomeLabeled
}

// textPath returns the caption an image was harvested with.
func (l *ImageLabeler) textPath(imagePath string) string {
	return filepath.Join(l.layout.TextsDir(), TextNameForLabel(imagePath))
}

// qualifying keeps confident detections of the target class. When the
// detector does not report classes the confident set is used as is.
func (l *ImageLabeler) qualifying(dets []Detection) []Detection {
	var confident []Detection
	for _, d := range dets {
		if d.Score >= l.confidence {
			confident = append(confident, d)
		}
	}
	var out []Detection
	for _, d := range confident {
		if d.ClassID == NoClass {
			return confident
		}
		if d.ClassID == l.targetClass {
			out = append(out, d)
		}
	}
	return out
}

// Normalize converts a pixel box to center/size coordinates relative to the
// image, clamped into [0,1].
func Normalize(d Detection, width, height float64) Box {
	if width <= 0 || height <= 0 {
		return Box{}
	}
	w := d.XMax - d.XMin
	h := d.YMax - d.YMin
	return Box{
		CenterX: clamp01((d.XMin + w/2) / width),
		CenterY: clamp01((d.YMin + h/2) / height),
		Width:   clamp01(w / width),
		Height:  clamp01(h / height),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// FormatLabelLine renders one label-file line.
func FormatLabelLine(label Label, b Box) string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f\n", label.ClassID(), b.CenterX, b.CenterY, b.Width, b.Height)
}

func (l *ImageLabeler) write(imagePath string, label Label, b Box) error {
	if err := os.MkdirAll(l.layout.LabelsDir(), 0o755); err != nil {
		return fmt.Errorf("create labels dir: %w", err)
	}
	path := l.layout.LabelPath(imagePath)
	if err := os.WriteFile(path, []byte(FormatLabelLine(label, b)), 0o644); err != nil {
		return fmt.Errorf("write label: %w", err)
	}
	return nil
}
