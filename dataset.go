package catset

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSplit is returned for split fractions outside [0,1] or summing
// past 1.
var ErrInvalidSplit = errors.New("catset: invalid split fractions")

// SplitStats counts the items copied into each split.
type SplitStats struct {
	Train int `json:"train"`
	Val   int `json:"val"`
	Test  int `json:"test"`
}

// Total returns Train+Val+Test.
func (s SplitStats) Total() int { return s.Train + s.Val + s.Test }

// Manifest is the data.yaml read by the trainer. Paths are relative to the
// data directory.
type Manifest struct {
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	Test  string   `yaml:"test"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

// DefaultManifest describes the three split trees and the label classes.
func DefaultManifest() Manifest {
	return Manifest{
		Train: "../" + string(SplitTrain) + "/images",
		Val:   "../" + string(SplitVal) + "/images",
		Test:  "../" + string(SplitTest) + "/images",
		NC:    len(Labels),
		Names: ClassNames(),
	}
}

// Orphans lists files that have no counterpart and so never reach a split.
type Orphans struct {
	ImagesWithoutLabels []string
	LabelsWithoutImages []string
}

// Partitioner projects data/images + data/labels into train/valid/test.
// The split directories are owned by it and rebuilt on every Organize.
type Partitioner struct {
	layout Layout
	train  float64
	val    float64
	rng    *rand.Rand // nil = unseeded
}

// NewPartitioner validates the split fractions. A zero SplitSeed keeps the
// shuffle unseeded, so membership differs between runs.
func NewPartitioner(cfg Config) (*Partitioner, error) {
	cfg.defaults()
	for _, f := range []float64{cfg.TrainFraction, cfg.ValFraction, cfg.TestFraction} {
		if f < 0 || f > 1 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSplit, f)
		}
	}
	if cfg.TrainFraction+cfg.ValFraction > 1 {
		return nil, fmt.Errorf("%w: train %.2f + val %.2f > 1", ErrInvalidSplit, cfg.TrainFraction, cfg.ValFraction)
	}
	p := &Partitioner{layout: cfg.Layout(), train: cfg.TrainFraction, val: cfg.ValFraction}
	if cfg.SplitSeed != 0 {
		p.rng = rand.New(rand.NewPCG(uint64(cfg.SplitSeed), 0))
	}
	return p, nil
}

// LabeledStems returns the stems present in both the images and the labels
// directory, sorted.
func (p *Partitioner) LabeledStems() ([]string, error) {
	images, labels, err := p.stems()
	if err != nil {
		return nil, err
	}
	return labeledStems(images, labels), nil
}

func labeledStems(images, labels map[string]string) []string {
	var both []string
	for s := range images {
		if _, ok := labels[s]; ok {
			both = append(both, s)
		}
	}
	sort.Strings(both)
	return both
}

// Orphans reports images without a label file and label files without an
// image.
func (p *Partitioner) Orphans() (Orphans, error) {
	images, labels, err := p.stems()
	if err != nil {
		return Orphans{}, err
	}
	var o Orphans
	for s, path := range images {
		if _, ok := labels[s]; !ok {
			o.ImagesWithoutLabels = append(o.ImagesWithoutLabels, path)
		}
	}
	for s, path := range labels {
		if _, ok := images[s]; !ok {
			o.LabelsWithoutImages = append(o.LabelsWithoutImages, path)
		}
	}
	sort.Strings(o.ImagesWithoutLabels)
	sort.Strings(o.LabelsWithoutImages)
	return o, nil
}

// stems maps every image and label stem to the file actually on disk.
func (p *Partitioner) stems() (images, labels map[string]string, err error) {
	imgPaths, err := listFiles(p.layout.ImagesDir(), p.layout.ImageExt)
	if err != nil {
		return nil, nil, fmt.Errorf("list images: %w", err)
	}
	lblPaths, err := listFiles(p.layout.LabelsDir(), ".txt")
	if err != nil {
		return nil, nil, fmt.Errorf("list labels: %w", err)
	}
	return byStem(imgPaths, p.layout.ImageExt), byStem(lblPaths, ".txt"), nil
}

// byStem indexes paths by stem. When two files share a stem ("a_1.png" and
// "a_1.PNG") the one with the exact extension wins, otherwise the first.
func byStem(paths []string, ext string) map[string]string {
	out := make(map[string]string, len(paths))
	for _, path := range paths {
		s := stem(path)
		if prev, ok := out[s]; ok {
			if filepath.Ext(prev) == ext || filepath.Ext(path) != ext {
				slog.Debug("catset: duplicate stem ignored", "kept", prev, "ignored", path)
				continue
			}
			slog.Debug("catset: duplicate stem ignored", "kept", path, "ignored", prev)
		}
		out[s] = path
	}
	return out
}

// Split shuffles stems and cuts them at floor(train*K) and floor(val*K); the
// test split takes the remainder so every stem is allocated.
func (p *Partitioner) Split(stems []string) map[Split][]string {
	shuffled := append([]string(nil), stems...)
	swap := func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] }
	if p.rng != nil {
		p.rng.Shuffle(len(shuffled), swap)
	} else {
		rand.Shuffle(len(shuffled), swap)
	}

	k := len(shuffled)
	trainN := int(float64(k) * p.train)
	valN := int(float64(k) * p.val)
	if trainN+valN > k {
		valN = k - trainN
	}
	return map[Split][]string{
		SplitTrain: shuffled[:trainN],
		SplitVal:   shuffled[trainN : trainN+valN],
		SplitTest:  shuffled[trainN+valN:],
	}
}

// Organize clears the split directories and copies every labeled pair into
// its split. A pair that cannot be copied is logged and left out; only
// listing or directory failures return an error.
func (p *Partitioner) Organize() (SplitStats, error) {
	images, labels, err := p.stems()
	if err != nil {
		return SplitStats{}, err
	}
	parts := p.Split(labeledStems(images, labels))

	for _, s := range Splits {
		for _, sub := range []string{"images", "labels"} {
			dir := filepath.Join(p.layout.SplitDir(s), sub)
			if err := os.RemoveAll(dir); err != nil {
				return SplitStats{}, fmt.Errorf("clear %s: %w", dir, err)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return SplitStats{}, fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}

	copied := make(map[Split]int, len(Splits))
	for _, s := range Splits {
		dst := p.layout.SplitDir(s)
		for _, st := range parts[s] {
			if err := copyPair(images[st], labels[st], dst); err != nil {
				slog.Warn("catset: pair not copied", "stem", st, "split", string(s), "error", err.Error())
				continue
			}
			copied[s]++
		}
	}

	stats := SplitStats{Train: copied[SplitTrain], Val: copied[SplitVal], Test: copied[SplitTest]}
	slog.Info("catset: dataset organized", "train", stats.Train, "val", stats.Val, "test", stats.Test)
	return stats, nil
}

// copyPair copies an image and its label under dst, keeping the file names
// as found. A half-copied pair is removed.
func copyPair(img, lbl, dst string) error {
	imgDst := filepath.Join(dst, "images", filepath.Base(img))
	if err := copyFile(img, imgDst); err != nil {
		return err
	}
	if err := copyFile(lbl, filepath.Join(dst, "labels", filepath.Base(lbl))); err != nil {
		_ = os.Remove(imgDst)
		return err
	}
	return nil
}

// WriteManifest writes data.yaml into the data directory and returns its path.
func (p *Partitioner) WriteManifest() (string, error) {
	data, err := yaml.Marshal(DefaultManifest())
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := p.layout.ManifestPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest parses a data.yaml.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}
