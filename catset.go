// Package catset curates a single-subject cat image dataset labeled by the
// gender cue found in the post caption.
//
// Posts are harvested from a PostSource into data/texts and data/images, the
// caption is classified by a language model, the cat is located by an object
// detector and a normalized label file is written per image. The labeled
// pairs are finally split into train/valid/test trees with a data.yaml
// manifest.
package catset

import (
	"context"
	"image"
	"net/http"
	"path/filepath"
	"time"
)

// Defaults mirror the values the curation runs were tuned with.
const (
	DefaultImageExt            = ".png"
	DefaultPostsToParse        = 2000
	DefaultMaxPostsInIteration = 100
	DefaultBatchDelay          = 4 * time.Second
	DefaultClassifyDelay       = 500 * time.Millisecond
	DefaultConfidence          = 0.5
	DefaultUserAgent           = "cat-gender-detector/1.0"
	DefaultMinImageWidth       = 32

	// CatClassID is the COCO class index of "cat".
	CatClassID = 15
)

// Config is the explicit configuration passed to every pipeline component.
type Config struct {
	Root     string // directory holding data/, train/, valid/, test/ (default ".")
	ImageExt string // extension of persisted images (default ".png")

	PostsToParse        int           // total posts requested per run
	MaxPostsInIteration int           // per-batch cap
	BatchDelay          time.Duration // pause between ingestion batches
	ClassifyDelay       time.Duration // pause after each classifier call (negative = none)

	TrainFraction float64 // default 0.7
	ValFraction   float64 // default 0.2
	TestFraction  float64 // default 0.1; informational, test takes the remainder
	SplitSeed     int64   // 0 = unseeded shuffle

	Confidence  float64 // detector confidence threshold (default 0.5)
	TargetClass *int    // detector class index of the subject; nil selects CatClassID

	ExceptionsLog string // default <root>/data/image_processing_exceptions.log
	ClassesLog    string // default <root>/image_processing_log.csv
	SkippedLog    string // default <root>/texts_skipped_log.json

	HTTPClient        *http.Client // default http.DefaultClient
	StealthClient     *http.Client // optional: tried first for image downloads
	UserAgent         string
	RequestsPerSecond float64 // image download pacing per adapter (0 = unlimited)
	MinImageWidth     int     // narrower images are dropped at ingestion (default 32)
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.ImageExt == "" {
		c.ImageExt = DefaultImageExt
	}
	if c.PostsToParse <= 0 {
		c.PostsToParse = DefaultPostsToParse
	}
	if c.MaxPostsInIteration <= 0 {
		c.MaxPostsInIteration = DefaultMaxPostsInIteration
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.ClassifyDelay == 0 {
		c.ClassifyDelay = DefaultClassifyDelay
	}
	if c.TrainFraction <= 0 && c.ValFraction <= 0 {
		c.TrainFraction, c.ValFraction, c.TestFraction = 0.7, 0.2, 0.1
	}
	if c.Confidence <= 0 {
		c.Confidence = DefaultConfidence
	}
	if c.TargetClass == nil {
		class := CatClassID
		c.TargetClass = &class
	}
	layout := c.Layout()
	if c.ExceptionsLog == "" {
		c.ExceptionsLog = filepath.Join(layout.DataDir(), "image_processing_exceptions.log")
	}
	if c.ClassesLog == "" {
		c.ClassesLog = filepath.Join(c.Root, "image_processing_log.csv")
	}
	if c.SkippedLog == "" {
		c.SkippedLog = filepath.Join(c.Root, "texts_skipped_log.json")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MinImageWidth <= 0 {
		c.MinImageWidth = DefaultMinImageWidth
	}
}

// Layout returns the directory layout rooted at c.Root.
func (c *Config) Layout() Layout {
	root, ext := c.Root, c.ImageExt
	if root == "" {
		root = "."
	}
	if ext == "" {
		ext = DefaultImageExt
	}
	return Layout{Root: root, ImageExt: ext}
}

// Detection is one detector hit in source pixel coordinates.
type Detection struct {
	XMin, YMin, XMax, YMax float64
	ClassID                int // NoClass when the detector does not report classes
	Score                  float64
}

// NoClass marks a detection without a class index.
const NoClass = -1

// Detector abstracts the object-detection model.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// ChatClient abstracts the remote text-classification call.
type ChatClient interface {
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
}

// Cache abstracts key-value caching (go-cache, Redis, sync.Map, etc.)
type Cache interface {
	Key(prefix, value string) string
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any)
}
