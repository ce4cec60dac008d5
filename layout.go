package catset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Split names a dataset partition directory.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "valid"
	SplitTest  Split = "test"
)

// Splits lists the partitions in manifest order.
var Splits = []Split{SplitTrain, SplitVal, SplitTest}

// Layout resolves every path the pipeline reads or writes:
//
//	<root>/data/texts/<id>.txt
//	<root>/data/images/<id>_<n><ext>
//	<root>/data/labels/<id>_<n>.txt
//	<root>/data/data.yaml
//	<root>/{train,valid,test}/{images,labels}/
type Layout struct {
	Root     string
	ImageExt string
}

func (l Layout) DataDir() string      { return filepath.Join(l.Root, "data") }
func (l Layout) TextsDir() string     { return filepath.Join(l.DataDir(), "texts") }
func (l Layout) ImagesDir() string    { return filepath.Join(l.DataDir(), "images") }
func (l Layout) LabelsDir() string    { return filepath.Join(l.DataDir(), "labels") }
func (l Layout) ManifestPath() string { return filepath.Join(l.DataDir(), "data.yaml") }

// SplitDir returns <root>/<split>.
func (l Layout) SplitDir(s Split) string { return filepath.Join(l.Root, string(s)) }

// TextPath returns the caption path for a post id.
func (l Layout) TextPath(id string) string {
	return filepath.Join(l.TextsDir(), id+".txt")
}

// ImagePath returns the path of the n-th (1-based) image of a post.
func (l Layout) ImagePath(id string, n int) string {
	return filepath.Join(l.ImagesDir(), fmt.Sprintf("%s_%d%s", id, n, l.ImageExt))
}

// LabelPath returns the label file path for an image, named after its stem.
func (l Layout) LabelPath(imagePath string) string {
	return filepath.Join(l.LabelsDir(), stem(imagePath)+".txt")
}

// Ensure creates the data directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.TextsDir(), l.ImagesDir(), l.LabelsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ImagesForText returns the images belonging to a caption, ordered by index.
// Only names of the exact form <stem>_<n><ext> match, so post "12" never
// picks up images of post "123".
func (l Layout) ImagesForText(textPath string) ([]string, error) {
	id := stem(textPath)
	entries, err := os.ReadDir(l.ImagesDir())
	if err != nil {
		return nil, err
	}
	type indexed struct {
		n    int
		path string
	}
	var found []indexed
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), l.ImageExt) {
			continue
		}
		base, n, ok := splitImageIndex(stem(e.Name()))
		if !ok || base != id {
			continue
		}
		found = append(found, indexed{n: n, path: filepath.Join(l.ImagesDir(), e.Name())})
	}
	slices.SortFunc(found, func(a, b indexed) int { return a.n - b.n })
	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

var imageIndexRe = regexp.MustCompile(`^(.+)_(\d+)$`)

// splitImageIndex splits "abc_3" into ("abc", 3, true).
func splitImageIndex(s string) (string, int, bool) {
	m := imageIndexRe.FindStringSubmatch(s)
	if m == nil {
		return s, 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return s, 0, false
	}
	return m[1], n, true
}

// TextNameForLabel maps a label (or image) file name back to the basename of
// the caption it was derived from: the trailing image index is stripped and
// the extension swapped for .txt.
func TextNameForLabel(path string) string {
	base, _, _ := splitImageIndex(stem(path))
	return base + ".txt"
}

func stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// listFiles returns the paths in dir with the given extension (case-insensitive).
// A missing directory yields an empty list.
func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
