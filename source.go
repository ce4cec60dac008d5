package catset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
)

// Post is one ingested caption plus its images, newest-first within a source.
type Post struct {
	ID     string
	Text   string
	Images [][]byte
}

// PostSource fetches posts from one platform and persists them.
//
// FetchBatch writes up to count posts, skipping the offset newest posts in
// the source's reverse-chronological order. It issues one listing per call
// sized to cover count+offset items and slices client-side. Failures of a
// single post or image are logged and skipped; the returned error only
// reports a failed listing.
type PostSource interface {
	Name() string
	FetchBatch(ctx context.Context, sourceID string, count, offset int) (int, error)
}

// Source kinds accepted by NewPostSource.
const (
	SourceReddit   = "reddit"
	SourceVK       = "vk"
	SourceTelegram = "telegram"
)

// ErrNoSource is returned when ingestion is requested without a PostSource.
var ErrNoSource = errors.New("catset: post source is not configured")

// SourceOptions carries per-platform credentials. Only the block matching
// Kind is used.
type SourceOptions struct {
	Kind     string
	Reddit   RedditCredentials
	VK       VKCredentials
	Telegram TelegramOptions
}

// NewPostSource selects the adapter for opts.Kind.
func NewPostSource(cfg Config, opts SourceOptions) (PostSource, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case SourceReddit, "":
		return NewRedditSource(cfg, opts.Reddit)
	case SourceVK:
		return NewVKSource(cfg, opts.VK)
	case SourceTelegram:
		return NewTelegramSource(cfg, opts.Telegram)
	default:
		return nil, fmt.Errorf("catset: unknown source %q (want reddit, vk or telegram)", opts.Kind)
	}
}

// remotePost is a listed post whose images are not downloaded yet.
type remotePost struct {
	ID        string
	Text      string
	ImageURLs []string
}

// window returns listed[offset:offset+count], clamped.
func window(listed []remotePost, count, offset int) []remotePost {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(listed) || count <= 0 {
		return nil
	}
	end := min(offset+count, len(listed))
	return listed[offset:end]
}

// harvest downloads the images of each post in the window and saves it.
// It returns the number of posts persisted.
func harvest(ctx context.Context, source string, dl *Downloader, store *PostStore, posts []remotePost) int {
	saved := 0
	for _, rp := range posts {
		post := Post{ID: rp.ID, Text: rp.Text}
		for _, u := range rp.ImageURLs {
			if IsDecorativeURL(strings.ToLower(u)) {
				slog.Debug("catset: decorative image skipped", "source", source, "post", rp.ID, "url", u)
				continue
			}
			res, err := dl.Download(ctx, u)
			if err != nil {
				slog.Warn("catset: image download failed", "source", source, "post", rp.ID, "url", u, "error", err.Error())
				continue
			}
			post.Images = append(post.Images, res.Data)
		}
		n, err := store.Save(post)
		if err != nil {
			slog.Warn("catset: post not saved", "source", source, "post", rp.ID, "error", err.Error())
			continue
		}
		if n > 0 {
			saved++
		}
	}
	slog.Info("catset: batch harvested", "source", source, "listed", len(posts), "saved", saved)
	return saved
}

// PostStore persists posts into the texts/images layout.
type PostStore struct {
	layout   Layout
	minWidth int
}

// NewPostStore returns a store writing under cfg's layout.
func NewPostStore(cfg Config) *PostStore {
	cfg.defaults()
	return &PostStore{layout: cfg.Layout(), minWidth: cfg.MinImageWidth}
}

// Save writes a post's images as <id>_<n><ext> (n from 1) and its text as
// <id>.txt. Images are decoded, turned upright and re-encoded; undecodable
// images, images narrower than MinImageWidth and perceptual duplicates are
// dropped. A post left without images is discarded and Save returns 0.
func (s *PostStore) Save(p Post) (int, error) {
	if p.ID == "" {
		return 0, errors.New("post without id")
	}
	var decoded []image.Image
	for i, data := range p.Images {
		img, err := decodeImage(data)
		if err != nil {
			slog.Warn("catset: undecodable image skipped", "post", p.ID, "index", i+1, "error", err.Error())
			continue
		}
		if !acceptImage(img, s.minWidth) {
			continue
		}
		decoded = append(decoded, img)
	}
	if len(decoded) == 0 {
		slog.Warn("catset: post has no images, skipping it", "post", p.ID)
		return 0, nil
	}

	if err := s.layout.Ensure(); err != nil {
		return 0, err
	}
	written := 0
	for _, idx := range dedupImages(decoded) {
		var buf bytes.Buffer
		if err := encodeImage(&buf, decoded[idx], s.layout.ImageExt); err != nil {
			return written, fmt.Errorf("encode image: %w", err)
		}
		written++
		if err := os.WriteFile(s.layout.ImagePath(p.ID, written), buf.Bytes(), 0o644); err != nil {
			return written - 1, fmt.Errorf("write image: %w", err)
		}
	}

	// Text goes last: a caption on disk implies its images are there.
	if err := os.WriteFile(s.layout.TextPath(p.ID), []byte(p.Text), 0o644); err != nil {
		return written, fmt.Errorf("write text: %w", err)
	}
	return written, nil
}
