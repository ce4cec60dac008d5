package catset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
)

const (
	vkAPIURL     = "https://api.vk.com/method"
	vkAPIVersion = "5.199"
	vkPageSize   = 100 // wall.get caps count at 100
)

// VKCredentials configures the VK wall adapter.
type VKCredentials struct {
	Token      string
	APIVersion string // default 5.199
	BaseURL    string // optional override
}

// VKSource reads a community or user wall through wall.get. The sourceID is
// the owner id (negative for communities).
type VKSource struct {
	creds  VKCredentials
	client *http.Client
	dl     *Downloader
	store  *PostStore
}

var _ PostSource = (*VKSource)(nil)

// NewVKSource checks the token and prepares the adapter.
func NewVKSource(cfg Config, creds VKCredentials) (*VKSource, error) {
	if creds.Token == "" {
		return nil, fmt.Errorf("%w: VK_TOKEN is required", ErrMissingCredentials)
	}
	cfg.defaults()
	if creds.APIVersion == "" {
		creds.APIVersion = vkAPIVersion
	}
	if creds.BaseURL == "" {
		creds.BaseURL = vkAPIURL
	}
	return &VKSource{
		creds:  creds,
		client: cfg.HTTPClient,
		dl:     NewDownloader(cfg),
		store:  NewPostStore(cfg),
	}, nil
}

func (v *VKSource) Name() string { return SourceVK }

// FetchBatch implements PostSource. wall.get supports offset natively, so the
// listing starts at offset instead of slicing it away afterwards.
func (v *VKSource) FetchBatch(ctx context.Context, sourceID string, count, offset int) (int, error) {
	owner := strings.TrimSpace(sourceID)
	if _, err := strconv.ParseInt(owner, 10, 64); err != nil {
		return 0, fmt.Errorf("vk: owner id %q is not numeric", sourceID)
	}

	var posts []remotePost
	for len(posts) < count {
		page, err := v.wallGet(ctx, owner, min(vkPageSize, count-len(posts)), offset+len(posts))
		if err != nil {
			return 0, fmt.Errorf("vk wall %s: %w", owner, err)
		}
		posts = append(posts, page...)
		if len(page) == 0 {
			break
		}
	}
	if len(posts) == 0 {
		slog.Info("catset: no items found", "source", SourceVK, "owner", owner, "offset", offset)
		return 0, nil
	}
	return harvest(ctx, SourceVK, v.dl, v.store, posts), nil
}

func (v *VKSource) wallGet(ctx context.Context, owner string, count, offset int) ([]remotePost, error) {
	q := url.Values{}
	q.Set("owner_id", owner)
	q.Set("count", strconv.Itoa(count))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("access_token", v.creds.Token)
	q.Set("v", v.creds.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.creds.BaseURL+"/wall.get?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseWall(body)
}

// parseWall turns a wall.get response into listed posts. API errors arrive
// with status 200 and an "error" object.
func parseWall(body []byte) ([]remotePost, error) {
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode wall.get: %w", err)
	}
	if apiErr, err := root.GetObject("error"); err == nil {
		code, _ := apiErr.GetInt64("error_code")
		msg, _ := apiErr.GetString("error_msg")
		return nil, fmt.Errorf("api error %d: %s", code, msg)
	}

	items, err := root.GetObjectArray("response", "items")
	if err != nil {
		return nil, fmt.Errorf("wall.get without items: %w", err)
	}
	posts := make([]remotePost, 0, len(items))
	for _, item := range items {
		id, err := item.GetInt64("id")
		if err != nil {
			continue
		}
		text, _ := item.GetString("text")
		posts = append(posts, remotePost{
			ID:        strconv.FormatInt(id, 10),
			Text:      text,
			ImageURLs: attachmentImages(item),
		})
	}
	return posts, nil
}

// attachmentImages returns the largest size of every photo attachment and
// the thumbnail of every album attachment. Videos and links are ignored.
func attachmentImages(item *jason.Object) []string {
	attachments, err := item.GetObjectArray("attachments")
	if err != nil {
		return nil
	}
	var urls []string
	for _, att := range attachments {
		kind, _ := att.GetString("type")
		var sizes []*jason.Object
		switch kind {
		case "photo":
			sizes, err = att.GetObjectArray("photo", "sizes")
		case "album":
			sizes, err = att.GetObjectArray("album", "thumb", "sizes")
		default:
			continue
		}
		if err != nil || len(sizes) == 0 {
			continue
		}
		if u := largestSize(sizes); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// largestSize picks the widest size, falling back to the last entry when the
// API omits dimensions.
func largestSize(sizes []*jason.Object) string {
	best, bestWidth := "", int64(-1)
	for _, s := range sizes {
		u, err := s.GetString("url")
		if err != nil || u == "" {
			continue
		}
		w, _ := s.GetInt64("width")
		if w >= bestWidth {
			best, bestWidth = u, w
		}
	}
	return best
}
