package catset

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/k3a/html2text"
	"golang.org/x/net/html"
)

const telegramBaseURL = "https://t.me"

// TelegramOptions configures the public channel adapter. Public channels are
// readable through the t.me/s/ web preview without an API session.
type TelegramOptions struct {
	BaseURL  string // optional override
	MaxPages int    // safety cap on preview pages per batch (default 50)
}

// TelegramSource reads a public channel. The sourceID may be "name", "@name",
// "t.me/name" or "https://t.me/name".
type TelegramSource struct {
	opts      TelegramOptions
	client    *http.Client
	userAgent string
	dl        *Downloader
	store     *PostStore
}

var _ PostSource = (*TelegramSource)(nil)

// NewTelegramSource prepares the adapter.
func NewTelegramSource(cfg Config, opts TelegramOptions) (*TelegramSource, error) {
	cfg.defaults()
	if opts.BaseURL == "" {
		opts.BaseURL = telegramBaseURL
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	return &TelegramSource{
		opts:      opts,
		client:    cfg.HTTPClient,
		userAgent: cfg.UserAgent,
		dl:        NewDownloader(cfg),
		store:     NewPostStore(cfg),
	}, nil
}

func (t *TelegramSource) Name() string { return SourceTelegram }

var channelPrefixRe = regexp.MustCompile(`(?i)^(https?://)?t\.me/(s/)?`)

// NormalizeChannel strips URL and @ prefixes from a channel reference.
func NormalizeChannel(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = channelPrefixRe.ReplaceAllString(ref, "")
	ref = strings.TrimPrefix(ref, "@")
	return strings.Trim(ref, "/")
}

// FetchBatch implements PostSource. Offset counts usable posts: albums are
// one post and posts carrying video are excluded before slicing.
func (t *TelegramSource) FetchBatch(ctx context.Context, sourceID string, count, offset int) (int, error) {
	channel := NormalizeChannel(sourceID)
	if channel == "" {
		return 0, fmt.Errorf("telegram: empty channel in %q", sourceID)
	}
	listed, err := t.listPosts(ctx, channel, count+offset)
	if err != nil {
		return 0, fmt.Errorf("telegram %s: %w", channel, err)
	}
	posts := window(listed, count, offset)
	if len(posts) == 0 {
		slog.Info("catset: no suitable posts found", "source", SourceTelegram, "channel", channel, "offset", offset)
		return 0, nil
	}
	return harvest(ctx, SourceTelegram, t.dl, t.store, posts), nil
}

// listPosts walks the preview backwards with ?before= until limit usable
// posts are collected, newest first.
func (t *TelegramSource) listPosts(ctx context.Context, channel string, limit int) ([]remotePost, error) {
	var out []remotePost
	before := int64(0)
	for page := 0; page < t.opts.MaxPages && len(out) < limit; page++ {
		endpoint := fmt.Sprintf("%s/s/%s", t.opts.BaseURL, url.PathEscape(channel))
		if before > 0 {
			endpoint += "?before=" + strconv.FormatInt(before, 10)
		}
		doc, err := t.fetchPage(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		msgs := parseChannelPage(doc)
		if len(msgs) == 0 {
			break
		}
		// the preview renders oldest first
		slices.SortFunc(msgs, func(a, b channelMessage) int {
			switch {
			case a.id > b.id:
				return -1
			case a.id < b.id:
				return 1
			}
			return 0
		})
		oldest := msgs[len(msgs)-1].id
		for _, m := range msgs {
			if m.hasVideo || len(m.photos) == 0 {
				continue
			}
			out = append(out, remotePost{
				ID:        strconv.FormatInt(m.id, 10),
				Text:      m.text,
				ImageURLs: m.photos,
			})
		}
		if before > 0 && oldest >= before {
			break
		}
		before = oldest
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *TelegramSource) fetchPage(ctx context.Context, endpoint string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.userAgent)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview: status %d", resp.StatusCode)
	}
	return html.Parse(resp.Body)
}

// channelMessage is one rendered preview message; an album renders as a
// single message carrying several photos.
type channelMessage struct {
	id       int64
	text     string
	photos   []string
	hasVideo bool
}

var backgroundURLRe = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

// parseChannelPage extracts every message block of a t.me/s/ page.
func parseChannelPage(doc *html.Node) []channelMessage {
	var msgs []channelMessage
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "tgme_widget_message") {
			if post := attr(n, "data-post"); post != "" {
				if id, err := strconv.ParseInt(post[strings.LastIndexByte(post, '/')+1:], 10, 64); err == nil {
					m := channelMessage{id: id}
					collectMessage(n, &m)
					msgs = append(msgs, m)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return msgs
}

func collectMessage(n *html.Node, m *channelMessage) {
	if n.Type == html.ElementNode {
		switch {
		case hasClass(n, "tgme_widget_message_photo_wrap"):
			if match := backgroundURLRe.FindStringSubmatch(attr(n, "style")); match != nil {
				m.photos = append(m.photos, match[1])
			}
		case hasClass(n, "tgme_widget_message_video_player"),
			hasClass(n, "tgme_widget_message_roundvideo_player"),
			n.Data == "video":
			m.hasVideo = true
		case hasClass(n, "tgme_widget_message_text"):
			if m.text == "" {
				m.text = strings.TrimSpace(html2text.HTML2Text(innerHTML(n)))
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectMessage(c, m)
	}
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func innerHTML(n *html.Node) string {
	var b bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return ""
		}
	}
	return b.String()
}
