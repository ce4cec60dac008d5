package catset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	redditAuthURL  = "https://www.reddit.com/api/v1/access_token"
	redditAPIURL   = "https://oauth.reddit.com"
	redditPageSize = 100 // listing endpoints cap limit at 100
)

// RedditCredentials authenticates against the Reddit API. With Username and
// Password set the script (password) grant is used, otherwise the
// application-only read-only grant.
type RedditCredentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string

	AuthURL string // optional override
	APIURL  string // optional override
}

// RedditSource lists r/<subreddit>/new. The sourceID is the subreddit name.
type RedditSource struct {
	creds  RedditCredentials
	client *http.Client
	dl     *Downloader
	store  *PostStore

	token       string
	tokenExpiry time.Time
}

var _ PostSource = (*RedditSource)(nil)

// NewRedditSource checks credentials and prepares the adapter.
func NewRedditSource(cfg Config, creds RedditCredentials) (*RedditSource, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET are required", ErrMissingCredentials)
	}
	cfg.defaults()
	if creds.UserAgent == "" {
		creds.UserAgent = cfg.UserAgent
	}
	if creds.AuthURL == "" {
		creds.AuthURL = redditAuthURL
	}
	if creds.APIURL == "" {
		creds.APIURL = redditAPIURL
	}
	cfg.UserAgent = creds.UserAgent
	return &RedditSource{
		creds:  creds,
		client: cfg.HTTPClient,
		dl:     NewDownloader(cfg),
		store:  NewPostStore(cfg),
	}, nil
}

func (r *RedditSource) Name() string { return SourceReddit }

// FetchBatch implements PostSource.
func (r *RedditSource) FetchBatch(ctx context.Context, sourceID string, count, offset int) (int, error) {
	sub := strings.TrimPrefix(strings.TrimSpace(sourceID), "r/")
	listed, err := r.listNew(ctx, sub, count+offset)
	if err != nil {
		return 0, fmt.Errorf("reddit r/%s: %w", sub, err)
	}
	posts := window(listed, count, offset)
	if len(posts) == 0 {
		slog.Info("catset: no items found", "source", SourceReddit, "subreddit", sub, "offset", offset)
		return 0, nil
	}
	return harvest(ctx, SourceReddit, r.dl, r.store, posts), nil
}

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string           `json:"kind"`
			Data redditSubmission `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditSubmission struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Selftext      string `json:"selftext"`
	URL           string `json:"url"`
	IsVideo       bool   `json:"is_video"`
	IsGallery     bool   `json:"is_gallery"`
	MediaMetadata map[string]struct {
		Status string `json:"status"`
		S      struct {
			U   string `json:"u"`
			GIF string `json:"gif"`
		} `json:"s"`
		P []struct {
			U string `json:"u"`
		} `json:"p"`
	} `json:"media_metadata"`
	GalleryData *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	Preview *struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

// listNew walks /new with the after cursor until limit submissions are
// listed or the subreddit runs out.
func (r *RedditSource) listNew(ctx context.Context, sub string, limit int) ([]remotePost, error) {
	token, err := r.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var out []remotePost
	after := ""
	seen := 0
	for seen < limit {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(min(redditPageSize, limit-seen)))
		q.Set("raw_json", "1")
		if after != "" {
			q.Set("after", after)
		}
		endpoint := fmt.Sprintf("%s/r/%s/new?%s", r.creds.APIURL, url.PathEscape(sub), q.Encode())

		var listing redditListing
		if err := r.getJSON(ctx, endpoint, token, &listing); err != nil {
			return nil, err
		}
		for _, child := range listing.Data.Children {
			seen++
			s := child.Data
			if s.IsVideo {
				// keeps the reverse-chronological position without a post
				out = append(out, remotePost{ID: s.ID})
				continue
			}
			out = append(out, remotePost{
				ID:        s.ID,
				Text:      strings.TrimSpace(s.Title + "\n\n" + s.Selftext),
				ImageURLs: submissionImages(s),
			})
		}
		if listing.Data.After == "" || len(listing.Data.Children) == 0 {
			break
		}
		after = listing.Data.After
	}
	return out, nil
}

var directImageRe = regexp.MustCompile(`(?i)\.(png|jpe?g|webp)$`)

// submissionImages picks gallery images when present, otherwise the direct
// image URL and the largest preview. Duplicates are removed after download.
func submissionImages(s redditSubmission) []string {
	if s.IsGallery && len(s.MediaMetadata) > 0 {
		var order []string
		if s.GalleryData != nil {
			for _, it := range s.GalleryData.Items {
				order = append(order, it.MediaID)
			}
		} else {
			for id := range s.MediaMetadata {
				order = append(order, id)
			}
		}
		var urls []string
		for _, id := range order {
			media, ok := s.MediaMetadata[id]
			if !ok {
				continue
			}
			u := media.S.U
			if u == "" {
				u = media.S.GIF
			}
			if u == "" && len(media.P) > 0 {
				u = media.P[len(media.P)-1].U
			}
			if u != "" {
				urls = append(urls, cleanRedditURL(u))
			}
		}
		return urls
	}

	var urls []string
	if directImageRe.MatchString(s.URL) {
		urls = append(urls, cleanRedditURL(s.URL))
	}
	if s.Preview != nil && len(s.Preview.Images) > 0 && s.Preview.Images[0].Source.URL != "" {
		urls = append(urls, cleanRedditURL(s.Preview.Images[0].Source.URL))
	}
	return urls
}

// cleanRedditURL undoes the HTML escaping Reddit applies to media URLs.
func cleanRedditURL(u string) string {
	return strings.ReplaceAll(u, "&amp;", "&")
}

func (r *RedditSource) accessToken(ctx context.Context) (string, error) {
	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return r.token, nil
	}

	form := url.Values{}
	if r.creds.Username != "" && r.creds.Password != "" {
		form.Set("grant_type", "password")
		form.Set("username", r.creds.Username)
		form.Set("password", r.creds.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.creds.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(r.creds.ClientID, r.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", r.creds.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit token: status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("reddit token: empty access token (%s)", tok.Error)
	}
	r.token = tok.AccessToken
	// refresh a minute early
	r.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return r.token, nil
}

func (r *RedditSource) getJSON(ctx context.Context, endpoint, token string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", r.creds.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
