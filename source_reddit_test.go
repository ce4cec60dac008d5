package catset

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

// redditFixture serves a token endpoint, a two-page listing of r/cats/new and
// the test images.
func redditFixture(t *testing.T) (string, *http.Client) {
	t.Helper()
	mux := http.NewServeMux()
	serveImages(t, mux)
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "cid" || secret != "csecret" {
			http.Error(w, "bad client", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/r/cats/new", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer tok" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		base := "http://" + r.Host
		var children []map[string]any
		after := ""
		if r.URL.Query().Get("after") == "" {
			children = []map[string]any{
				{"kind": "t3", "data": map[string]any{
					"id": "p1", "title": "Meet Tom", "selftext": "he is a boy",
					"url": base + "/img/a.png",
				}},
				{"kind": "t3", "data": map[string]any{
					"id": "p2", "title": "Gallery", "is_gallery": true,
					"url":            "https://www.reddit.com/gallery/p2",
					"gallery_data":   map[string]any{"items": []map[string]any{{"media_id": "m2"}, {"media_id": "m1"}}},
					"media_metadata": map[string]any{"m1": map[string]any{"status": "valid", "s": map[string]any{"u": base + "/img/a.png?x=1&amp;y=2"}}, "m2": map[string]any{"status": "valid", "s": map[string]any{"u": base + "/img/b.png"}}},
				}},
			}
			after = "t3_p2"
		} else {
			children = []map[string]any{
				{"kind": "t3", "data": map[string]any{"id": "p3", "title": "video", "is_video": true, "url": "https://v.redd.it/x"}},
				{"kind": "t3", "data": map[string]any{"id": "p4", "title": "text only", "url": "https://www.reddit.com/r/cats/comments/p4"}},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"after": after, "children": children}})
	})
	srv := newServer(t, mux)
	return srv.URL, srv.Client()
}

func TestRedditSource_FetchBatch(t *testing.T) {
	t.Parallel()
	base, client := redditFixture(t)
	cfg := Config{Root: t.TempDir(), HTTPClient: client}
	src, err := NewRedditSource(cfg, RedditCredentials{
		ClientID: "cid", ClientSecret: "csecret", AuthURL: base + "/api/v1/access_token", APIURL: base,
	})
	if err != nil {
		t.Fatal(err)
	}

	saved, err := src.FetchBatch(context.Background(), "r/cats", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if saved != 2 {
		t.Fatalf("saved = %d, want 2", saved)
	}
	layout := cfg.Layout()
	if got := readText(t, layout.TextPath("p1")); got != "Meet Tom\n\nhe is a boy" {
		t.Errorf("p1 text = %q", got)
	}
	if !exists(layout.ImagePath("p2", 1)) || !exists(layout.ImagePath("p2", 2)) {
		t.Error("gallery images missing")
	}
	for _, id := range []string{"p3", "p4"} {
		if exists(layout.TextPath(id)) {
			t.Errorf("post %s persisted", id)
		}
	}
}

func TestRedditSource_Offset(t *testing.T) {
	t.Parallel()
	base, client := redditFixture(t)
	cfg := Config{Root: t.TempDir(), HTTPClient: client}
	src, err := NewRedditSource(cfg, RedditCredentials{
		ClientID: "cid", ClientSecret: "csecret", AuthURL: base + "/api/v1/access_token", APIURL: base,
	})
	if err != nil {
		t.Fatal(err)
	}
	saved, err := src.FetchBatch(context.Background(), "cats", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	layout := cfg.Layout()
	if saved != 1 || !exists(layout.TextPath("p2")) || exists(layout.TextPath("p1")) {
		t.Errorf("offset 1 count 1: saved=%d, want only p2", saved)
	}
}

func TestNewRedditSource_MissingCredentials(t *testing.T) {
	t.Parallel()
	_, err := NewRedditSource(Config{}, RedditCredentials{ClientID: "only-id"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestSubmissionImages(t *testing.T) {
	t.Parallel()
	var s redditSubmission
	raw := `{"id":"x","url":"https://i.redd.it/abc.jpg","preview":{"images":[{"source":{"url":"https://preview.redd.it/abc.jpg?width=1&amp;s=2"}}]}}`
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatal(err)
	}
	got := submissionImages(s)
	want := []string{"https://i.redd.it/abc.jpg", "https://preview.redd.it/abc.jpg?width=1&s=2"}
	if len(got) != len(want) {
		t.Fatalf("submissionImages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
