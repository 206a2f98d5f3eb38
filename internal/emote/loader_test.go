package emote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
)

func TestMergeLaterLayerWins(t *testing.T) {
	a := Catalog{"x": {Code: "x", ID: "a"}, "y": {Code: "y", ID: "a"}}
	b := Catalog{"y": {Code: "y", ID: "b"}}

	got := Merge(a, nil, b)
	want := Catalog{"x": {Code: "x", ID: "a"}, "y": {Code: "y", ID: "b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
	if a["y"].ID != "a" {
		t.Error("Merge modified its input")
	}
}

func TestBuildPrefers7TV(t *testing.T) {
	bttv := Catalog{"catJAM": {Code: "catJAM", Provider: ProviderBTTV}}
	stv := Catalog{"catJAM": {Code: "catJAM", Provider: Provider7TV}}

	if got := Build(bttv, stv)["catJAM"].Provider; got != Provider7TV {
		t.Errorf("provider = %q, want 7tv", got)
	}
}

type fakeAPI struct {
	hits       atomic.Int32
	fail7TVCha bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bttv/cached/emotes/global", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Write([]byte(`[{"id":"b1","code":"FeelsGoodMan"},{"id":"b2","code":"catJAM"}]`))
	})
	mux.HandleFunc("/bttv/cached/users/twitch/42", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Write([]byte(`{"channelEmotes":[{"id":"b3","code":"ownEmote"}],"sharedEmotes":[{"id":"b4","code":"shared"}]}`))
	})
	mux.HandleFunc("/7tv/emote-sets/global", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Write([]byte(`{"emotes":[{"id":"s1","name":"catJAM"}]}`))
	})
	mux.HandleFunc("/7tv/users/twitch/42", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.fail7TVCha {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"emote_set":{"emotes":[{"id":"s2","name":"peepoHey"}]}}`))
	})
	return mux
}

func TestLoaderLoad(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	l := NewLoader(zaptest.NewLogger(t), WithBaseURLs(srv.URL+"/bttv", srv.URL+"/7tv"))
	got := l.Load(context.Background(), "42")

	want := Catalog{
		"FeelsGoodMan": {Code: "FeelsGoodMan", URL: "https://cdn.betterttv.net/emote/b1/3x.webp", Provider: ProviderBTTV, ID: "b1"},
		"catJAM":       {Code: "catJAM", URL: "https://cdn.7tv.app/emote/s1/3x.webp", Provider: Provider7TV, ID: "s1"},
		"ownEmote":     {Code: "ownEmote", URL: "https://cdn.betterttv.net/emote/b3/3x.webp", Provider: ProviderBTTV, ID: "b3"},
		"shared":       {Code: "shared", URL: "https://cdn.betterttv.net/emote/b4/3x.webp", Provider: ProviderBTTV, ID: "b4"},
		"peepoHey":     {Code: "peepoHey", URL: "https://cdn.7tv.app/emote/s2/3x.webp", Provider: Provider7TV, ID: "s2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	l.Load(context.Background(), "42")
	if n := api.hits.Load(); n != 4 {
		t.Errorf("expected cached second load, got %d requests", n)
	}
}

func TestLoaderPartialFailure(t *testing.T) {
	api := &fakeAPI{fail7TVCha: true}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	l := NewLoader(zaptest.NewLogger(t), WithBaseURLs(srv.URL+"/bttv", srv.URL+"/7tv"))
	got := l.Load(context.Background(), "42")

	if _, ok := got["peepoHey"]; ok {
		t.Error("entry from failed fetch present")
	}
	if _, ok := got["ownEmote"]; !ok {
		t.Error("entries from successful fetches missing")
	}

	l.Load(context.Background(), "42")
	if n := api.hits.Load(); n != 8 {
		t.Errorf("partial result should not be cached, got %d requests", n)
	}
}

func TestLoaderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	l := NewLoader(zaptest.NewLogger(t), WithBaseURLs(srv.URL, srv.URL))
	if got := l.Load(context.Background(), "42"); len(got) != 0 {
		t.Errorf("expected empty catalog, got %d entries", len(got))
	}
}
