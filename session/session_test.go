package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/encoding/traditionalchinese"
)

// memberSite fakes a member login site: POST /login sets a cookie, the
// member page greets holders of that cookie.
type memberSite struct {
	*httptest.Server
	posts atomic.Int32
	gets  atomic.Int32
}

func newMemberSite(t *testing.T) *memberSite {
	t.Helper()
	s := &memberSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		s.posts.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("is_uu") != "hiker" || r.PostForm.Get("is_pp") != "secret" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/members/index.php", func(w http.ResponseWriter, r *http.Request) {
		s.gets.Add(1)
		if ck, err := r.Cookie("sid"); err == nil && ck.Value == "abc" {
			w.Write([]byte("<html>歡迎來到會員專區</html>"))
			return
		}
		w.Write([]byte("<html>請先登入</html>"))
	})
	// The room page hands out its own token on first visit, scoped to /room,
	// along with a second sid that only /room sees.
	mux.HandleFunc("/room/index.php", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("room_token")
		if err != nil {
			http.SetCookie(w, &http.Cookie{Name: "room_token", Value: "r1", Path: "/room"})
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "room", Path: "/room"})
			w.Write([]byte("no token"))
			return
		}
		var sids []string
		for _, c := range r.Cookies() {
			if c.Name == "sid" {
				sids = append(sids, c.Value)
			}
		}
		fmt.Fprintf(w, "token=%s sids=%s", ck.Value, strings.Join(sids, ","))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *memberSite) config(password string) Config {
	return Config{
		LoginURL:   s.URL + "/login",
		LoginData:  url.Values{"is_uu": {"hiker"}, "is_pp": {password}, "mode": {"log_in"}},
		TestURL:    s.URL + "/members/index.php",
		TestString: "歡迎來到會員專區",
		MaxAge:     60 * time.Second,
		RetryDelay: time.Millisecond,
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh login persists the session", func(t *testing.T) {
		site := newMemberSite(t)
		store := NewFileStore(t.TempDir(), nil, nil)
		c, err := New(site.config("secret"), store)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := c.Login(ctx, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
		if site.posts.Load() != 1 {
			t.Errorf("expected 1 login post, got %d", site.posts.Load())
		}
		sess, err := store.Load(c.Key())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(sess.Cookies) != 1 || sess.Cookies[0].Name != "sid" || sess.Cookies[0].Value != "abc" {
			t.Errorf("unexpected persisted cookies: %+v", sess.Cookies)
		}
	})

	t.Run("recent cache skips the login post", func(t *testing.T) {
		site := newMemberSite(t)
		store := NewFileStore(t.TempDir(), nil, nil)
		first, _ := New(site.config("secret"), store)
		if err := first.Login(ctx, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
		path := store.Path(first.Key())
		thirtySecondsAgo := time.Now().Add(-30 * time.Second)
		if err := os.Chtimes(path, thirtySecondsAgo, thirtySecondsAgo); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
		site.posts.Store(0)
		site.gets.Store(0)

		second, _ := New(site.config("secret"), store)
		if err := second.Login(ctx, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
		if site.posts.Load() != 0 {
			t.Errorf("expected no login post, got %d", site.posts.Load())
		}
		if site.gets.Load() != 1 {
			t.Errorf("expected one verification get, got %d", site.gets.Load())
		}
		mod, err := store.LastModified(second.Key())
		if err != nil {
			t.Fatalf("LastModified: %v", err)
		}
		if mod.After(thirtySecondsAgo.Add(time.Second)) {
			t.Errorf("cache hit should not rewrite the file, mtime %v", mod)
		}
	})

	t.Run("stale cache logs in again", func(t *testing.T) {
		site := newMemberSite(t)
		store := NewFileStore(t.TempDir(), nil, nil)
		first, _ := New(site.config("secret"), store)
		if err := first.Login(ctx, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
		old := time.Now().Add(-90 * time.Second)
		os.Chtimes(store.Path(first.Key()), old, old)
		site.posts.Store(0)

		second, _ := New(site.config("secret"), store)
		if err := second.Login(ctx, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
		if site.posts.Load() != 1 {
			t.Errorf("expected a login post, got %d", site.posts.Load())
		}
	})

	t.Run("force ignores a recent cache", func(t *testing.T) {
		site := newMemberSite(t)
		store := NewFileStore(t.TempDir(), nil, nil)
		c, _ := New(site.config("secret"), store)
		if err := c.Login(ctx, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
		if err := c.Login(ctx, true); err != nil {
			t.Fatalf("Login: %v", err)
		}
		if site.posts.Load() != 2 {
			t.Errorf("expected 2 login posts, got %d", site.posts.Load())
		}
	})

	t.Run("missing success string fails", func(t *testing.T) {
		site := newMemberSite(t)
		c, _ := New(site.config("wrong"), NewFileStore(t.TempDir(), nil, nil))
		err := c.Login(ctx, false)
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("expected ErrAuthenticationFailed, got %v", err)
		}
		if site.posts.Load() != 1 {
			t.Errorf("expected no retry of the login, got %d posts", site.posts.Load())
		}
	})

	t.Run("requests after login re-persist", func(t *testing.T) {
		site := newMemberSite(t)
		store := NewFileStore(t.TempDir(), nil, nil)
		c, _ := New(site.config("secret"), store)
		if err := c.Login(ctx, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
		old := time.Now().Add(-45 * time.Second)
		os.Chtimes(store.Path(c.Key()), old, old)

		if _, err := c.RetrieveContent(ctx, http.MethodGet, site.URL+"/members/index.php", nil); err != nil {
			t.Fatalf("RetrieveContent: %v", err)
		}
		mod, _ := store.LastModified(c.Key())
		if !mod.After(old.Add(time.Second)) {
			t.Errorf("expected refreshed mtime, got %v", mod)
		}
	})
}

func TestRestoreCookies(t *testing.T) {
	ctx := context.Background()
	site := newMemberSite(t)
	store := NewFileStore(t.TempDir(), nil, nil)
	room := site.URL + "/room/index.php"

	first, _ := New(site.config("secret"), store)
	if err := first.Login(ctx, false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	for i, want := range []string{"no token", "token=r1 sids=room,abc"} {
		body, err := first.Fetch(ctx, http.MethodGet, room, nil)
		if err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
		if body != want {
			t.Errorf("fetch %d = %q, want %q", i, body, want)
		}
	}

	sess, err := store.Load(first.Key())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	paths := make(map[string]string)
	for _, c := range sess.Cookies {
		paths[c.Name+"@"+c.Path] = c.Value
	}
	if len(paths) != 3 || paths["sid@/"] != "abc" || paths["sid@/room"] != "room" || paths["room_token@/room"] != "r1" {
		t.Errorf("unexpected persisted cookies: %+v", sess.Cookies)
	}

	second, _ := New(site.config("secret"), store)
	site.posts.Store(0)
	if err := second.Login(ctx, false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if site.posts.Load() != 0 {
		t.Fatalf("expected the cached session, got %d login posts", site.posts.Load())
	}
	body, err := second.Fetch(ctx, http.MethodGet, room, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if body != "token=r1 sids=room,abc" {
		t.Errorf("restored session sent %q", body)
	}
}

func TestCookieRecording(t *testing.T) {
	now := time.Date(2019, 6, 1, 8, 0, 0, 0, time.UTC)
	jar := newRecordingJar(func() time.Time { return now })
	u, _ := url.Parse("https://jmlnt.forest.gov.tw/room/index.php")

	jar.SetCookies(u, []*http.Cookie{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2", Path: "/", Domain: ".forest.gov.tw", MaxAge: 60},
		{Name: "c", Value: "3", Expires: now.Add(-time.Hour)},
	})
	got := jar.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 cookies, got %+v", got)
	}
	if got[0].Name != "b" || got[0].Domain != "forest.gov.tw" || got[0].HostOnly || !got[0].Expires.Equal(now.Add(time.Minute)) {
		t.Errorf("unexpected domain cookie: %+v", got[0])
	}
	if got[1].Name != "a" || got[1].Path != "/room" || !got[1].HostOnly || got[1].Domain != "jmlnt.forest.gov.tw" {
		t.Errorf("unexpected host cookie: %+v", got[1])
	}

	jar.SetCookies(u, []*http.Cookie{{Name: "a", Value: "", MaxAge: -1}})
	if got := jar.snapshot(); len(got) != 1 || got[0].Name != "b" {
		t.Errorf("expected the deleted cookie gone, got %+v", got)
	}
}

func TestFileStore(t *testing.T) {
	hashKey := []byte("0123456789abcdef0123456789abcdef")
	blockKey := []byte("abcdef0123456789")
	sess := &Session{
		Origin:  "https://jmlnt.forest.gov.tw/",
		Cookies: []Cookie{{Name: "PHPSESSID", Value: "xyz", Domain: "jmlnt.forest.gov.tw", Path: "/", HostOnly: true}},
	}

	t.Run("sealed files round trip", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileStore(dir, hashKey, blockKey)
		if err := store.Save("jmlnt.forest.gov.tw", sess); err != nil {
			t.Fatalf("Save: %v", err)
		}
		raw, _ := os.ReadFile(store.Path("jmlnt.forest.gov.tw"))
		if strings.Contains(string(raw), "PHPSESSID") {
			t.Error("expected cookie names to be encrypted")
		}
		got, err := store.Load("jmlnt.forest.gov.tw")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Cookies[0].Value != "xyz" || got.Cookies[0].Path != "/" || !got.Cookies[0].HostOnly {
			t.Errorf("unexpected session: %+v", got)
		}

		other := NewFileStore(dir, []byte("ffffffffffffffffffffffffffffffff"), blockKey)
		if _, err := other.Load("jmlnt.forest.gov.tw"); err == nil {
			t.Error("expected decode failure with another key")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		store := NewFileStore(t.TempDir(), nil, nil)
		if _, err := store.Load("none"); !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
		if _, err := store.LastModified("none"); !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
	})

	t.Run("file name uses the host", func(t *testing.T) {
		store := NewFileStore("/tmp/x", nil, nil)
		if got := store.Path("npm.cpami.gov.tw"); got != "/tmp/x/npm.cpami.gov.tw_session.dat" {
			t.Errorf("unexpected path %q", got)
		}
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("retries server errors", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		}))
		defer srv.Close()

		c, _ := New(Config{RetryDelay: time.Millisecond}, nil)
		body, err := c.Fetch(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if body != "ok" || hits.Load() != 2 {
			t.Errorf("expected ok after 2 hits, got %q after %d", body, hits.Load())
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c, _ := New(Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
		_, err := c.Fetch(ctx, http.MethodGet, srv.URL, nil)
		if !errors.Is(err, ErrStatus) {
			t.Errorf("expected ErrStatus, got %v", err)
		}
		if hits.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", hits.Load())
		}
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		c, _ := New(Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
		c.Fetch(ctx, http.MethodGet, srv.URL, nil)
		if hits.Load() != 1 {
			t.Errorf("expected 1 attempt, got %d", hits.Load())
		}
	})

	t.Run("non 200 is a status error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		c, _ := New(Config{}, nil)
		_, err := c.Fetch(ctx, http.MethodGet, srv.URL, nil)
		if !errors.Is(err, ErrStatus) {
			t.Errorf("expected ErrStatus, got %v", err)
		}
	})

	t.Run("slow responses time out", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c, _ := New(Config{Timeout: 50 * time.Millisecond, MaxAttempts: 1}, nil)
		_, err := c.Fetch(ctx, http.MethodGet, srv.URL, nil)
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("unreachable host is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		c, _ := New(Config{MaxAttempts: 1}, nil)
		_, err := c.Fetch(ctx, http.MethodGet, addr, nil)
		if !errors.Is(err, ErrTransport) {
			t.Errorf("expected ErrTransport, got %v", err)
		}
	})

	t.Run("decodes big5 pages", func(t *testing.T) {
		encoded, err := traditionalchinese.Big5.NewEncoder().String("<html>排雲山莊</html>")
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=big5")
			w.Write([]byte(encoded))
		}))
		defer srv.Close()

		c, _ := New(Config{}, nil)
		page, err := c.RetrieveContent(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			t.Fatalf("RetrieveContent: %v", err)
		}
		if !strings.Contains(page.Body, "排雲山莊") {
			t.Errorf("expected decoded body, got %q", page.Body)
		}
		if page.Encoding != "big5" {
			t.Errorf("expected big5 encoding, got %q", page.Encoding)
		}
	})

	t.Run("posts forms", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			w.Write([]byte(r.Method + " " + r.PostForm.Get("mode")))
		}))
		defer srv.Close()

		c, _ := New(Config{}, nil)
		body, err := c.Fetch(ctx, http.MethodPost, srv.URL, url.Values{"mode": {"log_in"}})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if body != "POST log_in" {
			t.Errorf("unexpected body %q", body)
		}
	})
}
