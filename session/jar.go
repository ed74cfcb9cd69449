package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// recordingJar is a cookie jar that also keeps every cookie it was handed,
// attributes included, so the session can be written out and rebuilt.
type recordingJar struct {
	jar *cookiejar.Jar
	now func() time.Time

	mu      sync.Mutex
	cookies map[cookieKey]Cookie
}

type cookieKey struct {
	domain, path, name string
}

func newRecordingJar(now func() time.Time) *recordingJar {
	jar, _ := cookiejar.New(nil)
	return &recordingJar{jar: jar, now: now, cookies: make(map[cookieKey]Cookie)}
}

func (j *recordingJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for _, c := range cookies {
		pc := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(strings.ToLower(c.Domain), "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if pc.Domain == "" {
			pc.Domain = strings.ToLower(u.Hostname())
			pc.HostOnly = true
		}
		if pc.Path == "" || pc.Path[0] != '/' {
			pc.Path = defaultPath(u.Path)
		}
		key := cookieKey{domain: pc.Domain, path: pc.Path, name: pc.Name}

		switch {
		case c.MaxAge < 0:
			delete(j.cookies, key)
			continue
		case c.MaxAge > 0:
			pc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			if !c.Expires.After(now) {
				delete(j.cookies, key)
				continue
			}
			pc.Expires = c.Expires
		}
		j.cookies[key] = pc
	}
}

// snapshot returns the live cookies ordered by domain, path and name.
func (j *recordingJar) snapshot() []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	out := make([]Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		if out[a].Path != out[b].Path {
			return out[a].Path < out[b].Path
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// load puts persisted cookies back. Cookies saved without a domain belong
// to the origin host.
func (j *recordingJar) load(origin *url.URL, cookies []Cookie) {
	for _, c := range cookies {
		host := c.Domain
		if host == "" {
			host = origin.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if !c.HostOnly && c.Domain != "" {
			hc.Domain = c.Domain
		}
		j.SetCookies(&url.URL{Scheme: origin.Scheme, Host: host, Path: path}, []*http.Cookie{hc})
	}
}

// defaultPath is the cookie path used when Set-Cookie names none: the
// request path up to its last slash.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
