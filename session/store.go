// Package session keeps an authenticated cookie session for a reservation
// site and persists it between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/securecookie"
)

// FileSuffix is appended to the site host to name the cache file.
const FileSuffix = "_session.dat"

// ErrNoSession is returned when no session has been persisted for a key.
var ErrNoSession = errors.New("no persisted session")

// Cookie is a persisted cookie with the attributes the jar needs to scope
// it again.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	HostOnly bool      `json:"host_only,omitempty"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// Session is the serializable state of a site session. The HTTP client is
// rebuilt from it and never stored.
type Session struct {
	Origin  string   `json:"origin"`
	Cookies []Cookie `json:"cookies"`
}

// Store persists sessions by key.
type Store interface {
	Load(key string) (*Session, error)
	Save(key string, s *Session) error
	LastModified(key string) (time.Time, error)
}

// FileStore keeps one file per key in a directory. With a hash key the file
// is signed, and with a block key also encrypted.
type FileStore struct {
	dir   string
	codec *securecookie.SecureCookie
}

// NewFileStore creates a store in dir. hashKey may be nil for plain JSON
// files.
func NewFileStore(dir string, hashKey, blockKey []byte) *FileStore {
	s := &FileStore{dir: dir}
	if len(hashKey) > 0 {
		codec := securecookie.New(hashKey, blockKey)
		codec.MaxAge(0)
		codec.MaxLength(0)
		codec.SetSerializer(securecookie.JSONEncoder{})
		s.codec = codec
	}
	return s
}

// Path returns the file used for key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+FileSuffix)
}

func (s *FileStore) Load(key string) (*Session, error) {
	raw, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sess Session
	if s.codec != nil {
		if err := s.codec.Decode(key, string(raw), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		return &sess, nil
	}
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *FileStore) Save(key string, sess *Session) error {
	var raw []byte
	if s.codec != nil {
		encoded, err := s.codec.Encode(key, sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		raw = []byte(encoded)
	} else {
		b, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		raw = b
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.Path(key), raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *FileStore) LastModified(key string) (time.Time, error) {
	info, err := os.Stat(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, ErrNoSession
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
