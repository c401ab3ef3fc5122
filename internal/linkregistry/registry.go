// Package linkregistry owns the persistent mapping from a host sessionKey to
// its store-side session metadata: the store session id, the last queued
// event sequence, and the last commit time. The backing file is a single
// JSON object keyed by sessionKey, mutated under an atomic read-modify-write
// so concurrent sessionKeys never corrupt each other's entries.
package linkregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joestump/memctl/internal/bridgeerr"
)

// Link is one sessionKey's linkage record.
type Link struct {
	SessionID       string    `json:"sessionId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
	SessionFile     string    `json:"sessionFile,omitempty"`
	StoreSessionID  string    `json:"openvikingSessionId,omitempty"`
	LastSyncedSeq   int64     `json:"lastSyncedSeq"`
	LastCommitAt    time.Time `json:"lastCommitAt"`
}

// CreateSessionFunc mints a new store session id. Supplied by the caller so
// this package has no direct dependency on the store client.
type CreateSessionFunc func() (string, error)

// Registry guards one session-store file.
type Registry struct {
	path string
	mu   sync.Mutex
}

// New opens (without yet reading) the session store file at path.
func New(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) load() (map[string]*Link, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Link{}, nil
		}
		return nil, bridgeerr.Wrap(bridgeerr.KindConfig, "read session store", err)
	}
	if len(data) == 0 {
		return map[string]*Link{}, nil
	}
	links := map[string]*Link{}
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindProtocol, "parse session store", err)
	}
	return links, nil
}

func (r *Registry) persist(links map[string]*Link) error {
	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindProtocol, "encode session store", err)
	}
	dir := filepath.Dir(r.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return bridgeerr.Wrap(bridgeerr.KindConfig, "create session store dir", err)
		}
	}
	tmp := r.path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindConfig, "write session store tmp file", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return bridgeerr.Wrap(bridgeerr.KindConfig, "rename session store tmp file", err)
	}
	return nil
}

// Get returns a copy of the link for sessionKey, if any.
func (r *Registry) Get(sessionKey string) (Link, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	links, err := r.load()
	if err != nil {
		return Link{}, false, err
	}
	l, ok := links[sessionKey]
	if !ok {
		return Link{}, false, nil
	}
	return *l, true, nil
}

// EnsureLink returns the storeSessionId for sessionKey, creating one via
// create if none is linked yet. Once set, storeSessionId is immutable.
func (r *Registry) EnsureLink(sessionKey string, create CreateSessionFunc) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	links, err := r.load()
	if err != nil {
		return "", err
	}
	l, ok := links[sessionKey]
	if ok && l.StoreSessionID != "" {
		return l.StoreSessionID, nil
	}

	storeSessionID, err := create()
	if err != nil {
		return "", bridgeerr.Wrap(bridgeerr.KindTransport, "create store session", err)
	}

	if !ok {
		l = &Link{}
		links[sessionKey] = l
	}
	l.StoreSessionID = storeSessionID
	l.SessionID = storeSessionID
	l.UpdatedAt = time.Now()

	if err := r.persist(links); err != nil {
		return "", err
	}
	return storeSessionID, nil
}

// BumpSeq increments lastSyncedSeq by max(1, delta) for sessionKey.
func (r *Registry) BumpSeq(sessionKey string, delta int) error {
	if delta < 1 {
		delta = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	links, err := r.load()
	if err != nil {
		return err
	}
	l, ok := links[sessionKey]
	if !ok {
		l = &Link{}
		links[sessionKey] = l
	}
	l.LastSyncedSeq += int64(delta)
	l.UpdatedAt = time.Now()
	return r.persist(links)
}

// List returns a copy of every sessionKey's link, for dashboard display.
func (r *Registry) List() (map[string]Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	links, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Link, len(links))
	for k, l := range links {
		out[k] = *l
	}
	return out, nil
}

// MarkCommitQueued sets lastCommitAt = now for sessionKey.
func (r *Registry) MarkCommitQueued(sessionKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	links, err := r.load()
	if err != nil {
		return err
	}
	l, ok := links[sessionKey]
	if !ok {
		l = &Link{}
		links[sessionKey] = l
	}
	now := time.Now()
	l.LastCommitAt = now
	l.UpdatedAt = now
	return r.persist(links)
}
