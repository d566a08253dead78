package asset

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yosida95/uritemplate/v3"
)

// blobPath is the route native renderers fetch object URL content from.
const blobPath = "/blob/{id}"

var blobTemplate = uritemplate.MustNew(blobPath)

type object struct {
	data        []byte
	contentType string
	created     time.Time
}

// ObjectURLs is a registry of short-lived local references to fetched
// content. References have the form blob:<origin>/<id> and stay valid
// until revoked.
type ObjectURLs struct {
	origin string

	mu       sync.RWMutex
	objects  map[string]object
	onRevoke []func(url string)
}

// NewObjectURLs creates a registry. origin is the base URL of the local
// server that exposes the registry, such as http://127.0.0.1:7777.
func NewObjectURLs(origin string) *ObjectURLs {
	return &ObjectURLs{
		origin:  strings.TrimRight(origin, "/"),
		objects: make(map[string]object),
	}
}

// Origin returns the registry origin.
func (u *ObjectURLs) Origin() string {
	return u.origin
}

// Create registers data and returns its object URL.
func (u *ObjectURLs) Create(data []byte, contentType string) string {
	id := uuid.NewString()
	u.mu.Lock()
	u.objects[id] = object{data: data, contentType: contentType, created: time.Now()}
	u.mu.Unlock()
	return "blob:" + u.origin + "/" + id
}

// Revoke releases url. It reports false if url was not outstanding.
func (u *ObjectURLs) Revoke(url string) bool {
	id, ok := u.id(url)
	if !ok {
		return false
	}
	u.mu.Lock()
	_, found := u.objects[id]
	delete(u.objects, id)
	hooks := make([]func(string), len(u.onRevoke))
	copy(hooks, u.onRevoke)
	u.mu.Unlock()

	if !found {
		return false
	}
	for _, fn := range hooks {
		fn(url)
	}
	return true
}

// Lookup returns the content behind url.
func (u *ObjectURLs) Lookup(url string) (data []byte, contentType string, ok bool) {
	id, ok := u.id(url)
	if !ok {
		return nil, "", false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	obj, ok := u.objects[id]
	return obj.data, obj.contentType, ok
}

// Outstanding returns the number of unrevoked references.
func (u *ObjectURLs) Outstanding() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.objects)
}

// OnRevoke registers fn to run after each successful revocation.
func (u *ObjectURLs) OnRevoke(fn func(url string)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onRevoke = append(u.onRevoke, fn)
}

// HTTPURL converts an object URL to the plain HTTP address served by
// ServeHTTP, for renderers that cannot resolve blob: URLs.
func (u *ObjectURLs) HTTPURL(url string) (string, bool) {
	id, ok := u.id(url)
	if !ok {
		return "", false
	}
	path, err := blobTemplate.Expand(uritemplate.Values{"id": uritemplate.String(id)})
	if err != nil {
		return "", false
	}
	return u.origin + path, true
}

// ServeHTTP serves GET /blob/{id} for outstanding references.
func (u *ObjectURLs) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	match := blobTemplate.Match(r.URL.Path)
	if match == nil {
		http.NotFound(w, r)
		return
	}
	id := match.Get("id").String()

	u.mu.RLock()
	obj, ok := u.objects[id]
	u.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if obj.contentType != "" {
		w.Header().Set("Content-Type", obj.contentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "", obj.created, bytes.NewReader(obj.data))
}

func (u *ObjectURLs) id(url string) (string, bool) {
	prefix := "blob:" + u.origin + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(url, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Verify interface compliance.
var _ http.Handler = (*ObjectURLs)(nil)
