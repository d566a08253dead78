package asset

import (
	"context"
	"sync"
)

// Category is the kind of content an asset holds.
type Category string

// Content categories.
const (
	Document Category = "document"
	Image    Category = "image"
	Video    Category = "video"
	Audio    Category = "audio"
	PDF      Category = "pdf"
)

// Variant selects which endpoint an asset is fetched from.
type Variant string

const (
	// Raw streams the original asset.
	Raw Variant = "raw"

	// Preview streams a render-optimized rendition for inline display.
	Preview Variant = "preview"
)

// DefaultVariant returns the variant used to display c inline. Office
// documents need the converted preview; everything else renders raw.
func DefaultVariant(c Category) Variant {
	if c == Document {
		return Preview
	}
	return Raw
}

// State is a handle's lifecycle state.
type State int

// Handle states.
const (
	Loading State = iota
	Ready
	Failed
	Released
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Released:
		return "released"
	default:
		return "loading"
	}
}

// Handle tracks one fetched asset and its local reference.
type Handle struct {
	remoteID string
	category Category
	variant  Variant

	mu          sync.RWMutex
	state       State
	url         string
	contentType string
	size        int
	err         error
	done        chan struct{}
}

func newHandle(remoteID string, category Category, variant Variant) *Handle {
	return &Handle{
		remoteID: remoteID,
		category: category,
		variant:  variant,
		done:     make(chan struct{}),
	}
}

// RemoteID returns the identifier the asset was requested with.
func (h *Handle) RemoteID() string { return h.remoteID }

// Category returns the content category.
func (h *Handle) Category() Category { return h.category }

// Variant returns the fetched variant.
func (h *Handle) Variant() Variant { return h.variant }

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// URL returns the local reference while the handle is Ready.
func (h *Handle) URL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != Ready {
		return ""
	}
	return h.url
}

// ContentType returns the content type reported by the API.
func (h *Handle) ContentType() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.contentType
}

// Size returns the payload size in bytes.
func (h *Handle) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Err returns the failure cause for Failed and superseded handles.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Done is closed once the handle leaves Loading.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle settles and returns its error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle moves a loading handle to its final state exactly once.
func (h *Handle) settle(state State, url, contentType string, size int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Loading {
		return
	}
	h.state = state
	h.url = url
	h.contentType = contentType
	h.size = size
	h.err = err
	close(h.done)
}

// release revokes the reference of a Ready handle.
func (h *Handle) release(urls *ObjectURLs) {
	h.mu.Lock()
	if h.state != Ready {
		h.mu.Unlock()
		return
	}
	h.state = Released
	url := h.url
	h.mu.Unlock()

	urls.Revoke(url)
}
