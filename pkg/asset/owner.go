package asset

import (
	"context"
	"sync"
)

// Owner holds the single outstanding asset of one rendering component.
// Loading a new asset replaces the previous one, whose reference is
// revoked only after the new one has become the active source.
type Owner struct {
	name   string
	loader *Loader

	mu         sync.Mutex
	active     *Handle
	pending    *Handle
	generation uint64
	cancel     context.CancelFunc
	closed     bool
}

// Name returns the owner name.
func (o *Owner) Name() string {
	return o.name
}

// Load starts fetching remoteID and returns its handle in the Loading
// state. Any load still in flight for this owner is cancelled and its
// handle released.
func (o *Owner) Load(ctx context.Context, remoteID string, category Category, variant Variant) *Handle {
	h := newHandle(remoteID, category, variant)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		h.settle(Failed, "", "", 0, ErrClosed)
		return h
	}
	o.generation++
	gen := o.generation
	superseded := o.pending
	if o.cancel != nil {
		o.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	o.pending = h
	o.cancel = cancel
	o.mu.Unlock()

	if superseded != nil {
		superseded.settle(Released, "", "", 0, ErrSuperseded)
	}

	go func() {
		defer cancel()
		res := o.loader.fetch(fetchCtx, remoteID, variant)
		o.complete(ctx, h, gen, res)
	}()
	return h
}

// Source returns the local reference currently rendered by the owner,
// or "" if none.
func (o *Owner) Source() string {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if active == nil {
		return ""
	}
	return active.URL()
}

// Active returns the handle currently rendered by the owner.
func (o *Owner) Active() *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Close cancels any in-flight fetch and revokes the active reference.
// Later loads fail with ErrClosed.
func (o *Owner) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.generation++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	active, pending := o.active, o.pending
	o.active, o.pending = nil, nil
	o.mu.Unlock()

	if pending != nil {
		pending.settle(Released, "", "", 0, ErrClosed)
	}
	if active != nil {
		active.release(o.loader.urls)
	}
}

func (o *Owner) complete(ctx context.Context, h *Handle, gen uint64, res fetchResult) {
	ok := res.outcome == nil && res.err == nil
	var url string
	if ok {
		url = o.loader.urls.Create(res.data, res.contentType)
	}

	o.mu.Lock()
	if gen != o.generation || o.closed {
		o.mu.Unlock()
		if url != "" {
			o.loader.urls.Revoke(url)
		}
		h.settle(Released, "", "", 0, ErrSuperseded)
		return
	}
	previous := o.active
	o.pending = nil
	o.cancel = nil
	if ok {
		o.active = h
		h.settle(Ready, url, res.contentType, len(res.data), nil)
	} else {
		o.active = nil
	}
	o.mu.Unlock()

	if previous != nil {
		previous.release(o.loader.urls)
	}
	if ok {
		return
	}

	err := res.err
	if res.outcome != nil {
		err = o.loader.recovery.Resolve(ctx, *res.outcome)
	}
	o.loader.logger.Debug("asset load failed", "owner", o.name, "id", h.remoteID, "error", err)
	h.settle(Failed, "", "", 0, err)
}
