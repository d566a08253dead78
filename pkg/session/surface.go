package session

// SurfaceFuncs adapts a pair of functions to Surface.
type SurfaceFuncs struct {
	OnShow func(Prompt)
	OnHide func()
}

// Show calls OnShow if set.
func (f SurfaceFuncs) Show(p Prompt) {
	if f.OnShow != nil {
		f.OnShow(p)
	}
}

// Hide calls OnHide if set.
func (f SurfaceFuncs) Hide() {
	if f.OnHide != nil {
		f.OnHide()
	}
}

// ChannelSurface delivers prompts on a channel for hosts that render the
// login modal from their own event loop.
type ChannelSurface struct {
	prompts chan Prompt
	hidden  chan struct{}
}

// NewChannelSurface creates a surface with the given buffer size.
func NewChannelSurface(buffer int) *ChannelSurface {
	return &ChannelSurface{
		prompts: make(chan Prompt, buffer),
		hidden:  make(chan struct{}, buffer),
	}
}

// Prompts returns the channel of shown prompts.
func (c *ChannelSurface) Prompts() <-chan Prompt {
	return c.prompts
}

// Hidden returns a channel signalled when the prompt is dismissed.
func (c *ChannelSurface) Hidden() <-chan struct{} {
	return c.hidden
}

// Show enqueues p, dropping it if the buffer is full.
func (c *ChannelSurface) Show(p Prompt) {
	select {
	case c.prompts <- p:
	default:
	}
}

// Hide signals dismissal, dropping the signal if the buffer is full.
func (c *ChannelSurface) Hide() {
	select {
	case c.hidden <- struct{}{}:
	default:
	}
}

// Verify interface compliance.
var (
	_ Surface = SurfaceFuncs{}
	_ Surface = (*ChannelSurface)(nil)
)
