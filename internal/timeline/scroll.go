package timeline

import "sync"

const DefaultScrollThreshold = 100.0

type ScrollState int

const (
	AtBottom ScrollState = iota
	ScrolledUp
)

func (s ScrollState) String() string {
	if s == ScrolledUp {
		return "scrolled_up"
	}
	return "at_bottom"
}

// ScrollEffect tells the renderer what to do after a transition.
type ScrollEffect struct {
	ScrollToBottom bool
	// MarkLatestRead asks the caller to mark the newest message read.
	MarkLatestRead bool
}

// ScrollController decides between auto-scrolling and counting unseen
// messages behind a "new messages" indicator.
type ScrollController struct {
	mu        sync.Mutex
	threshold float64
	state     ScrollState
	unseen    int
}

func NewScrollController(threshold float64) *ScrollController {
	if threshold <= 0 {
		threshold = DefaultScrollThreshold
	}
	return &ScrollController{threshold: threshold}
}

// OnScroll reports the viewport's distance from the bottom in pixels.
func (c *ScrollController) OnScroll(distanceFromBottom float64) ScrollEffect {
	c.mu.Lock()
	defer c.mu.Unlock()

	if distanceFromBottom > c.threshold {
		c.state = ScrolledUp
		return ScrollEffect{}
	}
	if c.state == ScrolledUp {
		return c.enterBottomLocked(false)
	}
	return ScrollEffect{}
}

// JumpToLatest is the explicit "jump to latest" action.
func (c *ScrollController) JumpToLatest() ScrollEffect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enterBottomLocked(true)
}

// OnNewMessage handles an arrival. Our own messages always bring the view
// to the bottom; remote ones only when it is already there.
func (c *ScrollController) OnNewMessage(own bool) ScrollEffect {
	c.mu.Lock()
	defer c.mu.Unlock()

	if own || c.state == AtBottom {
		return c.enterBottomLocked(true)
	}
	c.unseen++
	return ScrollEffect{}
}

// Reset returns to the bottom with no indicator, as on channel switch.
func (c *ScrollController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = AtBottom
	c.unseen = 0
}

func (c *ScrollController) State() ScrollState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unseen is the count shown on the "new messages" indicator.
func (c *ScrollController) Unseen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unseen
}

func (c *ScrollController) enterBottomLocked(scroll bool) ScrollEffect {
	c.state = AtBottom
	c.unseen = 0
	return ScrollEffect{ScrollToBottom: scroll, MarkLatestRead: true}
}
