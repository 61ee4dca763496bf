package session

import (
	"sync"
	"time"
)

// Presence tracks page visibility. Listeners fire when the page becomes
// visible or focused again after being hidden for longer than the
// threshold.
type Presence struct {
	threshold time.Duration
	now       func() time.Time

	mu        sync.Mutex
	visible   bool
	hiddenAt  time.Time
	listeners []func()
}

func NewPresence(threshold time.Duration) *Presence {
	return &Presence{
		threshold: threshold,
		now:       time.Now,
		visible:   true,
	}
}

func (p *Presence) OnRegained(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Presence) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// SetVisible records a visibility transition.
func (p *Presence) SetVisible(visible bool) {
	p.mu.Lock()

	if !visible {
		if p.visible {
			p.visible = false
			p.hiddenAt = p.now()
		}
		p.mu.Unlock()
		return
	}

	if p.visible {
		p.mu.Unlock()
		return
	}

	hiddenFor := p.now().Sub(p.hiddenAt)
	p.visible = true
	listeners := p.listeners
	p.mu.Unlock()

	if hiddenFor > p.threshold {
		for _, fn := range listeners {
			fn()
		}
	}
}

// Focus is a visible transition driven by window focus.
func (p *Presence) Focus() {
	p.SetVisible(true)
}

// Blur is the matching hidden transition.
func (p *Presence) Blur() {
	p.SetVisible(false)
}
