package agent

import (
	"sync"

	"redlive/internal/core/domain"
	"redlive/internal/core/ports"
)

// EventsProxy breaks the construction cycle between the signaling channel and
// the session controller: the channel is built against the proxy, the
// controller is bound afterwards. Events arriving before Bind are dropped;
// nothing connects before wiring completes.
type EventsProxy struct {
	mu     sync.RWMutex
	target ports.SignalingEvents
}

func NewEventsProxy() *EventsProxy {
	return &EventsProxy{}
}

func (p *EventsProxy) Bind(target ports.SignalingEvents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = target
}

func (p *EventsProxy) get() ports.SignalingEvents {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

func (p *EventsProxy) OnConnected() {
	if t := p.get(); t != nil {
		t.OnConnected()
	}
}

func (p *EventsProxy) OnDisconnected(terminal bool) {
	if t := p.get(); t != nil {
		t.OnDisconnected(terminal)
	}
}

func (p *EventsProxy) OnComment(c *domain.ChatComment) {
	if t := p.get(); t != nil {
		t.OnComment(c)
	}
}

func (p *EventsProxy) OnViewerCount(count int) {
	if t := p.get(); t != nil {
		t.OnViewerCount(count)
	}
}

func (p *EventsProxy) OnViewerList(viewers []string) {
	if t := p.get(); t != nil {
		t.OnViewerList(viewers)
	}
}

func (p *EventsProxy) OnStreamStarted() {
	if t := p.get(); t != nil {
		t.OnStreamStarted()
	}
}

func (p *EventsProxy) OnStreamEnded() {
	if t := p.get(); t != nil {
		t.OnStreamEnded()
	}
}

func (p *EventsProxy) OnKicked(reason string) {
	if t := p.get(); t != nil {
		t.OnKicked(reason)
	}
}

func (p *EventsProxy) OnSystemMessage(message string) {
	if t := p.get(); t != nil {
		t.OnSystemMessage(message)
	}
}
