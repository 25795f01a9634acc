package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"trackguard/internal/hostpage"
)

// FakePage is a scriptable in-memory host page for tests. Markup is swapped
// wholesale with SetSnapshot; each swap emits one mutation signal, matching
// the adapter contract.
type FakePage struct {
	mu       sync.Mutex
	url      string
	snapshot string
	fields   map[string]string
	applied  []hostpage.MarkupOp
	removed  []string

	mutations   chan struct{}
	navigations chan hostpage.NavigationEvent

	// Fail injection.
	ApplyErr error
}

var _ hostpage.Page = (*FakePage)(nil)

// NewFakePage builds a page showing the given markup at the given URL.
func NewFakePage(url, snapshot string) *FakePage {
	return &FakePage{
		url:         url,
		snapshot:    snapshot,
		fields:      make(map[string]string),
		mutations:   make(chan struct{}, 64),
		navigations: make(chan hostpage.NavigationEvent, 16),
	}
}

// SetSnapshot replaces the page markup and signals a structural change.
func (p *FakePage) SetSnapshot(snapshot string) {
	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()
	select {
	case p.mutations <- struct{}{}:
	default:
	}
}

// SetField seeds a form field value keyed by selector.
func (p *FakePage) SetField(selector, value string) {
	p.mu.Lock()
	p.fields[selector] = value
	p.mu.Unlock()
}

// Navigate changes the page URL and emits a navigation event.
func (p *FakePage) Navigate(kind hostpage.NavigationKind, url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.navigations <- hostpage.NavigationEvent{Kind: kind, URL: url}
}

// Applied returns the markup operations performed so far.
func (p *FakePage) Applied() []hostpage.MarkupOp {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]hostpage.MarkupOp, len(p.applied))
	copy(out, p.applied)
	return out
}

func (p *FakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) Snapshot(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot, nil
}

func (p *FakePage) Mutations() <-chan struct{} {
	return p.mutations
}

func (p *FakePage) Navigations() <-chan hostpage.NavigationEvent {
	return p.navigations
}

func (p *FakePage) ReadField(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.fields[selector]
	if !ok {
		return "", fmt.Errorf("no field %s", selector)
	}
	return value, nil
}

func (p *FakePage) WriteField(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fields[selector] = value
	return nil
}

// Apply records the operation and splices the injected HTML into the
// snapshot so idempotency checks observe it.
func (p *FakePage) Apply(_ context.Context, op hostpage.MarkupOp) error {
	if p.ApplyErr != nil {
		return p.ApplyErr
	}
	p.mu.Lock()
	p.applied = append(p.applied, op)
	if idx := strings.Index(p.snapshot, "</body>"); idx >= 0 {
		p.snapshot = p.snapshot[:idx] + op.HTML + p.snapshot[idx:]
	} else {
		p.snapshot += op.HTML
	}
	p.mu.Unlock()
	select {
	case p.mutations <- struct{}{}:
	default:
	}
	return nil
}

func (p *FakePage) Remove(_ context.Context, selector string) error {
	p.mu.Lock()
	p.removed = append(p.removed, selector)
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Close() error { return nil }
