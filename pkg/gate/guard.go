package gate

import (
	"context"
	"sync"

	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/observability"
	"github.com/platinummonkey/portal/pkg/rbac"
)

// Resolver resolves an email to a role. *rbac.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, email string) (*rbac.RoleRecord, error)
}

// Listener is notified of every decision a Guard publishes
type Listener func(Decision)

// Guard tracks the access decision for one mounted view.
//
// Each Mount or Refresh starts a new generation; only the newest generation
// may publish its result, and nothing is published after Unmount.
type Guard struct {
	resolver Resolver
	session  *identity.Session
	req      Requirements
	metrics  *observability.Metrics

	mu        sync.Mutex
	gen       uint64
	mounted   bool
	cancel    context.CancelFunc
	decision  Decision
	settled   chan struct{}
	listeners map[int]Listener
	nextID    int

	emitMu sync.Mutex
}

// GuardOption customizes a Guard
type GuardOption func(*Guard)

func WithGuardMetrics(m *observability.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates an unmounted guard for session. session may be nil for
// an anonymous visitor.
func NewGuard(resolver Resolver, session *identity.Session, req Requirements, opts ...GuardOption) *Guard {
	settled := make(chan struct{})
	g := &Guard{
		resolver:  resolver,
		session:   session,
		req:       req,
		decision:  LoadingDecision(),
		settled:   settled,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Subscribe registers l and returns a function that removes it
func (g *Guard) Subscribe(l Listener) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = l
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

// Mount starts the first resolution. Mounting a mounted guard refreshes it.
func (g *Guard) Mount(ctx context.Context) {
	g.start(ctx)
}

// Refresh re-resolves the role, superseding any resolution in flight
func (g *Guard) Refresh(ctx context.Context) {
	g.start(ctx)
}

// Unmount cancels the in-flight resolution. Later results are discarded.
func (g *Guard) Unmount() {
	g.mu.Lock()
	g.gen++
	g.mounted = false
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.releaseWaiters()
	g.mu.Unlock()
}

// Decision returns the latest published decision
func (g *Guard) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// State returns the latest published state
func (g *Guard) State() State {
	return g.Decision().State
}

// Mounted reports whether the guard is mounted
func (g *Guard) Mounted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mounted
}

// Wait blocks until a resolution settles, the guard is unmounted, or ctx
// is done, and returns the decision at that point. A Refresh while waiting
// extends the wait to the new generation.
func (g *Guard) Wait(ctx context.Context) (Decision, error) {
	for {
		g.mu.Lock()
		settled := g.settled
		g.mu.Unlock()

		select {
		case <-settled:
			g.mu.Lock()
			d := g.decision
			pending := g.mounted && d.State == Loading
			g.mu.Unlock()
			if !pending {
				return d, nil
			}
		case <-ctx.Done():
			return g.Decision(), ctx.Err()
		}
	}
}

func (g *Guard) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.releaseWaiters()
	g.gen++
	gen := g.gen
	g.mounted = true
	g.cancel = cancel
	g.decision = LoadingDecision()
	g.settled = make(chan struct{})
	g.mu.Unlock()

	g.emit(gen, LoadingDecision())

	go g.resolve(ctx, gen)
}

func (g *Guard) resolve(ctx context.Context, gen uint64) {
	var d Decision
	if !g.session.Authenticated() {
		d = Evaluate(nil, nil, g.req)
	} else {
		role, err := g.resolver.Resolve(ctx, g.session.Email())
		d = Evaluate(role, err, g.req)
	}

	g.mu.Lock()
	if gen != g.gen || !g.mounted {
		g.mu.Unlock()
		return
	}
	g.decision = d
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.releaseWaiters()
	g.mu.Unlock()

	g.metrics.ObserveGateDecision(ctx, d.State.String(), d.Outcome.String())
	g.emit(gen, d)
}

// releaseWaiters closes the settled channel once. Caller holds mu.
func (g *Guard) releaseWaiters() {
	select {
	case <-g.settled:
	default:
		close(g.settled)
	}
}

func (g *Guard) emit(gen uint64, d Decision) {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(g.listeners))
	for _, l := range g.listeners {
		listeners = append(listeners, l)
	}
	g.mu.Unlock()

	for _, l := range listeners {
		// An Unmount or Refresh during delivery stops the remaining listeners
		if !g.current(gen) {
			return
		}
		l(d)
	}
}

func (g *Guard) current(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gen == g.gen
}
