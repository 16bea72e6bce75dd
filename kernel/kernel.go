// Package kernel implements the control plane described in spec §4.4:
// principal identity, the exclusive per-document write lease, consent
// mode, the tool registry and its filter composition, and the drift
// queue used to inject cross-context messages into a running session.
package kernel

import (
	"sync"
	"time"

	"kaijutsu/domain"
	"kaijutsu/kernelerr"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
)

// ConsentMode governs whether tool execution requires interactive
// confirmation (spec §4.4).
type ConsentMode string

const (
	ConsentCollaborative ConsentMode = "collaborative"
	ConsentAutonomous    ConsentMode = "autonomous"
)

// Lease is an exclusive, timeout-expirable write token on a document. Only
// the lease holder may mutate blocks through the kernel; other principals
// may still read (spec §4.4, §5 lock ordering).
type Lease struct {
	Holder    domain.PrincipalId
	ExpiresAt time.Time
}

func (l Lease) expired(now time.Time) bool {
	return l.Holder == "" || now.After(l.ExpiresAt)
}

// FilterMode selects how a tool filter restricts the effective tool set.
type FilterMode string

const (
	FilterAll       FilterMode = "all"
	FilterAllowList FilterMode = "allow_list"
	FilterDenyList  FilterMode = "deny_list"
)

// Filter narrows a registry's tools down to an effective set. Filters
// compose by intersection via Intersect: a tool must pass every link in
// the chain to be usable (spec §4.4 property P9).
type Filter struct {
	Mode  FilterMode
	Names map[string]bool
	next  *Filter
}

func AllowAll() Filter { return Filter{Mode: FilterAll} }

func AllowList(names ...string) Filter {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return Filter{Mode: FilterAllowList, Names: set}
}

func DenyList(names ...string) Filter {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return Filter{Mode: FilterDenyList, Names: set}
}

func (f Filter) permitsSelf(name string) bool {
	switch f.Mode {
	case FilterAllowList:
		return f.Names[name]
	case FilterDenyList:
		return !f.Names[name]
	default:
		return true
	}
}

func (f Filter) permits(name string) bool {
	if !f.permitsSelf(name) {
		return false
	}
	if f.next != nil {
		return f.next.permits(name)
	}
	return true
}

// Intersect composes two filters: a tool passes only if both permit it.
func Intersect(a, b Filter) Filter {
	if a.next != nil {
		rest := Intersect(*a.next, b)
		a.next = &rest
		return a
	}
	bCopy := b
	a.next = &bCopy
	return a
}

// ToolSpec describes one registered tool (spec §4.4, §4.5).
type ToolSpec struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// ReflectToolSchema derives a tool's input schema from its Go input
// struct, the same reflection-based approach the teacher corpus uses for
// LLM tool-call schemas (mirrors common/llm_types.go's schema-from-struct
// use for ToolCall).
func ReflectToolSchema(input any) *jsonschema.Schema {
	r := &jsonschema.Reflector{ExpandedStruct: true}
	return r.Reflect(input)
}

// ToolRegistry holds every tool known to the kernel plus the set of tools
// currently equipped for use (spec §4.4: register vs equip are distinct
// steps — a tool can be known without being active).
type ToolRegistry struct {
	mu       sync.RWMutex
	specs    map[string]ToolSpec
	equipped map[string]bool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{specs: make(map[string]ToolSpec), equipped: make(map[string]bool)}
}

func (r *ToolRegistry) Register(spec ToolSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return kernelerr.AlreadyExists("kernel: tool %q already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

func (r *ToolRegistry) Equip(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[name]; !ok {
		return kernelerr.ToolNotFound("kernel: cannot equip unknown tool %q", name)
	}
	r.equipped[name] = true
	return nil
}

func (r *ToolRegistry) Unequip(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.equipped, name)
}

// List returns the names of equipped tools that pass filter (spec §4.4:
// "the effective tool set for a session is its equipped tools narrowed by
// whatever filter the session was given").
func (r *ToolRegistry) List(filter Filter) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name := range r.equipped {
		if filter.permits(name) {
			out = append(out, name)
		}
	}
	return out
}

func (r *ToolRegistry) Spec(name string) (ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	if !ok {
		return ToolSpec{}, kernelerr.ToolNotFound("kernel: no such tool %q", name)
	}
	return s, nil
}

// DriftMessage is a cross-context notification injected into a running
// session — e.g. "the user edited a sibling context while you were
// streaming" (spec §4.4, §9 supplemented feature).
type DriftMessage struct {
	Id          string
	FromContext domain.ContextId
	ToContext   domain.ContextId
	Text        string
	At          time.Time
}

// DriftQueue buffers drift messages per destination context until the
// hook listener or session loop drains them.
type DriftQueue struct {
	mu    sync.Mutex
	byCtx map[domain.ContextId][]DriftMessage
}

func NewDriftQueue() *DriftQueue {
	return &DriftQueue{byCtx: make(map[domain.ContextId][]DriftMessage)}
}

// Push enqueues msg, assigning it a ksuid-derived id if it doesn't already
// have one so consumers can dedupe retried deliveries.
func (q *DriftQueue) Push(msg DriftMessage) {
	if msg.Id == "" {
		msg.Id = ksuid.New().String()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byCtx[msg.ToContext] = append(q.byCtx[msg.ToContext], msg)
}

// Drain removes and returns every pending message for ctx, in arrival
// order.
func (q *DriftQueue) Drain(ctx domain.ContextId) []DriftMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.byCtx[ctx]
	delete(q.byCtx, ctx)
	return msgs
}

func (q *DriftQueue) Pending(ctx domain.ContextId) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byCtx[ctx])
}

// Kernel is the per-runtime control plane: one lease table, one tool
// registry, one drift queue, shared across every document the runtime
// serves.
type Kernel struct {
	mu      sync.Mutex
	leases  map[domain.ContextId]Lease
	consent map[domain.ContextId]ConsentMode

	Tools *ToolRegistry
	Drift *DriftQueue
}

func New() *Kernel {
	return &Kernel{
		leases:  make(map[domain.ContextId]Lease),
		consent: make(map[domain.ContextId]ConsentMode),
		Tools:   NewToolRegistry(),
		Drift:   NewDriftQueue(),
	}
}

// AcquireLease grants principal exclusive write access to ctx for ttl,
// failing if another principal currently holds an unexpired lease (spec
// §4.4: leases are exclusive and timeout-expirable).
func (k *Kernel) AcquireLease(ctx domain.ContextId, principal domain.PrincipalId, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	if cur, ok := k.leases[ctx]; ok && !cur.expired(now) && cur.Holder != principal {
		return kernelerr.Conflict("kernel: document %s already leased to %s", ctx, cur.Holder)
	}
	k.leases[ctx] = Lease{Holder: principal, ExpiresAt: now.Add(ttl)}
	log.Debug().Str("contextId", string(ctx)).Str("principal", string(principal)).Dur("ttl", ttl).Msg("kernel: lease acquired")
	return nil
}

// ReleaseLease drops principal's lease on ctx, if it currently holds one.
func (k *Kernel) ReleaseLease(ctx domain.ContextId, principal domain.PrincipalId) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if cur, ok := k.leases[ctx]; ok && cur.Holder == principal {
		delete(k.leases, ctx)
	}
}

// CheckLease returns nil if principal currently holds a valid write lease
// on ctx, otherwise a PermissionDenied error (spec §4.4, enforced before
// every mutating kernel operation).
func (k *Kernel) CheckLease(ctx domain.ContextId, principal domain.PrincipalId) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cur, ok := k.leases[ctx]
	if !ok || cur.expired(time.Now()) || cur.Holder != principal {
		return kernelerr.PermissionDenied("kernel: %s does not hold the write lease for %s", principal, ctx)
	}
	return nil
}

func (k *Kernel) SetConsentMode(ctx domain.ContextId, mode ConsentMode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.consent[ctx] = mode
}

// ConsentModeFor returns the context's consent mode, defaulting to
// Collaborative (spec §4.4: the safer default, matching the teacher
// corpus's DisableHumanInTheLoop defaulting to false).
func (k *Kernel) ConsentModeFor(ctx domain.ContextId) ConsentMode {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.consent[ctx]; ok {
		return m
	}
	return ConsentCollaborative
}
