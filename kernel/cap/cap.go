// Package cap implements the kernel's capability system.
//
// A capability is an unforgeable kernel-held token that both authorizes and
// describes access to a single resource. All capabilities live in a
// kernel-level registry and are referred to from the outside only by opaque
// 128-bit keys: a capability must never leave kernel mode, so a Handle is the
// only thing ever exposed outward.
//
// Capabilities can be large and are passed to continuations frequently, so
// handles carry nothing but the registry key. Handles for several resources
// can be folded into a Group, a capability that stands in for all of its
// members; groups may not contain other groups.
package cap

import (
	"contos/kernel/sync"
)

// revocationEnabled gates the Revoke operation. The capability model is
// currently insert-only; flip this constant if bounded registry memory
// becomes a requirement.
const revocationEnabled = false

// Key is the 128-bit identifier of a registered capability. Keys are
// generated randomly; the odds of a collision by chance or by malicious
// guessing are astronomically low, and inserts retry on collision anyway.
type Key struct {
	Hi, Lo uint64
}

// Capability is the closed set of resource descriptions the kernel can issue
// handles for. Only types in this package implement it.
type Capability interface {
	isCapability()
}

// Resource is implemented by every capability kind that may be placed inside
// a Group. Group itself deliberately does not implement Resource, which makes
// nested groups unrepresentable.
type Resource interface {
	Capability
	isResource()
}

// Registry is the process-wide keyed store of capabilities. It is constructed
// exactly once during kernel boot and never torn down.
type Registry struct {
	mu   sync.Spinlock
	caps map[Key]Capability

	// keyGenFn produces candidate keys for new registrations. Tests
	// override it to force collisions.
	keyGenFn func() Key
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:     make(map[Key]Capability),
		keyGenFn: newKeyGen(),
	}
}

// insert stores the supplied capability under a freshly generated key and
// returns the key. If a generated key is already in use, a new candidate is
// generated until a free one is found.
func (r *Registry) insert(c Capability) Key {
	r.mu.Acquire()
	defer r.mu.Release()

	key := r.keyGenFn()
	for _, exists := r.caps[key]; exists; _, exists = r.caps[key] {
		// extremely unlikely...
		key = r.keyGenFn()
	}

	r.caps[key] = c
	return key
}

// lookup returns the capability registered under key. Looking up a key that
// is not present is a programmer error: no revocation mechanism exists, so a
// handle can never outlive its capability.
func (r *Registry) lookup(key Key) Capability {
	c, ok := r.caps[key]
	if !ok {
		panic("cap: lookup of unregistered resource handle")
	}
	return c
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.Acquire()
	defer r.mu.Release()
	return len(r.caps)
}

// Handle is an opaque, copyable reference to a capability of kind R. A handle
// is meaningful only relative to the registry that issued it.
type Handle[R Capability] struct {
	key Key
}

// Key returns the raw registry key carried by the handle. It is what gets
// passed to user space.
func (h Handle[R]) Key() Key {
	return h.key
}

// With runs fn with the capability referred to by h, returning fn's result.
//
// NOTE: fn runs while the registry lock is held, so nothing expensive should
// be done inside it. All capability lookups are serialized behind this lock.
func With[R Capability, T any](reg *Registry, h Handle[R], fn func(R) T) T {
	reg.mu.Acquire()
	defer reg.mu.Release()

	c, ok := reg.lookup(h.key).(R)
	if !ok {
		panic("cap: resource handle kind does not match registered capability")
	}
	return fn(c)
}

// Revoke removes the capability referred to by h from the registry. It is
// gated behind the revocationEnabled feature switch; the current capability
// model treats registrations as permanent.
func Revoke[R Capability](reg *Registry, h Handle[R]) {
	if !revocationEnabled {
		panic("cap: revocation is not enabled")
	}

	reg.mu.Acquire()
	defer reg.mu.Release()
	delete(reg.caps, h.key)
}

// Unregistered wraps a capability that is still under construction. The
// wrapped resource stays mutable until Register freezes it into a Handle.
type Unregistered[R Capability] struct {
	res        R
	registered bool
}

// NewUnregistered creates an unregistered wrapper around res.
func NewUnregistered[R Capability](res R) *Unregistered[R] {
	return &Unregistered[R]{res: res}
}

// Resource returns the wrapped capability for mutation prior to registration.
func (u *Unregistered[R]) Resource() R {
	if u.registered {
		panic("cap: access to capability after registration")
	}
	return u.res
}

// Register inserts the wrapped capability into the registry and returns the
// handle standing in for it. The wrapper is consumed; registering twice is a
// programmer error.
func (u *Unregistered[R]) Register(reg *Registry) Handle[R] {
	if u.registered {
		panic("cap: capability registered twice")
	}
	u.registered = true

	return Handle[R]{key: reg.insert(u.res)}
}
