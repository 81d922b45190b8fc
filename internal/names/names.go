// Package names implements the bus name registry: the primary-owner plus
// FIFO waiting queue per well-known name that backs RequestName,
// ReleaseName, ListQueuedOwners and friends. life-stream's subscription
// package keeps an ordered structure per topic (TopicTreeNode.Terminals,
// appended to and deleted from in arrival order) to decide who sees a
// publish; Registry plays the same "ordered claimants per key" role for
// bus names, generalized from subscriber lists to an owner-plus-waiters
// queue with promotion and replacement semantics.
package names

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RequestFlag mirrors the DBUS_NAME_FLAG_* bits a RequestName caller sets.
type RequestFlag uint32

const (
	FlagAllowReplacement RequestFlag = 1 << 0
	FlagReplaceExisting  RequestFlag = 1 << 1
	FlagDoNotQueue       RequestFlag = 1 << 2
)

// ReplyCode mirrors the DBUS_REQUEST_NAME_REPLY_* constants RequestName
// returns.
type ReplyCode uint32

const (
	ReplyPrimaryOwner ReplyCode = 1
	ReplyInQueue      ReplyCode = 2
	ReplyExists       ReplyCode = 3
	ReplyAlreadyOwner ReplyCode = 4
)

// ReleaseReplyCode mirrors DBUS_RELEASE_NAME_REPLY_*.
type ReleaseReplyCode uint32

const (
	ReleaseReplied  ReleaseReplyCode = 1
	ReleaseNonExistent ReleaseReplyCode = 2
	ReleaseNotOwner ReleaseReplyCode = 3
)

// claim is one waiter (or the current owner) for a name; its two stored
// flags are overwritten wholesale on every RequestName call the claim's
// session makes. replace_existing is not stored: it only affects the
// RequestName call that carries it.
type claim struct {
	owner            string
	allowReplacement bool
	doNotQueue       bool
}

// entry is the ordered queue for a single well-known name: index 0 is the
// primary owner, the rest wait in arrival order exactly like
// TopicTreeNode.Terminals ordering governs publish fan-out order.
type entry struct {
	queue []claim
}

func (e *entry) ownerUniqueName() string {
	if len(e.queue) == 0 {
		return ""
	}
	return e.queue[0].owner
}

func (e *entry) indexOf(uniqueName string) int {
	for i, c := range e.queue {
		if c.owner == uniqueName {
			return i
		}
	}
	return -1
}

// ownerCacheSize bounds the GetNameOwner memoization below; ownerCacheTTL
// is deliberately short since ownership churns far more often than the
// teacher's topic-tree nodes did.
const (
	ownerCacheSize = 512
	ownerCacheTTL  = 30 * time.Second
)

// ownerLookup is a cached GetNameOwner result, including the negative
// case (no owner), so a hot destination with no queue doesn't repeatedly
// miss the registry map either.
type ownerLookup struct {
	owner string
	ok    bool
}

// Registry is the in-memory, mutex-free name table spec.md §4.3/§5 calls
// for; the broker is responsible for serializing calls into it under its
// own lock, the same "caller owns the critical section" contract
// life-stream's connection_manager.go uses around its connection map.
//
// ownerCache memoizes GetNameOwner the same way life-stream's
// subscription package caches topic-tree node lookups in front of its
// Mongo-backed store (internal/subscription/database_operation.go's
// nodeCache): read-through, explicitly invalidated on every write rather
// than left to expire. Every mutation that can change a name's owner
// (RequestName, ReleaseName, ReleaseAllOwnedBy) removes that name's entry
// from the cache in the same call that mutates entries, so a cache hit
// can never observe a stale owner.
type Registry struct {
	entries    map[string]*entry
	ownerCache *expirable.LRU[string, ownerLookup]
}

// New returns an empty registry. Well-known service names with no
// connected owner (the activation list spec §4.3 describes) are tracked
// separately by activatable, since they're a static/config-driven concept
// distinct from a claim anyone currently holds.
func New() *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		ownerCache: expirable.NewLRU[string, ownerLookup](ownerCacheSize, nil, ownerCacheTTL),
	}
}

// RequestResult reports both the DBUS_REQUEST_NAME_REPLY_* code and enough
// about any ownership transition for the caller to emit NameOwnerChanged /
// NameLost / NameAcquired in the order spec.md §4.3 step 7 requires.
type RequestResult struct {
	Code         ReplyCode
	OwnerChanged bool
	OldOwner     string // "" if the name had no owner before
	NewOwner     string // "" if the name has no owner after
}

// RequestName implements spec.md §4.3's six-step arbitration exactly:
// upsert this session's entry with the new flags, promote it to the front
// if replacement is mutually agreed, purge any non-owner do-not-queue
// entries, then derive the reply code from the before/after owner.
func (r *Registry) RequestName(name, uniqueName string, flags RequestFlag) RequestResult {
	e, ok := r.entries[name]
	if !ok {
		e = &entry{}
		r.entries[name] = e
	}
	oldOwner := e.ownerUniqueName()
	wasOwner := oldOwner == uniqueName

	newClaim := claim{
		owner:            uniqueName,
		allowReplacement: flags&FlagAllowReplacement != 0,
		doNotQueue:       flags&FlagDoNotQueue != 0,
	}
	if idx := e.indexOf(uniqueName); idx >= 0 {
		e.queue[idx] = newClaim
	} else {
		e.queue = append(e.queue, newClaim)
	}

	if !wasOwner && oldOwner != "" {
		ownerIdx := e.indexOf(oldOwner)
		owner := e.queue[ownerIdx]
		if flags&FlagReplaceExisting != 0 && owner.allowReplacement {
			mine := e.indexOf(uniqueName)
			e.queue = append(e.queue[:mine], e.queue[mine+1:]...)
			e.queue = append([]claim{newClaim}, e.queue...)
		}
	}

	for i := 0; i < len(e.queue); {
		if i != 0 && e.queue[i].doNotQueue {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			continue
		}
		i++
	}
	if len(e.queue) == 0 {
		delete(r.entries, name)
	}

	newOwner := e.ownerUniqueName()
	res := RequestResult{OldOwner: oldOwner, NewOwner: newOwner, OwnerChanged: oldOwner != newOwner}
	r.ownerCache.Remove(name)

	switch {
	case newOwner == uniqueName && oldOwner != uniqueName:
		res.Code = ReplyPrimaryOwner
	case newOwner == uniqueName && oldOwner == uniqueName:
		res.Code = ReplyAlreadyOwner
	case e.indexOf(uniqueName) >= 0:
		res.Code = ReplyInQueue
	default:
		res.Code = ReplyExists
	}
	return res
}

// ReleaseName removes uniqueName's claim on name, promoting the next
// waiter to primary owner if uniqueName was the owner.
func (r *Registry) ReleaseName(name, uniqueName string) (ReleaseReplyCode, RequestResult) {
	e, ok := r.entries[name]
	if !ok {
		return ReleaseNonExistent, RequestResult{}
	}
	oldOwner := e.ownerUniqueName()
	idx := e.indexOf(uniqueName)
	if idx < 0 {
		return ReleaseNotOwner, RequestResult{}
	}
	e.queue = append(e.queue[:idx], e.queue[idx+1:]...)
	if len(e.queue) == 0 {
		delete(r.entries, name)
	}
	newOwner := e.ownerUniqueName()
	r.ownerCache.Remove(name)
	return ReleaseReplied, RequestResult{OldOwner: oldOwner, NewOwner: newOwner, OwnerChanged: oldOwner != newOwner}
}

// Transition names one name whose owner changed, for signal emission.
type Transition struct {
	Name string
	RequestResult
}

// ReleaseAllOwnedBy removes every claim uniqueName holds (direct or
// queued) across every name, used when a connection disconnects — spec.md
// §9's mandated fix to the source's behaviour of leaving stale queue
// entries behind. It returns one Transition per name whose owner
// identity changed as a result, in map iteration order (the caller emits
// signals per transition; cross-name ordering is not spec'd).
func (r *Registry) ReleaseAllOwnedBy(uniqueName string) (transitions []Transition) {
	for name, e := range r.entries {
		idx := e.indexOf(uniqueName)
		if idx < 0 {
			continue
		}
		oldOwner := e.ownerUniqueName()
		e.queue = append(e.queue[:idx], e.queue[idx+1:]...)
		if len(e.queue) == 0 {
			delete(r.entries, name)
		}
		newOwner := e.ownerUniqueName()
		r.ownerCache.Remove(name)
		if oldOwner != newOwner {
			transitions = append(transitions, Transition{
				Name:          name,
				RequestResult: RequestResult{OldOwner: oldOwner, NewOwner: newOwner, OwnerChanged: true},
			})
		}
	}
	return transitions
}

// GetNameOwner returns the unique connection name currently owning name,
// or "" if nobody does. Reads through ownerCache first; every mutating
// method above invalidates its own name's entry, so a hit is never stale.
func (r *Registry) GetNameOwner(name string) (string, bool) {
	if cached, ok := r.ownerCache.Get(name); ok {
		return cached.owner, cached.ok
	}
	e, ok := r.entries[name]
	if !ok || len(e.queue) == 0 {
		r.ownerCache.Add(name, ownerLookup{})
		return "", false
	}
	owner := e.ownerUniqueName()
	r.ownerCache.Add(name, ownerLookup{owner: owner, ok: true})
	return owner, true
}

// NameHasOwner reports whether any connection currently owns name.
func (r *Registry) NameHasOwner(name string) bool {
	_, ok := r.GetNameOwner(name)
	return ok
}

// ListQueuedOwners returns every unique name waiting for name, primary
// owner first, in the order RequestName established.
func (r *Registry) ListQueuedOwners(name string) []string {
	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	owners := make([]string, len(e.queue))
	for i, c := range e.queue {
		owners[i] = c.owner
	}
	return owners
}

// ListNames returns every currently owned well-known name.
func (r *Registry) ListNames() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Activatable tracks the static set of service names the bus can start on
// demand (spec §4.3's activation list), kept separate from Registry
// because it is config-driven rather than claimed by a live connection.
type Activatable struct {
	names map[string]bool
}

func NewActivatable(serviceNames []string) *Activatable {
	a := &Activatable{names: make(map[string]bool, len(serviceNames))}
	for _, n := range serviceNames {
		a.names[n] = true
	}
	return a
}

func (a *Activatable) List() []string {
	names := make([]string, 0, len(a.names))
	for n := range a.names {
		names = append(names, n)
	}
	return names
}

func (a *Activatable) IsActivatable(name string) bool { return a.names[name] }

// StartServiceByName always reports that activation is unsupported: this
// broker never forks helper processes on demand, matching spec §4.3's
// framing of service activation as a Non-goal while still giving callers
// the well-known error instead of silently hanging.
func (a *Activatable) StartServiceByName(name string) error {
	if !a.names[name] {
		return fmt.Errorf("names: service %q is not activatable", name)
	}
	return fmt.Errorf("names: service activation is not supported")
}
