// Package partition groups pending interactions into conflict domains.
//
// A domain is the transitive closure of "shares a participant" over pending
// interactions. Participants are interned into integer slots and joined with a
// union-find; domains live in a flat arena addressed by ID-1. Nothing is
// pointer-linked, so an Index can be copied into a domain.PartitionState and
// rebuilt from one without translation.
package partition

import (
	"fmt"
	"slices"

	"github.com/aretw0/weft/pkg/domain"
)

// Index is the domain partition of the pending pool. It is not safe for concurrent use.
type Index struct {
	interactions []domain.Interaction
	owner        []domain.DomainID // per interaction, 0 once consumed

	slots      map[string]int
	addresses  []string
	parent     []int
	slotDomain []domain.DomainID // meaningful at roots only

	domains []domain.DomainRecord
}

// New returns an empty index.
func New() *Index {
	return &Index{slots: make(map[string]int)}
}

// Add partitions an interaction and returns its domain.
// Interactions must be added in index order; the arena slot of an interaction is its index.
func (x *Index) Add(i domain.Interaction) domain.DomainID {
	if i.Index != uint64(len(x.interactions)) {
		panic(fmt.Sprintf("partition: interaction %d added out of order (next slot %d)", i.Index, len(x.interactions)))
	}

	s := x.find(x.intern(i.Sender))
	r := x.find(x.intern(i.Receiver))
	ds, dr := x.slotDomain[s], x.slotDomain[r]

	var id domain.DomainID
	switch {
	case ds == 0 && dr == 0:
		id = x.allocate()
	case ds == 0:
		id = dr
	case dr == 0 || ds == dr:
		id = ds
	default:
		id = x.absorb(ds, dr)
	}

	root := x.union(s, r)
	x.slotDomain[root] = id

	rec := &x.domains[id-1]
	rec.Pending = append(rec.Pending, i.Index)
	rec.Orderers = appendUnique(rec.Orderers, i.Sender)
	rec.Orderers = appendUnique(rec.Orderers, i.Receiver)

	x.interactions = append(x.interactions, i)
	x.owner = append(x.owner, id)
	return id
}

// Resolve follows merge aliases to the live domain for id.
// It returns 0 for IDs that were never allocated.
func (x *Index) Resolve(id domain.DomainID) domain.DomainID {
	if id == 0 || int(id) > len(x.domains) {
		return 0
	}
	for x.domains[id-1].Alias != id {
		id = x.domains[id-1].Alias
	}
	return id
}

// Count returns the number of domains ever allocated.
func (x *Index) Count() int {
	return len(x.domains)
}

// Live returns the IDs of domains that still hold pending interactions, ascending.
func (x *Index) Live() []domain.DomainID {
	var ids []domain.DomainID
	for n, rec := range x.domains {
		id := domain.DomainID(n + 1)
		if rec.Alias == id && !rec.Consumed && len(rec.Pending) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Record returns the arena entry of a live or consumed domain.
func (x *Index) Record(id domain.DomainID) (domain.DomainRecord, bool) {
	id = x.Resolve(id)
	if id == 0 {
		return domain.DomainRecord{}, false
	}
	rec := x.domains[id-1]
	rec.Pending = slices.Clone(rec.Pending)
	rec.Orderers = slices.Clone(rec.Orderers)
	return rec, true
}

// Pending returns the pending indices of a domain, ascending.
func (x *Index) Pending(id domain.DomainID) []uint64 {
	rec, _ := x.Record(id)
	return rec.Pending
}

// PendingFor returns the pending indices of a domain in which addr is sender or receiver.
func (x *Index) PendingFor(id domain.DomainID, addr string) []uint64 {
	var out []uint64
	for _, idx := range x.Pending(id) {
		if x.interactions[idx].Involves(addr) {
			out = append(out, idx)
		}
	}
	return out
}

// Orderers returns the distinct participants of a domain in first-seen order.
func (x *Index) Orderers(id domain.DomainID) []string {
	rec, _ := x.Record(id)
	return rec.Orderers
}

// ReleaseEligible reports whether a domain can skip voting:
// it has a single orderer or a single pending interaction.
func (x *Index) ReleaseEligible(id domain.DomainID) bool {
	rec, ok := x.Record(id)
	if !ok || rec.Consumed {
		return false
	}
	return len(rec.Orderers) == 1 || len(rec.Pending) == 1
}

// Interaction returns the interaction stored at idx.
func (x *Index) Interaction(idx uint64) (domain.Interaction, bool) {
	if idx >= uint64(len(x.interactions)) {
		return domain.Interaction{}, false
	}
	return x.interactions[idx], true
}

// DomainOf returns the live domain owning a pending interaction, or 0.
func (x *Index) DomainOf(idx uint64) domain.DomainID {
	if idx >= uint64(len(x.owner)) || x.owner[idx] == 0 {
		return 0
	}
	return x.Resolve(x.owner[idx])
}

// AllPending returns every pending index across live domains, ascending.
func (x *Index) AllPending() []uint64 {
	var out []uint64
	for idx, owner := range x.owner {
		if owner != 0 {
			out = append(out, uint64(idx))
		}
	}
	return out
}

// Consume removes every pending interaction of a domain and detaches its participants,
// so later interactions involving them open new domains.
func (x *Index) Consume(id domain.DomainID) []uint64 {
	id = x.Resolve(id)
	if id == 0 {
		return nil
	}
	rec := &x.domains[id-1]
	consumed := rec.Pending
	for _, idx := range consumed {
		x.owner[idx] = 0
	}
	for _, addr := range rec.Orderers {
		slot := x.slots[addr]
		x.parent[slot] = slot
		x.slotDomain[slot] = 0
	}
	rec.Pending = nil
	rec.Consumed = true
	return consumed
}

// State copies the arenas into a serializable value.
func (x *Index) State() domain.PartitionState {
	st := domain.PartitionState{
		Interactions: slices.Clone(x.interactions),
		Owner:        slices.Clone(x.owner),
		Addresses:    slices.Clone(x.addresses),
		Parent:       slices.Clone(x.parent),
		SlotDomain:   slices.Clone(x.slotDomain),
		Domains:      make([]domain.DomainRecord, len(x.domains)),
	}
	for n, rec := range x.domains {
		rec.Pending = slices.Clone(rec.Pending)
		rec.Orderers = slices.Clone(rec.Orderers)
		st.Domains[n] = rec
	}
	return st
}

// FromState rebuilds an index from a serialized value.
func FromState(st domain.PartitionState) (*Index, error) {
	n := len(st.Addresses)
	if len(st.Parent) != n || len(st.SlotDomain) != n {
		return nil, fmt.Errorf("partition: slot arenas disagree (%d addresses, %d parents, %d domains)", n, len(st.Parent), len(st.SlotDomain))
	}
	if len(st.Interactions) != len(st.Owner) {
		return nil, fmt.Errorf("partition: %d interactions but %d owners", len(st.Interactions), len(st.Owner))
	}
	x := New()
	for slot, addr := range st.Addresses {
		x.slots[addr] = slot
	}
	x.interactions = slices.Clone(st.Interactions)
	x.owner = slices.Clone(st.Owner)
	x.addresses = slices.Clone(st.Addresses)
	x.parent = slices.Clone(st.Parent)
	x.slotDomain = slices.Clone(st.SlotDomain)
	x.domains = make([]domain.DomainRecord, len(st.Domains))
	for i, rec := range st.Domains {
		rec.Pending = slices.Clone(rec.Pending)
		rec.Orderers = slices.Clone(rec.Orderers)
		x.domains[i] = rec
	}
	return x, nil
}

func (x *Index) intern(addr string) int {
	if slot, ok := x.slots[addr]; ok {
		return slot
	}
	slot := len(x.addresses)
	x.slots[addr] = slot
	x.addresses = append(x.addresses, addr)
	x.parent = append(x.parent, slot)
	x.slotDomain = append(x.slotDomain, 0)
	return slot
}

func (x *Index) find(slot int) int {
	for x.parent[slot] != slot {
		x.parent[slot] = x.parent[x.parent[slot]]
		slot = x.parent[slot]
	}
	return slot
}

// union joins two roots; the lower slot becomes the root so results are deterministic.
func (x *Index) union(a, b int) int {
	if a == b {
		return a
	}
	if b < a {
		a, b = b, a
	}
	x.parent[b] = a
	x.slotDomain[b] = 0
	return a
}

func (x *Index) allocate() domain.DomainID {
	id := domain.DomainID(len(x.domains) + 1)
	x.domains = append(x.domains, domain.DomainRecord{Alias: id})
	return id
}

// absorb merges two live domains into the lower ID and returns the survivor.
func (x *Index) absorb(a, b domain.DomainID) domain.DomainID {
	if b < a {
		a, b = b, a
	}
	keep, gone := &x.domains[a-1], &x.domains[b-1]

	keep.Pending = mergeSorted(keep.Pending, gone.Pending)
	for _, o := range gone.Orderers {
		keep.Orderers = appendUnique(keep.Orderers, o)
	}
	for _, idx := range gone.Pending {
		x.owner[idx] = a
	}

	gone.Alias = a
	gone.Pending = nil
	gone.Orderers = nil
	return a
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func mergeSorted(a, b []uint64) []uint64 {
	out := make([]uint64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
