package isis

import "github.com/routersimlab/netsim/common/go/bitset"

const defaultLifetime = 1200

// lspEntry wraps a received or locally-generated LSP with its flooding
// state: per-interface SRM ("needs to be sent") and SSN ("needs to be
// acknowledged") bits, indexed by each IS-IS-enabled interface's stable
// bit position.
type lspEntry struct {
	content           LSPContent
	remainingLifetime int
	lastSent          int64
	srm               bitset.TinyBitset
	ssn               bitset.TinyBitset
}

func (e *lspEntry) setSRM(idx uint32)   { e.srm.Insert(idx) }
func (e *lspEntry) clearSRM(idx uint32) { e.srm.Remove(idx) }
func (e *lspEntry) setSSN(idx uint32)   { e.ssn.Insert(idx) }
func (e *lspEntry) clearSSN(idx uint32) { e.ssn.Remove(idx) }

// database is the arena of known LSPs, indexed by LSP id (the
// originating system id, since this implementation is point-to-point
// only and never fragments).
type database struct {
	index   map[string]int
	entries []*lspEntry
}

func newDatabase() *database {
	return &database{index: make(map[string]int)}
}

func (d *database) get(lspID string) (*lspEntry, bool) {
	idx, ok := d.index[lspID]
	if !ok {
		return nil, false
	}
	return d.entries[idx], true
}

func (d *database) put(lspID string, e *lspEntry) {
	if idx, ok := d.index[lspID]; ok {
		d.entries[idx] = e
		return
	}
	d.index[lspID] = len(d.entries)
	d.entries = append(d.entries, e)
}

func (d *database) all() []*lspEntry {
	return d.entries
}
