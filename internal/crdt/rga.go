// Package crdt implements a minimal replicated growable array (RGA) text
// CRDT. No CRDT library exists anywhere in the retrieved example corpus
// (see DESIGN.md), so the hub speaks its own small wire format instead of
// adopting a third-party one, per spec §9's explicit allowance to "pick
// one concrete format or specify their own."
//
// The document is a singly-linked sequence of tombstone-capable
// elements, each addressed by an (site, seq) ID. Concurrent inserts
// anchored at the same predecessor are ordered by descending ID so every
// replica converges on the same sequence regardless of delivery order.
package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// ID addresses a single element in the document, unique per site.
type ID struct {
	Site string
	Seq  uint64
}

// zero is the sentinel "before the start of the document" anchor.
var zero = ID{}

func (id ID) less(other ID) bool {
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return id.Site < other.Site
}

type element struct {
	ID      ID
	After   ID
	Ch      rune
	Deleted bool
}

// Op is a single CRDT mutation: an insertion or a tombstone deletion.
// Ops are the unit exchanged over the wire as "update bytes" in spec
// §4.4/§4.5.
type Op struct {
	Insert *InsertOp
	Delete *DeleteOp
}

// InsertOp inserts Ch immediately logically after After.
type InsertOp struct {
	ID    ID
	After ID
	Ch    rune
}

// DeleteOp tombstones the element addressed by ID.
type DeleteOp struct {
	ID ID
}

// Document is a single replica of the RGA sequence.
type Document struct {
	site     string
	counter  uint64
	elements []element       // causal/RGA order, including tombstones
	index    map[ID]int      // element ID -> index in elements
}

// NewDocument creates an empty document replica identified by site.
func NewDocument(site string) *Document {
	return &Document{
		site:  site,
		index: make(map[ID]int),
	}
}

// InsertText inserts s at the given visible rune offset and returns the
// ops produced, for the caller to broadcast.
func (d *Document) InsertText(offset int, s string) []Op {
	ops := make([]Op, 0, len(s))
	after := d.visibleIDAt(offset)
	for _, ch := range s {
		d.counter++
		id := ID{Site: d.site, Seq: d.counter}
		d.applyInsert(InsertOp{ID: id, After: after, Ch: ch})
		ops = append(ops, Op{Insert: &InsertOp{ID: id, After: after, Ch: ch}})
		after = id
	}
	return ops
}

// DeleteRange tombstones runeLen visible runes starting at offset and
// returns the ops produced.
func (d *Document) DeleteRange(offset, runeLen int) []Op {
	ops := make([]Op, 0, runeLen)
	for i := 0; i < runeLen; i++ {
		id, ok := d.visibleIDAtExact(offset)
		if !ok {
			break
		}
		d.applyDelete(DeleteOp{ID: id})
		ops = append(ops, Op{Delete: &DeleteOp{ID: id}})
	}
	return ops
}

// Apply applies a remote op to this replica. Applying the same op twice
// is a no-op (idempotent). An insert whose After element is not yet known
// is placed at the end of the sequence; there is no causal buffering, and
// within this hub doc sessions apply each sender's ops in the order they
// arrive.
func (d *Document) Apply(op Op) {
	switch {
	case op.Insert != nil:
		d.applyInsert(*op.Insert)
	case op.Delete != nil:
		d.applyDelete(*op.Delete)
	}
}

func (d *Document) applyInsert(op InsertOp) {
	if _, exists := d.index[op.ID]; exists {
		return
	}
	el := element{ID: op.ID, After: op.After, Ch: op.Ch}

	insertAt := len(d.elements)
	if op.After == zero {
		insertAt = 0
	} else if afterIdx, ok := d.index[op.After]; ok {
		insertAt = afterIdx + 1
	}

	// Scan forward past any existing elements anchored at the same
	// predecessor whose ID sorts after ours, so concurrent inserts at
	// the same position converge on one order across replicas.
	for insertAt < len(d.elements) && d.elements[insertAt].After == op.After && op.ID.less(d.elements[insertAt].ID) {
		insertAt++
	}

	d.elements = append(d.elements, element{})
	copy(d.elements[insertAt+1:], d.elements[insertAt:])
	d.elements[insertAt] = el
	d.reindexFrom(insertAt)

	if d.site == op.ID.Site && op.ID.Seq > d.counter {
		d.counter = op.ID.Seq
	}
}

func (d *Document) applyDelete(op DeleteOp) {
	idx, ok := d.index[op.ID]
	if !ok {
		return
	}
	d.elements[idx].Deleted = true
}

func (d *Document) reindexFrom(from int) {
	for i := from; i < len(d.elements); i++ {
		d.index[d.elements[i].ID] = i
	}
}

// visibleIDAt returns the ID to anchor an insert at visible offset
// (zero value anchors at the start of the document).
func (d *Document) visibleIDAt(offset int) ID {
	if offset <= 0 {
		return zero
	}
	seen := 0
	for _, el := range d.elements {
		if el.Deleted {
			continue
		}
		seen++
		if seen == offset {
			return el.ID
		}
	}
	return d.lastID()
}

func (d *Document) lastID() ID {
	for i := len(d.elements) - 1; i >= 0; i-- {
		if !d.elements[i].Deleted {
			return d.elements[i].ID
		}
	}
	return zero
}

func (d *Document) visibleIDAtExact(offset int) (ID, bool) {
	seen := 0
	for _, el := range d.elements {
		if el.Deleted {
			continue
		}
		if seen == offset {
			return el.ID, true
		}
		seen++
	}
	return ID{}, false
}

// Text reconstructs the logical text content of the document.
func (d *Document) Text() string {
	var b bytes.Buffer
	for _, el := range d.elements {
		if !el.Deleted {
			b.WriteRune(el.Ch)
		}
	}
	return b.String()
}

// Len returns the number of visible (non-tombstoned) runes.
func (d *Document) Len() int {
	n := 0
	for _, el := range d.elements {
		if !el.Deleted {
			n++
		}
	}
	return n
}

// snapshotWire is the gob-encodable full-state representation used by
// Snapshot/LoadSnapshot, distinct from the incremental Op stream used by
// Encode/DecodeOps.
type snapshotWire struct {
	Site     string
	Counter  uint64
	Elements []element
}

// Snapshot serializes the full replica state for the initial "sync"
// message a newly joined editor receives (spec §4.4/§4.5).
func (d *Document) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	wire := snapshotWire{Site: d.site, Counter: d.counter, Elements: d.elements}
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadSnapshot builds a new replica for site from the decoded snapshot.
func LoadSnapshot(site string, data []byte) (*Document, error) {
	var wire snapshotWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	d := &Document{site: site, counter: wire.Counter, elements: wire.Elements, index: make(map[ID]int)}
	d.reindexFrom(0)
	if wire.Counter > d.counter {
		d.counter = wire.Counter
	}
	return d, nil
}

// EncodeOps serializes a batch of ops into update bytes, the opaque
// binary frame exchanged over the collab channel (spec §4.5).
func EncodeOps(ops []Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ops); err != nil {
		return nil, fmt.Errorf("encoding ops: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeOps deserializes update bytes produced by EncodeOps.
func DecodeOps(data []byte) ([]Op, error) {
	var ops []Op
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ops); err != nil {
		return nil, fmt.Errorf("decoding ops: %w", err)
	}
	return ops, nil
}
