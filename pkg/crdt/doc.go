package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/drewcsillag/notecove/pkg/types"
)

// UpdateOrigin tags where an update came from. Local updates are persisted
// by the store; remote ones arrived from disk and are not written back.
type UpdateOrigin string

const (
	OriginLocal  UpdateOrigin = "local"
	OriginRemote UpdateOrigin = "remote"
)

// UpdateEvent is delivered to observers after every committed mutation.
type UpdateEvent struct {
	Origin UpdateOrigin
	Bytes  []byte
}

// Observer receives update events synchronously, in commit order.
type Observer func(UpdateEvent)

// register is a last-write-wins cell. Ties on the lamport stamp break
// toward the lexicographically higher actor.
type register struct {
	Value   any    `json:"v"`
	Lamport int64  `json:"c"`
	Actor   string `json:"a"`
}

func (r register) wins(other register) bool {
	if r.Lamport != other.Lamport {
		return r.Lamport > other.Lamport
	}
	return r.Actor > other.Actor
}

// run is one immutable text segment of the document body. Runs are ordered
// by (lamport, actor); a deleted run stays as a tombstone so deletion
// merges monotonically.
type run struct {
	ID      string `json:"id"`
	Lamport int64  `json:"c"`
	Actor   string `json:"a"`
	Text    string `json:"text"`
	Deleted bool   `json:"del,omitempty"`
}

// Doc is a convergent key/value + text document. State is a join
// semilattice: merging the same update twice is a no-op and merge order
// does not matter. One Doc is one independent replica; replicas converge by
// exchanging encoded updates.
type Doc struct {
	mu        sync.Mutex
	actor     string
	lamport   int64
	registers map[string]register
	runs      map[string]run
	observers []Observer
}

// docState is the wire form of a full state or a delta. Deltas carry only
// the entries a transaction touched.
type docState struct {
	Version   int                 `json:"version"`
	Actor     string              `json:"actor"`
	Lamport   int64               `json:"lamport"`
	Registers map[string]register `json:"registers,omitempty"`
	Runs      []run               `json:"runs,omitempty"`
}

// stateVersion is the update payload format version.
const stateVersion = 1

// NewDoc creates an empty replica owned by actor.
func NewDoc(actor string) *Doc {
	return &Doc{
		actor:     actor,
		registers: make(map[string]register),
		runs:      make(map[string]run),
	}
}

// Actor returns the replica's actor id.
func (d *Doc) Actor() string { return d.actor }

// ObserveUpdates registers an observer. Observers run synchronously after
// each committed mutation, outside the document lock.
func (d *Doc) ObserveUpdates(obs Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, obs)
	d.mu.Unlock()
}

// Set writes one register in its own transaction.
func (d *Doc) Set(key string, value any) {
	d.SetMany(map[string]any{key: value})
}

// SetMany writes several registers as a single transaction, emitting one
// atomic update.
func (d *Doc) SetMany(kv map[string]any) {
	if len(kv) == 0 {
		return
	}
	d.mu.Lock()
	d.lamport++
	delta := docState{Version: stateVersion, Actor: d.actor, Lamport: d.lamport, Registers: make(map[string]register, len(kv))}
	for key, value := range kv {
		reg := register{Value: value, Lamport: d.lamport, Actor: d.actor}
		d.registers[key] = reg
		delta.Registers[key] = reg
	}
	bytes := mustMarshal(delta)
	observers := d.observers
	d.mu.Unlock()

	emit(observers, UpdateEvent{Origin: OriginLocal, Bytes: bytes})
}

// AppendText appends a text run to the document body in its own
// transaction and returns the run id.
func (d *Doc) AppendText(text string) string {
	d.mu.Lock()
	d.lamport++
	r := run{
		ID:      fmt.Sprintf("%d@%s", d.lamport, d.actor),
		Lamport: d.lamport,
		Actor:   d.actor,
		Text:    text,
	}
	d.runs[r.ID] = r
	delta := docState{Version: stateVersion, Actor: d.actor, Lamport: d.lamport, Runs: []run{r}}
	bytes := mustMarshal(delta)
	observers := d.observers
	d.mu.Unlock()

	emit(observers, UpdateEvent{Origin: OriginLocal, Bytes: bytes})
	return r.ID
}

// DeleteRun tombstones a text run.
func (d *Doc) DeleteRun(id string) {
	d.mu.Lock()
	r, ok := d.runs[id]
	if !ok || r.Deleted {
		d.mu.Unlock()
		return
	}
	d.lamport++
	r.Deleted = true
	d.runs[id] = r
	delta := docState{Version: stateVersion, Actor: d.actor, Lamport: d.lamport, Runs: []run{r}}
	bytes := mustMarshal(delta)
	observers := d.observers
	d.mu.Unlock()

	emit(observers, UpdateEvent{Origin: OriginLocal, Bytes: bytes})
}

// Get reads one register value.
func (d *Doc) Get(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.registers[key]
	if !ok || reg.Value == nil {
		return nil, false
	}
	return reg.Value, true
}

// Keys returns all register keys with the given prefix, sorted.
func (d *Doc) Keys(prefix string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var keys []string
	for k, reg := range d.registers {
		if reg.Value == nil {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Text returns the document body: live runs concatenated in (lamport,
// actor) order.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	runs := make([]run, 0, len(d.runs))
	for _, r := range d.runs {
		if !r.Deleted {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Lamport != runs[j].Lamport {
			return runs[i].Lamport < runs[j].Lamport
		}
		return runs[i].Actor < runs[j].Actor
	})

	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// EncodeStateAsUpdate serializes the full replica state as one update that
// any replica can apply.
func (d *Doc) EncodeStateAsUpdate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := docState{
		Version:   stateVersion,
		Actor:     d.actor,
		Lamport:   d.lamport,
		Registers: make(map[string]register, len(d.registers)),
	}
	for k, reg := range d.registers {
		state.Registers[k] = reg
	}
	state.Runs = make([]run, 0, len(d.runs))
	for _, r := range d.runs {
		state.Runs = append(state.Runs, r)
	}
	sort.Slice(state.Runs, func(i, j int) bool { return state.Runs[i].ID < state.Runs[j].ID })
	return mustMarshal(state)
}

// ApplyUpdate merges an encoded update (delta or full state) into the
// replica. Applying the same update twice is a no-op. Observers see the
// bytes with the caller's origin tag.
func (d *Doc) ApplyUpdate(data []byte, origin UpdateOrigin) error {
	var state docState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode update: %w", err)
	}
	if state.Version != stateVersion {
		return fmt.Errorf("%w: update version %d", types.ErrFormatVersion, state.Version)
	}

	d.mu.Lock()
	if state.Lamport > d.lamport {
		d.lamport = state.Lamport
	}
	for key, incoming := range state.Registers {
		current, ok := d.registers[key]
		if !ok || incoming.wins(current) {
			d.registers[key] = incoming
		}
	}
	for _, incoming := range state.Runs {
		current, ok := d.runs[incoming.ID]
		if !ok {
			d.runs[incoming.ID] = incoming
			continue
		}
		// Tombstones are monotone: once deleted, always deleted.
		if incoming.Deleted && !current.Deleted {
			current.Deleted = true
			d.runs[incoming.ID] = current
		}
	}
	observers := d.observers
	d.mu.Unlock()

	emit(observers, UpdateEvent{Origin: origin, Bytes: data})
	return nil
}

func emit(observers []Observer, ev UpdateEvent) {
	for _, obs := range observers {
		obs(ev)
	}
}

func mustMarshal(state docState) []byte {
	data, err := json.Marshal(state)
	if err != nil {
		// docState contains only JSON-native values.
		panic(err)
	}
	return data
}

// Helpers for register values that arrive via JSON (numbers as float64).

func asString(v any, ok bool) (string, bool) {
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func asBool(v any, ok bool) bool {
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func asInt(v any, ok bool) (int64, bool) {
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
