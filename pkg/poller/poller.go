package poller

import (
	"sort"
	"sync"

	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/drewcsillag/notecove/pkg/metrics"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/rs/zerolog"
)

// Entry is one queued (note, SD) poll.
type Entry struct {
	NoteID            string
	SDID              string
	Reason            types.PollReason
	ExpectedSequences types.VectorClock
	CaughtUpSequences map[string]bool
	AddedAt           int64
	LastPolledAt      int64 // 0 means never polled
	Priority          types.PollPriority
}

type entryKey struct {
	sdID   string
	noteID string
}

// Dispatcher maintains the polling queue and decides, under the global
// rate budget, which notes to re-scan.
type Dispatcher struct {
	cfg    Config
	logger zerolog.Logger
	nowFn  func() int64

	mu          sync.Mutex
	entries     map[entryKey]*Entry
	openNotes   map[string]map[string]map[string]bool // window -> sd -> note
	notesInList map[string]map[string]map[string]bool
	bucket      *rateBucket
	hits        []int64 // timestamps of recent hits
}

// New creates a dispatcher with the given configuration.
func New(cfg Config) *Dispatcher {
	if cfg.PollRatePerMinute <= 0 {
		cfg = DefaultConfig()
	}
	d := &Dispatcher{
		cfg:         cfg,
		logger:      log.WithComponent("poller"),
		nowFn:       types.NowMillis,
		entries:     make(map[entryKey]*Entry),
		openNotes:   make(map[string]map[string]map[string]bool),
		notesInList: make(map[string]map[string]map[string]bool),
	}
	d.bucket = newRateBucket(cfg, d.nowFn())
	return d
}

// setNow replaces the clock, for tests.
func (d *Dispatcher) setNow(fn func() int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nowFn = fn
	d.bucket.reset(fn())
}

// Upsert adds or refreshes an entry. Expected sequences merge by
// per-instance max; the reason reflects the latest intent.
func (d *Dispatcher) Upsert(sdID, noteID string, reason types.PollReason, expected types.VectorClock) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := entryKey{sdID: sdID, noteID: noteID}
	entry, ok := d.entries[key]
	if !ok {
		entry = &Entry{
			NoteID:            noteID,
			SDID:              sdID,
			Reason:            reason,
			ExpectedSequences: types.VectorClock{},
			CaughtUpSequences: map[string]bool{},
			AddedAt:           d.nowFn(),
		}
		d.entries[key] = entry
	} else {
		entry.Reason = reason
	}
	for instance, seq := range expected {
		d.addExpectedLocked(entry, instance, seq)
	}
	entry.Priority = d.priorityLocked(entry)
	metrics.PollQueueDepth.Set(float64(len(d.entries)))
}

// AddExpectedSequence raises the expected sequence for an instance,
// keeping the max.
func (d *Dispatcher) AddExpectedSequence(sdID, noteID, instance string, seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[entryKey{sdID: sdID, noteID: noteID}]
	if !ok {
		return
	}
	d.addExpectedLocked(entry, instance, seq)
}

func (d *Dispatcher) addExpectedLocked(entry *Entry, instance string, seq int64) {
	if cur, ok := entry.ExpectedSequences[instance]; !ok || seq > cur {
		entry.ExpectedSequences[instance] = seq
		// A raised expectation reopens the race.
		delete(entry.CaughtUpSequences, instance)
	}
}

// UpdateSequence records the sequence actually observed on disk for an
// instance; the instance is caught up once it reaches the expectation.
func (d *Dispatcher) UpdateSequence(sdID, noteID, instance string, actualSeq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[entryKey{sdID: sdID, noteID: noteID}]
	if !ok {
		return
	}
	if expected, ok := entry.ExpectedSequences[instance]; ok && actualSeq >= expected {
		entry.CaughtUpSequences[instance] = true
	}
}

// Entry returns a copy of the entry for (sdID, noteID), if queued.
func (d *Dispatcher) Entry(sdID, noteID string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[entryKey{sdID: sdID, noteID: noteID}]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(entry), true
}

// Len returns the queue depth.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// GetNextBatch returns up to maxCount entries to poll now, constrained by
// the rate budget and the priority reservation: high-priority entries come
// first but may take at most ceil(maxCount*(1-reserve)) slots; the
// remainder is filled from the normal FIFO. Ties break FIFO on AddedAt.
func (d *Dispatcher) GetNextBatch(maxCount int) []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	budget := d.bucket.take(now, d.hitsInLastSecond(now), maxCount)
	if budget <= 0 {
		return nil
	}

	var high, normal []*Entry
	for _, entry := range d.entries {
		// An entry polled within the current second already consumed
		// budget; do not re-dispatch it yet.
		if entry.LastPolledAt != 0 && now-entry.LastPolledAt < 1000 {
			continue
		}
		if entry.Priority == types.PollPriorityHigh {
			high = append(high, entry)
		} else {
			normal = append(normal, entry)
		}
	}
	fifo := func(entries []*Entry) {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].AddedAt != entries[j].AddedAt {
				return entries[i].AddedAt < entries[j].AddedAt
			}
			if entries[i].SDID != entries[j].SDID {
				return entries[i].SDID < entries[j].SDID
			}
			return entries[i].NoteID < entries[j].NoteID
		})
	}
	fifo(high)
	fifo(normal)

	n := min(maxCount, budget)
	highShare := ceilFrac(maxCount, 1-d.cfg.NormalPriorityReserve)
	if len(high) > highShare {
		high = high[:highShare]
	}

	var batch []Entry
	for _, entry := range high {
		if len(batch) == n {
			break
		}
		batch = append(batch, copyEntry(entry))
		metrics.PollsDispatchedTotal.WithLabelValues(string(types.PollPriorityHigh)).Inc()
	}
	for _, entry := range normal {
		if len(batch) == n {
			break
		}
		batch = append(batch, copyEntry(entry))
		metrics.PollsDispatchedTotal.WithLabelValues(string(types.PollPriorityNormal)).Inc()
	}

	// Unused budget goes back to the bucket.
	d.bucket.refund(budget - len(batch))
	return batch
}

// MarkPolled stamps the poll result and removes the entry when its exit
// criterion is met.
func (d *Dispatcher) MarkPolled(sdID, noteID string, hit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	if hit {
		d.hits = append(d.hits, now)
		d.trimHits(now)
		metrics.PollHitsTotal.Inc()
	}

	key := entryKey{sdID: sdID, noteID: noteID}
	entry, ok := d.entries[key]
	if !ok {
		return
	}
	entry.LastPolledAt = now

	if d.exitCriterionMet(entry, now) {
		delete(d.entries, key)
		metrics.PollQueueDepth.Set(float64(len(d.entries)))
	}
}

func (d *Dispatcher) exitCriterionMet(entry *Entry, now int64) bool {
	switch entry.Reason {
	case types.PollReasonFastPathHandoff:
		for instance := range entry.ExpectedSequences {
			if !entry.CaughtUpSequences[instance] {
				// Escalate a stale handoff rather than polling forever.
				if now-entry.AddedAt > d.cfg.FastPathMaxDelayMs {
					entry.Reason = types.PollReasonFullRepoll
				}
				return false
			}
		}
		return true
	case types.PollReasonFullRepoll:
		return entry.LastPolledAt != 0
	case types.PollReasonOpenNote:
		return !d.inAnyWindowLocked(d.openNotes, entry.SDID, entry.NoteID)
	case types.PollReasonNotesList:
		return !d.inAnyWindowLocked(d.notesInList, entry.SDID, entry.NoteID)
	case types.PollReasonRecentEdit:
		return now-entry.AddedAt > d.cfg.RecentEditWindowMs
	default:
		return false
	}
}

// SetOpenNotesForWindow replaces the open-note set of one window for one
// SD and recomputes priorities.
func (d *Dispatcher) SetOpenNotesForWindow(windowID, sdID string, noteIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	setWindow(d.openNotes, windowID, sdID, noteIDs)
	d.recomputePrioritiesLocked()
}

// SetNotesInLists replaces the listed-note set of one window for one SD
// and recomputes priorities.
func (d *Dispatcher) SetNotesInLists(windowID, sdID string, noteIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	setWindow(d.notesInList, windowID, sdID, noteIDs)
	d.recomputePrioritiesLocked()
}

// RemoveWindow drops every per-window set of the window.
func (d *Dispatcher) RemoveWindow(windowID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.openNotes, windowID)
	delete(d.notesInList, windowID)
	d.recomputePrioritiesLocked()
}

func (d *Dispatcher) recomputePrioritiesLocked() {
	for _, entry := range d.entries {
		entry.Priority = d.priorityLocked(entry)
	}
}

// priorityLocked: high iff the note is open or listed in any window, or
// the entry's own reason is open-note.
func (d *Dispatcher) priorityLocked(entry *Entry) types.PollPriority {
	if entry.Reason == types.PollReasonOpenNote ||
		d.inAnyWindowLocked(d.openNotes, entry.SDID, entry.NoteID) ||
		d.inAnyWindowLocked(d.notesInList, entry.SDID, entry.NoteID) {
		return types.PollPriorityHigh
	}
	return types.PollPriorityNormal
}

func (d *Dispatcher) inAnyWindowLocked(windows map[string]map[string]map[string]bool, sdID, noteID string) bool {
	for _, bySD := range windows {
		if bySD[sdID][noteID] {
			return true
		}
	}
	return false
}

func (d *Dispatcher) hitsInLastSecond(now int64) int {
	d.trimHits(now)
	return len(d.hits)
}

func (d *Dispatcher) trimHits(now int64) {
	cutoff := now - 1000
	idx := 0
	for idx < len(d.hits) && d.hits[idx] <= cutoff {
		idx++
	}
	d.hits = d.hits[idx:]
}

func setWindow(windows map[string]map[string]map[string]bool, windowID, sdID string, noteIDs []string) {
	bySD, ok := windows[windowID]
	if !ok {
		bySD = make(map[string]map[string]bool)
		windows[windowID] = bySD
	}
	set := make(map[string]bool, len(noteIDs))
	for _, id := range noteIDs {
		set[id] = true
	}
	bySD[sdID] = set
}

func copyEntry(entry *Entry) Entry {
	out := *entry
	out.ExpectedSequences = entry.ExpectedSequences.Clone()
	out.CaughtUpSequences = make(map[string]bool, len(entry.CaughtUpSequences))
	for k, v := range entry.CaughtUpSequences {
		out.CaughtUpSequences[k] = v
	}
	return out
}

func ceilFrac(n int, frac float64) int {
	share := float64(n) * frac
	out := int(share)
	if share > float64(out) {
		out++
	}
	return out
}
