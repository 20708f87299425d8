package reconstruct

import (
	"github.com/drewcsillag/notecove/pkg/text"
	"github.com/drewcsillag/notecove/pkg/types"
)

// Keyframe is one sampled historical state of a session, for scrubbing.
type Keyframe struct {
	Timestamp int64
	Preview   string
}

// SessionPreview is the before/after text of a session.
type SessionPreview struct {
	Before string
	After  string
}

// Keyframes uniformly samples sampleCount positions within the session,
// reconstructs the note at each, and always appends the session's final
// state. allUpdates is the note's complete update universe.
func (r *Reconstructor) Keyframes(sdID, noteID string, session types.Session, allUpdates []types.UpdateRecord, sampleCount int) ([]Keyframe, error) {
	if sampleCount <= 0 {
		sampleCount = DefaultSampleCount
	}
	if len(session.Updates) == 0 {
		return nil, nil
	}

	positions := samplePositions(len(session.Updates), sampleCount)
	var frames []Keyframe
	for _, pos := range positions {
		ts := session.Updates[pos].Timestamp
		doc, err := r.At(sdID, noteID, allUpdates, Target{Timestamp: ts, UpdateIndex: -1})
		if err != nil {
			return nil, err
		}
		frames = append(frames, Keyframe{
			Timestamp: ts,
			Preview:   text.Snippet(doc.Text(), text.DefaultSnippetLength),
		})
	}

	// The final state is always present, even when sampling missed it.
	if frames[len(frames)-1].Timestamp != session.EndTime {
		doc, err := r.At(sdID, noteID, allUpdates, Target{Timestamp: session.EndTime, UpdateIndex: -1})
		if err != nil {
			return nil, err
		}
		frames = append(frames, Keyframe{
			Timestamp: session.EndTime,
			Preview:   text.Snippet(doc.Text(), text.DefaultSnippetLength),
		})
	}
	return frames, nil
}

// Preview reconstructs the note at the session's start and end and returns
// the first 100 characters of each.
func (r *Reconstructor) Preview(sdID, noteID string, session types.Session, allUpdates []types.UpdateRecord) (SessionPreview, error) {
	before, err := r.At(sdID, noteID, allUpdates, Target{Timestamp: session.StartTime, UpdateIndex: -1})
	if err != nil {
		return SessionPreview{}, err
	}
	after, err := r.At(sdID, noteID, allUpdates, Target{Timestamp: session.EndTime, UpdateIndex: -1})
	if err != nil {
		return SessionPreview{}, err
	}
	return SessionPreview{
		Before: text.Snippet(before.Text(), text.DefaultSnippetLength),
		After:  text.Snippet(after.Text(), text.DefaultSnippetLength),
	}, nil
}

// samplePositions picks count uniformly spread indexes over n updates,
// deduplicated and always ending at n-1.
func samplePositions(n, count int) []int {
	if count >= n {
		positions := make([]int, n)
		for i := range positions {
			positions[i] = i
		}
		return positions
	}
	if count == 1 {
		return []int{n - 1}
	}

	var positions []int
	last := -1
	for i := 0; i < count; i++ {
		pos := i * (n - 1) / (count - 1)
		if pos != last {
			positions = append(positions, pos)
			last = pos
		}
	}
	return positions
}
