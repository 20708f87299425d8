package codec

import (
	"encoding/json"
	"fmt"

	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/pierrec/lz4/v4"
)

const (
	compressionNone = "none"
	compressionLZ4  = "lz4"

	// compressThreshold is the state size above which snapshot bodies are
	// written lz4-compressed.
	compressThreshold = 4 << 10
)

// snapshotBody is the on-disk JSON container for a snapshot file.
type snapshotBody struct {
	Version      int              `json:"version"`
	NoteID       string           `json:"noteId"`
	InstanceID   string           `json:"instanceId"`
	Timestamp    int64            `json:"timestamp"`
	MaxSequences map[string]int64 `json:"maxSequences"`
	Compression  string           `json:"compression,omitempty"`
	RawSize      int              `json:"rawSize,omitempty"`
	State        []byte           `json:"state"`
}

// EncodeSnapshotFile serializes a snapshot. Large state payloads are
// lz4-compressed; small ones are stored raw. Pass compress=false to force
// the raw form.
func EncodeSnapshotFile(snap *types.Snapshot, compress bool) ([]byte, error) {
	body := snapshotBody{
		Version:      ContainerVersion,
		NoteID:       snap.NoteID,
		InstanceID:   snap.InstanceID,
		Timestamp:    snap.Timestamp,
		MaxSequences: snap.MaxSequences,
		Compression:  compressionNone,
		State:        snap.State,
	}
	if compress && len(snap.State) > compressThreshold {
		compressed := make([]byte, lz4.CompressBlockBound(len(snap.State)))
		n, err := lz4.CompressBlock(snap.State, compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to compress snapshot state: %w", err)
		}
		// lz4 reports 0 for incompressible input; keep those raw.
		if n > 0 && n < len(snap.State) {
			body.Compression = compressionLZ4
			body.RawSize = len(snap.State)
			body.State = compressed[:n]
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshotFile deserializes a snapshot body, accepting both raw and
// lz4-compressed state payloads.
func DecodeSnapshotFile(data []byte) (*types.Snapshot, error) {
	var body snapshotBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if body.Version != ContainerVersion {
		return nil, fmt.Errorf("%w: snapshot version %d", types.ErrFormatVersion, body.Version)
	}

	state := body.State
	switch body.Compression {
	case "", compressionNone:
	case compressionLZ4:
		raw := make([]byte, body.RawSize)
		n, err := lz4.UncompressBlock(body.State, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress snapshot state: %w", err)
		}
		state = raw[:n]
	default:
		return nil, fmt.Errorf("%w: snapshot compression %q", types.ErrFormatVersion, body.Compression)
	}

	maxSequences := types.VectorClock{}
	for k, v := range body.MaxSequences {
		maxSequences[k] = v
	}
	return &types.Snapshot{
		NoteID:       body.NoteID,
		InstanceID:   body.InstanceID,
		Timestamp:    body.Timestamp,
		MaxSequences: maxSequences,
		State:        state,
	}, nil
}
