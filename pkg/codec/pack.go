package codec

import (
	"encoding/json"
	"fmt"

	"github.com/drewcsillag/notecove/pkg/types"
)

// ContainerVersion is the mandatory version field of pack and snapshot
// bodies. Decoders reject anything else.
const ContainerVersion = 1

// packBody is the on-disk JSON container for a pack file. Payload bytes are
// base64 via encoding/json's []byte handling.
type packBody struct {
	Version    int             `json:"version"`
	InstanceID string          `json:"instanceId"`
	NoteID     string          `json:"noteId"`
	StartSeq   int64           `json:"startSeq"`
	EndSeq     int64           `json:"endSeq"`
	Entries    []packBodyEntry `json:"entries"`
}

type packBodyEntry struct {
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Data      []byte `json:"data"`
}

// EncodePackFile validates and serializes a pack.
func EncodePackFile(pack *types.Pack) ([]byte, error) {
	if err := ValidatePackData(pack); err != nil {
		return nil, err
	}
	body := packBody{
		Version:    ContainerVersion,
		InstanceID: pack.InstanceID,
		NoteID:     pack.NoteID,
		StartSeq:   pack.StartSeq,
		EndSeq:     pack.EndSeq,
		Entries:    make([]packBodyEntry, 0, len(pack.Entries)),
	}
	for _, e := range pack.Entries {
		body.Entries = append(body.Entries, packBodyEntry{Seq: e.Sequence, Timestamp: e.Timestamp, Data: e.Data})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pack: %w", err)
	}
	return data, nil
}

// DecodePackFile deserializes and validates a pack body.
func DecodePackFile(data []byte) (*types.Pack, error) {
	var body packBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to decode pack: %w", err)
	}
	if body.Version != ContainerVersion {
		return nil, fmt.Errorf("%w: pack version %d", types.ErrFormatVersion, body.Version)
	}
	pack := &types.Pack{
		InstanceID: body.InstanceID,
		NoteID:     body.NoteID,
		StartSeq:   body.StartSeq,
		EndSeq:     body.EndSeq,
		Entries:    make([]types.PackEntry, 0, len(body.Entries)),
	}
	for _, e := range body.Entries {
		pack.Entries = append(pack.Entries, types.PackEntry{Sequence: e.Seq, Timestamp: e.Timestamp, Data: e.Data})
	}
	if err := ValidatePackData(pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// ValidatePackData checks the pack invariants: a sane sequence range, an
// entry count matching the range, and contiguous per-entry sequences.
func ValidatePackData(pack *types.Pack) error {
	if pack.StartSeq < 0 || pack.EndSeq < pack.StartSeq {
		return fmt.Errorf("%w: %d-%d", types.ErrInvalidRange, pack.StartSeq, pack.EndSeq)
	}
	want := pack.EndSeq - pack.StartSeq + 1
	if int64(len(pack.Entries)) != want {
		return fmt.Errorf("%w: have %d entries, range needs %d", types.ErrCountMismatch, len(pack.Entries), want)
	}
	for i, e := range pack.Entries {
		if e.Sequence != pack.StartSeq+int64(i) {
			return fmt.Errorf("%w: entry %d has sequence %d, want %d", types.ErrNonContiguous, i, e.Sequence, pack.StartSeq+int64(i))
		}
	}
	return nil
}
