package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drewcsillag/notecove/pkg/types"
)

const (
	// UpdateExt is the extension shared by update, pack, and snapshot files.
	UpdateExt = ".yjson"

	// LogExt is the extension of append-only log files.
	LogExt = ".crdtlog"

	folderTreeToken = "folder-tree"
	packToken       = "pack"
	snapshotPrefix  = "snapshot"
)

// GenerateUpdateFilename builds an update filename for a note document:
// <instanceId>_<docId>_<timestamp>-<seq>.yjson. Sequences are always
// written; short ones are zero-padded to four digits so lexical and numeric
// order agree for the common case.
func GenerateUpdateFilename(instanceID, docID string, timestamp, sequence int64) string {
	return fmt.Sprintf("%s_%s_%d-%s%s", instanceID, docID, timestamp, formatSequence(sequence), UpdateExt)
}

// GenerateFolderUpdateFilename builds an update filename for the folder
// tree: <instanceId>_folder-tree_<sdId>_<timestamp>-<seq>.yjson.
func GenerateFolderUpdateFilename(instanceID, sdID string, timestamp, sequence int64) string {
	return fmt.Sprintf("%s_%s_%s_%d-%s%s", instanceID, folderTreeToken, sdID, timestamp, formatSequence(sequence), UpdateExt)
}

func formatSequence(seq int64) string {
	return fmt.Sprintf("%04d", seq)
}

// ParseUpdateFilename parses a note or folder-tree update filename. The
// second return reports success; malformed names and other file kinds parse
// to false. Legacy names without a sequence suffix yield Sequence == -1.
func ParseUpdateFilename(filename string) (types.UpdateFileInfo, bool) {
	var info types.UpdateFileInfo

	base, ok := strings.CutSuffix(filename, UpdateExt)
	if !ok {
		return info, false
	}

	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return info, false
	}

	instanceID := parts[0]
	last := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]
	if instanceID == "" {
		return info, false
	}

	// Pack and snapshot files share the extension; their fixed tokens keep
	// the grammars disjoint.
	if len(parts) == 3 && parts[1] == packToken {
		if _, _, ok := parseSeqRange(last); ok {
			return info, false
		}
	}
	if parts[0] == snapshotPrefix {
		if _, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			return info, false
		}
	}

	timestamp, sequence, ok := parseTimestampSeq(last)
	if !ok {
		return info, false
	}

	docID := strings.Join(middle, "_")
	if middle[0] == folderTreeToken {
		if len(middle) < 2 {
			return info, false
		}
		docID = strings.Join(middle[1:], "_")
	}
	if docID == "" {
		return info, false
	}

	info = types.UpdateFileInfo{
		Filename:   filename,
		InstanceID: instanceID,
		DocumentID: docID,
		Timestamp:  timestamp,
		Sequence:   sequence,
	}
	return info, true
}

// IsFolderTreeUpdateFilename reports whether the name uses the folder-tree
// form of the update grammar.
func IsFolderTreeUpdateFilename(filename string) bool {
	base, ok := strings.CutSuffix(filename, UpdateExt)
	if !ok {
		return false
	}
	parts := strings.Split(base, "_")
	return len(parts) >= 4 && parts[1] == folderTreeToken
}

// parseTimestampSeq parses "<timestamp>" or "<timestamp>-<sequence>".
// The legacy form without a sequence returns -1.
func parseTimestampSeq(s string) (timestamp, sequence int64, ok bool) {
	ts, rest, found := strings.Cut(s, "-")
	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || timestamp < 0 {
		return 0, 0, false
	}
	if !found {
		return timestamp, -1, true
	}
	sequence, err = strconv.ParseInt(rest, 10, 64)
	if err != nil || sequence < 0 {
		return 0, 0, false
	}
	return timestamp, sequence, true
}

// GeneratePackFilename builds <instanceId>_pack_<startSeq>-<endSeq>.yjson.
func GeneratePackFilename(instanceID string, startSeq, endSeq int64) string {
	return fmt.Sprintf("%s_%s_%d-%d%s", instanceID, packToken, startSeq, endSeq, UpdateExt)
}

// ParsePackFilename parses a pack filename; the second return reports
// success.
func ParsePackFilename(filename string) (types.PackFileInfo, bool) {
	var info types.PackFileInfo

	base, ok := strings.CutSuffix(filename, UpdateExt)
	if !ok {
		return info, false
	}
	parts := strings.Split(base, "_")
	if len(parts) != 3 || parts[1] != packToken || parts[0] == "" {
		return info, false
	}
	start, end, ok := parseSeqRange(parts[2])
	if !ok {
		return info, false
	}
	info = types.PackFileInfo{
		Filename:   filename,
		InstanceID: parts[0],
		StartSeq:   start,
		EndSeq:     end,
	}
	return info, true
}

func parseSeqRange(s string) (start, end int64, ok bool) {
	first, rest, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(rest, 10, 64)
	if err != nil || end < 0 {
		return 0, 0, false
	}
	return start, end, true
}

// GenerateSnapshotFilename builds snapshot_<totalChanges>_<instanceId>.yjson.
func GenerateSnapshotFilename(totalChanges int64, instanceID string) string {
	return fmt.Sprintf("%s_%d_%s%s", snapshotPrefix, totalChanges, instanceID, UpdateExt)
}

// ParseSnapshotFilename parses a snapshot filename; the second return
// reports success.
func ParseSnapshotFilename(filename string) (types.SnapshotFileInfo, bool) {
	var info types.SnapshotFileInfo

	base, ok := strings.CutSuffix(filename, UpdateExt)
	if !ok {
		return info, false
	}
	parts := strings.Split(base, "_")
	if len(parts) < 3 || parts[0] != snapshotPrefix {
		return info, false
	}
	totalChanges, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || totalChanges < 0 {
		return info, false
	}
	instanceID := strings.Join(parts[2:], "_")
	if instanceID == "" {
		return info, false
	}
	info = types.SnapshotFileInfo{
		Filename:     filename,
		InstanceID:   instanceID,
		TotalChanges: totalChanges,
	}
	return info, true
}

// GenerateLogFilename builds <instanceId>_<timestamp>.crdtlog.
func GenerateLogFilename(instanceID string, timestamp int64) string {
	return fmt.Sprintf("%s_%d%s", instanceID, timestamp, LogExt)
}

// ParseLogFilename parses a .crdtlog filename; the second return reports
// success.
func ParseLogFilename(filename string) (types.LogFileInfo, bool) {
	var info types.LogFileInfo

	base, ok := strings.CutSuffix(filename, LogExt)
	if !ok {
		return info, false
	}
	idx := strings.LastIndex(base, "_")
	if idx <= 0 || idx == len(base)-1 {
		return info, false
	}
	timestamp, err := strconv.ParseInt(base[idx+1:], 10, 64)
	if err != nil || timestamp < 0 {
		return info, false
	}
	info = types.LogFileInfo{
		Filename:   filename,
		InstanceID: base[:idx],
		Timestamp:  timestamp,
	}
	return info, true
}
