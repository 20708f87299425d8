package crdt

import (
	"testing"
)

// TestNoteMetadataDefaults tests defensive defaults on a sparse document
func TestNoteMetadataDefaults(t *testing.T) {
	n := NewNote("inst-a")

	// Uninitialized: no id means malformed.
	if _, err := n.Metadata(); err == nil {
		t.Error("metadata without id must error")
	}

	// Only id and sd id present: times default, flags false.
	n.Doc().SetMany(map[string]any{keyNoteID: "note-1", keySDID: "sd-1"})
	meta, err := n.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.ID != "note-1" || meta.SDID != "sd-1" {
		t.Errorf("ids = %q/%q", meta.ID, meta.SDID)
	}
	if meta.Created == 0 || meta.Modified == 0 {
		t.Error("created/modified must default to now")
	}
	if meta.Deleted || meta.Pinned {
		t.Error("flags must default to false")
	}
}

// TestNoteInitializeAndUpdate tests the metadata write paths
func TestNoteInitializeAndUpdate(t *testing.T) {
	n := NewNote("inst-a")
	n.Initialize(NoteMetadata{ID: "note-1", SDID: "sd-1", Created: 111, FolderID: "f1"})

	meta, err := n.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	if meta.Created != 111 || meta.Modified != 111 || meta.FolderID != "f1" {
		t.Errorf("meta = %+v", meta)
	}

	n.UpdateMetadata(map[string]any{"pinned": true, "folderId": "f2"})
	meta, err = n.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Pinned || meta.FolderID != "f2" {
		t.Errorf("meta after update = %+v", meta)
	}
	if meta.Modified <= 111 {
		t.Errorf("modified not stamped: %d", meta.Modified)
	}
}

// TestNoteUpdateIsAtomic tests one event per transaction
func TestNoteUpdateIsAtomic(t *testing.T) {
	n := NewNote("inst-a")
	var events int
	n.ObserveUpdates(func(ev UpdateEvent) { events++ })

	n.Initialize(NoteMetadata{ID: "note-1", SDID: "sd-1"})
	n.AddCommentThread("t1", "alice", "hello?")
	n.AddReply("t1", "r1", "bob", "hi")
	n.AddReaction("t1", "r1", "thumbsup", "alice")

	if events != 4 {
		t.Errorf("events = %d, want 4 (one per transaction)", events)
	}
}

// TestCommentThreads tests the nested comment structure across replicas
func TestCommentThreads(t *testing.T) {
	n := NewNote("inst-a")
	n.Initialize(NoteMetadata{ID: "note-1", SDID: "sd-1"})
	n.AddCommentThread("t1", "alice", "thoughts?")
	n.AddReply("t1", "r1", "bob", "agreed")
	n.AddReaction("t1", "r1", "thumbsup", "alice")
	n.AddReaction("t1", "r1", "thumbsup", "carol")
	n.AddReaction("t1", "r1", "eyes", "bob")
	n.RemoveReaction("t1", "r1", "eyes", "bob")

	// Converge into a second replica and read there.
	m := NewNote("inst-b")
	if err := m.ApplyUpdate(n.EncodeStateAsUpdate(), OriginRemote); err != nil {
		t.Fatal(err)
	}

	threads := m.CommentThreads()
	if len(threads) != 1 {
		t.Fatalf("threads = %d", len(threads))
	}
	thread := threads[0]
	if thread.Author != "alice" || thread.Text != "thoughts?" {
		t.Errorf("thread = %+v", thread)
	}
	if len(thread.Replies) != 1 {
		t.Fatalf("replies = %d", len(thread.Replies))
	}
	reply := thread.Replies[0]
	if reply.Author != "bob" || reply.Text != "agreed" {
		t.Errorf("reply = %+v", reply)
	}
	if got := reply.Reactions["thumbsup"]; len(got) != 2 || got[0] != "alice" || got[1] != "carol" {
		t.Errorf("thumbsup reactions = %v", got)
	}
	if _, ok := reply.Reactions["eyes"]; ok {
		t.Error("removed reaction still present")
	}
}
