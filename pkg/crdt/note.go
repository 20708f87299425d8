package crdt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/drewcsillag/notecove/pkg/types"
)

// Metadata keys inside the note document.
const (
	keyNoteID   = "meta.id"
	keySDID     = "meta.sdId"
	keyCreated  = "meta.created"
	keyModified = "meta.modified"
	keyFolderID = "meta.folderId"
	keyDeleted  = "meta.deleted"
	keyPinned   = "meta.pinned"
)

// NoteMetadata is the decoded metadata block of a note document.
type NoteMetadata struct {
	ID       string
	SDID     string
	Created  int64
	Modified int64
	FolderID string
	Deleted  bool
	Pinned   bool
}

// Note wraps a Doc with the note document schema: metadata registers, body
// text runs, and nested comment threads.
type Note struct {
	doc *Doc
}

// NewNote creates an empty note replica owned by actor. Initialize must run
// before the note is considered well formed.
func NewNote(actor string) *Note {
	return &Note{doc: NewDoc(actor)}
}

// Doc exposes the underlying replica for storage plumbing.
func (n *Note) Doc() *Doc { return n.doc }

// ObserveUpdates registers an observer on the underlying replica.
func (n *Note) ObserveUpdates(obs Observer) { n.doc.ObserveUpdates(obs) }

// EncodeStateAsUpdate serializes the full note state.
func (n *Note) EncodeStateAsUpdate() []byte { return n.doc.EncodeStateAsUpdate() }

// ApplyUpdate merges an encoded update into the note.
func (n *Note) ApplyUpdate(data []byte, origin UpdateOrigin) error {
	return n.doc.ApplyUpdate(data, origin)
}

// Initialize writes the initial metadata in a single transaction.
func (n *Note) Initialize(meta NoteMetadata) {
	now := types.NowMillis()
	if meta.Created == 0 {
		meta.Created = now
	}
	if meta.Modified == 0 {
		meta.Modified = meta.Created
	}
	n.doc.SetMany(map[string]any{
		keyNoteID:   meta.ID,
		keySDID:     meta.SDID,
		keyCreated:  meta.Created,
		keyModified: meta.Modified,
		keyFolderID: meta.FolderID,
		keyDeleted:  meta.Deleted,
		keyPinned:   meta.Pinned,
	})
}

// Metadata reads the metadata block. Missing created/modified default to
// the current time and missing flags to false; a missing id or SD id means
// the document is malformed and is reported as an error.
func (n *Note) Metadata() (NoteMetadata, error) {
	id, ok := asString(n.doc.Get(keyNoteID))
	if !ok || id == "" {
		return NoteMetadata{}, fmt.Errorf("note document has no id")
	}
	sdID, ok := asString(n.doc.Get(keySDID))
	if !ok || sdID == "" {
		return NoteMetadata{}, fmt.Errorf("note document has no sd id")
	}

	now := types.NowMillis()
	meta := NoteMetadata{ID: id, SDID: sdID, Created: now, Modified: now}
	if created, ok := asInt(n.doc.Get(keyCreated)); ok {
		meta.Created = created
	}
	if modified, ok := asInt(n.doc.Get(keyModified)); ok {
		meta.Modified = modified
	}
	meta.FolderID, _ = asString(n.doc.Get(keyFolderID))
	meta.Deleted = asBool(n.doc.Get(keyDeleted))
	meta.Pinned = asBool(n.doc.Get(keyPinned))
	return meta, nil
}

// UpdateMetadata applies a partial metadata change as one transaction and
// stamps the modified time.
func (n *Note) UpdateMetadata(partial map[string]any) {
	kv := make(map[string]any, len(partial)+1)
	for field, value := range partial {
		switch field {
		case "folderId":
			kv[keyFolderID] = value
		case "deleted":
			kv[keyDeleted] = value
		case "pinned":
			kv[keyPinned] = value
		case "created":
			kv[keyCreated] = value
		case "modified":
			kv[keyModified] = value
		}
	}
	if _, ok := kv[keyModified]; !ok {
		kv[keyModified] = types.NowMillis()
	}
	n.doc.SetMany(kv)
}

// AppendText appends body text.
func (n *Note) AppendText(text string) string { return n.doc.AppendText(text) }

// Text returns the note body.
func (n *Note) Text() string { return n.doc.Text() }

// Comment threads are nested under comment.<threadId>; replies under
// comment.<threadId>.reply.<replyId>; reactions are per-user boolean
// registers so concurrent reactions from different users never conflict.

// CommentThread is one decoded thread with its replies.
type CommentThread struct {
	ID      string
	Author  string
	Text    string
	Created int64
	Replies []CommentReply
}

// CommentReply is one reply inside a thread.
type CommentReply struct {
	ID        string
	Author    string
	Text      string
	Created   int64
	Reactions map[string][]string // emoji -> users, sorted
}

// AddCommentThread creates a thread in a single transaction.
func (n *Note) AddCommentThread(threadID, author, text string) {
	prefix := "comment." + threadID
	n.doc.SetMany(map[string]any{
		prefix + ".author":  author,
		prefix + ".text":    text,
		prefix + ".created": types.NowMillis(),
	})
}

// AddReply appends a reply to a thread in a single transaction.
func (n *Note) AddReply(threadID, replyID, author, text string) {
	prefix := "comment." + threadID + ".reply." + replyID
	n.doc.SetMany(map[string]any{
		prefix + ".author":  author,
		prefix + ".text":    text,
		prefix + ".created": types.NowMillis(),
	})
}

// AddReaction records user's emoji reaction on a reply.
func (n *Note) AddReaction(threadID, replyID, emoji, user string) {
	key := "comment." + threadID + ".reply." + replyID + ".reaction." + emoji + "." + user
	n.doc.Set(key, true)
}

// RemoveReaction clears user's emoji reaction on a reply.
func (n *Note) RemoveReaction(threadID, replyID, emoji, user string) {
	key := "comment." + threadID + ".reply." + replyID + ".reaction." + emoji + "." + user
	n.doc.Set(key, false)
}

// CommentThreads decodes all threads, sorted by creation time then id.
func (n *Note) CommentThreads() []CommentThread {
	threadIDs := map[string]bool{}
	for _, key := range n.doc.Keys("comment.") {
		rest := strings.TrimPrefix(key, "comment.")
		id, _, found := strings.Cut(rest, ".")
		if found && id != "" {
			threadIDs[id] = true
		}
	}

	var threads []CommentThread
	for id := range threadIDs {
		prefix := "comment." + id
		t := CommentThread{ID: id}
		t.Author, _ = asString(n.doc.Get(prefix + ".author"))
		t.Text, _ = asString(n.doc.Get(prefix + ".text"))
		t.Created, _ = asInt(n.doc.Get(prefix + ".created"))
		t.Replies = n.replies(id)
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].Created != threads[j].Created {
			return threads[i].Created < threads[j].Created
		}
		return threads[i].ID < threads[j].ID
	})
	return threads
}

func (n *Note) replies(threadID string) []CommentReply {
	prefix := "comment." + threadID + ".reply."
	replyIDs := map[string]bool{}
	for _, key := range n.doc.Keys(prefix) {
		rest := strings.TrimPrefix(key, prefix)
		id, _, found := strings.Cut(rest, ".")
		if found && id != "" {
			replyIDs[id] = true
		}
	}

	var replies []CommentReply
	for id := range replyIDs {
		rp := prefix + id
		r := CommentReply{ID: id, Reactions: map[string][]string{}}
		r.Author, _ = asString(n.doc.Get(rp + ".author"))
		r.Text, _ = asString(n.doc.Get(rp + ".text"))
		r.Created, _ = asInt(n.doc.Get(rp + ".created"))

		reactionPrefix := rp + ".reaction."
		for _, key := range n.doc.Keys(reactionPrefix) {
			if !asBool(n.doc.Get(key)) {
				continue
			}
			rest := strings.TrimPrefix(key, reactionPrefix)
			emoji, user, found := strings.Cut(rest, ".")
			if !found {
				continue
			}
			r.Reactions[emoji] = append(r.Reactions[emoji], user)
		}
		for emoji := range r.Reactions {
			sort.Strings(r.Reactions[emoji])
		}
		replies = append(replies, r)
	}
	sort.Slice(replies, func(i, j int) bool {
		if replies[i].Created != replies[j].Created {
			return replies[i].Created < replies[j].Created
		}
		return replies[i].ID < replies[j].ID
	})
	return replies
}
