package crdt

import (
	"sort"
	"strings"
)

// Folder is one decoded entry of the folder tree.
type Folder struct {
	ID       string
	Name     string
	ParentID string
	Order    int64
	Deleted  bool
}

// FolderTree wraps a Doc with the per-SD folder tree schema: one register
// group per folder id.
type FolderTree struct {
	doc *Doc
}

// NewFolderTree creates an empty folder tree replica owned by actor.
func NewFolderTree(actor string) *FolderTree {
	return &FolderTree{doc: NewDoc(actor)}
}

// Doc exposes the underlying replica for storage plumbing.
func (f *FolderTree) Doc() *Doc { return f.doc }

// ObserveUpdates registers an observer on the underlying replica.
func (f *FolderTree) ObserveUpdates(obs Observer) { f.doc.ObserveUpdates(obs) }

// EncodeStateAsUpdate serializes the full tree state.
func (f *FolderTree) EncodeStateAsUpdate() []byte { return f.doc.EncodeStateAsUpdate() }

// ApplyUpdate merges an encoded update into the tree.
func (f *FolderTree) ApplyUpdate(data []byte, origin UpdateOrigin) error {
	return f.doc.ApplyUpdate(data, origin)
}

// CreateFolder adds a folder at the end of its parent's children, in a
// single transaction.
func (f *FolderTree) CreateFolder(id, name, parentID string) {
	var maxOrder int64 = -1
	for _, sibling := range f.children(parentID) {
		if sibling.Order > maxOrder {
			maxOrder = sibling.Order
		}
	}
	prefix := "folder." + id
	f.doc.SetMany(map[string]any{
		prefix + ".name":     name,
		prefix + ".parentId": parentID,
		prefix + ".order":    maxOrder + 1,
		prefix + ".deleted":  false,
	})
}

// UpdateFolder applies a partial change (name, parentId, order, deleted) as
// one transaction.
func (f *FolderTree) UpdateFolder(id string, partial map[string]any) {
	prefix := "folder." + id
	kv := make(map[string]any, len(partial))
	for field, value := range partial {
		switch field {
		case "name", "parentId", "order", "deleted":
			kv[prefix+"."+field] = value
		}
	}
	f.doc.SetMany(kv)
}

// Folder reads one folder by id.
func (f *FolderTree) Folder(id string) (Folder, bool) {
	prefix := "folder." + id
	name, ok := asString(f.doc.Get(prefix + ".name"))
	if !ok {
		return Folder{}, false
	}
	folder := Folder{ID: id, Name: name}
	folder.ParentID, _ = asString(f.doc.Get(prefix + ".parentId"))
	folder.Order, _ = asInt(f.doc.Get(prefix + ".order"))
	folder.Deleted = asBool(f.doc.Get(prefix + ".deleted"))
	return folder, true
}

// ActiveFolders returns all non-deleted folders sorted by order then
// case-insensitive name.
func (f *FolderTree) ActiveFolders() []Folder {
	var folders []Folder
	for _, id := range f.folderIDs() {
		folder, ok := f.Folder(id)
		if ok && !folder.Deleted {
			folders = append(folders, folder)
		}
	}
	sortFolders(folders)
	return folders
}

// VisibleFolders returns active folders that have no deleted ancestor.
func (f *FolderTree) VisibleFolders() []Folder {
	var folders []Folder
	for _, folder := range f.ActiveFolders() {
		if !f.hasDeletedAncestor(folder) {
			folders = append(folders, folder)
		}
	}
	return folders
}

func (f *FolderTree) hasDeletedAncestor(folder Folder) bool {
	seen := map[string]bool{folder.ID: true}
	for folder.ParentID != "" && !seen[folder.ParentID] {
		seen[folder.ParentID] = true
		parent, ok := f.Folder(folder.ParentID)
		if !ok {
			return false
		}
		if parent.Deleted {
			return true
		}
		folder = parent
	}
	return false
}

// ReorderFolder moves a folder to newIndex among its active siblings and
// renumbers the whole sibling group to the consecutive range 0..n-1, in a
// single transaction.
func (f *FolderTree) ReorderFolder(id string, newIndex int) {
	folder, ok := f.Folder(id)
	if !ok {
		return
	}

	siblings := f.children(folder.ParentID)
	ordered := make([]Folder, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != id && !s.Deleted {
			ordered = append(ordered, s)
		}
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(ordered) {
		newIndex = len(ordered)
	}
	ordered = append(ordered[:newIndex], append([]Folder{folder}, ordered[newIndex:]...)...)

	kv := make(map[string]any, len(ordered))
	for i, s := range ordered {
		kv["folder."+s.ID+".order"] = int64(i)
	}
	f.doc.SetMany(kv)
}

func (f *FolderTree) folderIDs() []string {
	ids := map[string]bool{}
	for _, key := range f.doc.Keys("folder.") {
		rest := strings.TrimPrefix(key, "folder.")
		id, _, found := strings.Cut(rest, ".")
		if found && id != "" {
			ids[id] = true
		}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return sorted
}

func (f *FolderTree) children(parentID string) []Folder {
	var out []Folder
	for _, id := range f.folderIDs() {
		folder, ok := f.Folder(id)
		if ok && folder.ParentID == parentID {
			out = append(out, folder)
		}
	}
	sortFolders(out)
	return out
}

func sortFolders(folders []Folder) {
	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Order != folders[j].Order {
			return folders[i].Order < folders[j].Order
		}
		ni, nj := strings.ToLower(folders[i].Name), strings.ToLower(folders[j].Name)
		if ni != nj {
			return ni < nj
		}
		return folders[i].ID < folders[j].ID
	})
}
