package crdt

import (
	"testing"
)

func folderNames(folders []Folder) []string {
	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}
	return names
}

// TestFolderConvergence tests field-level merge across replicas
func TestFolderConvergence(t *testing.T) {
	a := NewFolderTree("inst-a")
	b := NewFolderTree("inst-b")

	a.CreateFolder("f1", "Inbox", "")
	if err := b.ApplyUpdate(a.EncodeStateAsUpdate(), OriginRemote); err != nil {
		t.Fatal(err)
	}

	// Replica 1 renames; replica 2 reorders. Both edits survive.
	a.UpdateFolder("f1", map[string]any{"name": "X"})
	b.UpdateFolder("f1", map[string]any{"order": int64(10)})

	if err := b.ApplyUpdate(a.EncodeStateAsUpdate(), OriginRemote); err != nil {
		t.Fatal(err)
	}
	if err := a.ApplyUpdate(b.EncodeStateAsUpdate(), OriginRemote); err != nil {
		t.Fatal(err)
	}

	for _, tree := range []*FolderTree{a, b} {
		f, ok := tree.Folder("f1")
		if !ok {
			t.Fatal("folder missing")
		}
		if f.Name != "X" || f.Order != 10 {
			t.Errorf("folder = %+v", f)
		}
	}
}

// TestActiveFoldersSorting tests order-then-name sorting
func TestActiveFoldersSorting(t *testing.T) {
	tree := NewFolderTree("inst-a")
	tree.CreateFolder("f1", "banana", "")
	tree.CreateFolder("f2", "Apple", "")
	tree.CreateFolder("f3", "cherry", "")
	tree.UpdateFolder("f1", map[string]any{"order": int64(1)})
	tree.UpdateFolder("f2", map[string]any{"order": int64(1)})
	tree.UpdateFolder("f3", map[string]any{"order": int64(0)})

	got := folderNames(tree.ActiveFolders())
	want := []string{"cherry", "Apple", "banana"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ActiveFolders = %v, want %v", got, want)
		}
	}

	tree.UpdateFolder("f3", map[string]any{"deleted": true})
	if len(tree.ActiveFolders()) != 2 {
		t.Error("deleted folder still active")
	}
}

// TestVisibleFolders tests deleted-ancestor filtering
func TestVisibleFolders(t *testing.T) {
	tree := NewFolderTree("inst-a")
	tree.CreateFolder("root", "Root", "")
	tree.CreateFolder("child", "Child", "root")
	tree.CreateFolder("grandchild", "Grandchild", "child")
	tree.CreateFolder("other", "Other", "")

	tree.UpdateFolder("child", map[string]any{"deleted": true})

	visible := map[string]bool{}
	for _, f := range tree.VisibleFolders() {
		visible[f.ID] = true
	}
	if !visible["root"] || !visible["other"] {
		t.Errorf("visible = %v", visible)
	}
	if visible["child"] {
		t.Error("deleted folder visible")
	}
	if visible["grandchild"] {
		t.Error("folder under deleted ancestor visible")
	}
}

// TestReorderFolder tests consecutive renumbering
func TestReorderFolder(t *testing.T) {
	tree := NewFolderTree("inst-a")
	tree.CreateFolder("a", "A", "")
	tree.CreateFolder("b", "B", "")
	tree.CreateFolder("c", "C", "")

	tree.ReorderFolder("c", 0)

	got := tree.ActiveFolders()
	want := []string{"C", "A", "B"}
	for i := range want {
		if got[i].Name != want[i] {
			t.Fatalf("order = %v, want %v", folderNames(got), want)
		}
		if got[i].Order != int64(i) {
			t.Errorf("folder %s order = %d, want %d", got[i].Name, got[i].Order, i)
		}
	}
}
