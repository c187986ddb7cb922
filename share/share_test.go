package share

import (
	"testing"

	"pintos/handle"
	"pintos/spt"
)

func TestInsertNewThenFind(t *testing.T) {
	st := spt.NewTable()
	tbl := NewTable()
	key := Key{Inode: 1, Ofs: 0}
	frameH := handle.H{Index: 1, Gen: 1}
	alias := Alias{Table: st, Entry: handle.H{Index: 7, Gen: 1}}

	tbl.InsertNew(key, frameH, alias)

	got, members, ok := tbl.FindOrAbsent(key)
	if !ok {
		t.Fatal("expected the inserted key to be found")
	}
	if got != frameH {
		t.Fatalf("expected frame %v, got %v", frameH, got)
	}
	if len(members) != 1 || members[0] != alias {
		t.Fatalf("expected a single alias %v, got %v", alias, members)
	}
	if tbl.Size() != 1 {
		t.Fatalf("expected Size()==1, got %d", tbl.Size())
	}
}

func TestInsertNewPanicsOnDuplicateKey(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected InsertNew to panic on a duplicate key")
		}
	}()
	st := spt.NewTable()
	tbl := NewTable()
	key := Key{Inode: 1, Ofs: 0}
	tbl.InsertNew(key, handle.H{Index: 1, Gen: 1}, Alias{Table: st, Entry: handle.H{Index: 1, Gen: 1}})
	tbl.InsertNew(key, handle.H{Index: 2, Gen: 1}, Alias{Table: st, Entry: handle.H{Index: 2, Gen: 1}})
}

func TestRemoveAliasReportsEmptyOnLastMember(t *testing.T) {
	st := spt.NewTable()
	tbl := NewTable()
	key := Key{Inode: 2, Ofs: 0}
	a1 := Alias{Table: st, Entry: handle.H{Index: 1, Gen: 1}}
	a2 := Alias{Table: st, Entry: handle.H{Index: 2, Gen: 1}}
	tbl.InsertNew(key, handle.H{Index: 9, Gen: 1}, a1)
	tbl.AddAlias(key, a2)

	if empty := tbl.RemoveAlias(key, a1); empty {
		t.Fatal("expected one remaining alias to keep the entry non-empty")
	}
	if empty := tbl.RemoveAlias(key, a2); !empty {
		t.Fatal("expected removing the last alias to report empty")
	}

	tbl.Delete(key)
	if _, _, ok := tbl.FindOrAbsent(key); ok {
		t.Fatal("expected the entry to be gone after Delete")
	}
	if tbl.Size() != 0 {
		t.Fatalf("expected Size()==0 after Delete, got %d", tbl.Size())
	}
}

func TestRemoveAliasOnMissingKeyReportsEmpty(t *testing.T) {
	st := spt.NewTable()
	tbl := NewTable()
	if empty := tbl.RemoveAlias(Key{Inode: 99}, Alias{Table: st, Entry: handle.H{}}); !empty {
		t.Fatal("expected a missing key to report empty")
	}
}
