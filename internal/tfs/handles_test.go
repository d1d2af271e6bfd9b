package tfs

import (
	"sync"
	"testing"
)

func TestNewOpenFileTable(t *testing.T) {
	tbl := NewOpenFileTable(4)
	if tbl == nil {
		t.Fatal("NewOpenFileTable returned nil")
	}
	if len(tbl.entries) != 4 {
		t.Errorf("entries = %d, want 4", len(tbl.entries))
	}
	if tbl.Count() != 0 {
		t.Errorf("Count = %d, want 0", tbl.Count())
	}
}

func TestOpenFileTable_Add(t *testing.T) {
	tbl := NewOpenFileTable(2)

	h1, err := tbl.Add(1, 0)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	h2, err := tbl.Add(1, 10)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if h1 == h2 {
		t.Error("handles should be unique")
	}
	if _, err := tbl.Add(2, 0); err == nil {
		t.Error("Add on a full table should fail")
	}

	e := tbl.Get(h2)
	if e == nil {
		t.Fatal("Get returned nil")
	}
	if e.inum != 1 || e.offset != 10 {
		t.Errorf("entry = (%d, %d), want (1, 10)", e.inum, e.offset)
	}
}

func TestOpenFileTable_RemoveReusesSlot(t *testing.T) {
	tbl := NewOpenFileTable(1)

	h, _ := tbl.Add(3, 0)
	if err := tbl.Remove(h); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := tbl.Remove(h); err == nil {
		t.Error("second Remove should fail")
	}
	if tbl.Get(h) != nil {
		t.Error("removed handle still resolves")
	}

	again, err := tbl.Add(4, 0)
	if err != nil {
		t.Fatalf("Add after Remove: %v", err)
	}
	if again != h {
		t.Errorf("handle = %d, want reused %d", again, h)
	}
}

func TestOpenFileTable_GetOutOfRange(t *testing.T) {
	tbl := NewOpenFileTable(1)
	if tbl.Get(-1) != nil || tbl.Get(1) != nil {
		t.Error("out of range handles should not resolve")
	}
}

func TestOpenFileTable_IsOpen(t *testing.T) {
	tbl := NewOpenFileTable(4)

	h, _ := tbl.Add(7, 0)
	tbl.Add(7, 0)
	if !tbl.IsOpen(7) {
		t.Error("inode 7 should be open")
	}
	if tbl.IsOpen(8) {
		t.Error("inode 8 should not be open")
	}

	tbl.Remove(h)
	if !tbl.IsOpen(7) {
		t.Error("inode 7 still has a second handle")
	}
}

func TestOpenFileTable_Clear(t *testing.T) {
	tbl := NewOpenFileTable(4)
	tbl.Add(1, 0)
	tbl.Add(2, 0)

	if n := tbl.Clear(); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if tbl.Count() != 0 {
		t.Errorf("Count = %d, want 0", tbl.Count())
	}
}

func TestOpenFileTable_Concurrent(t *testing.T) {
	tbl := NewOpenFileTable(32)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := tbl.Add(i, 0)
			if err != nil {
				t.Errorf("Add: %v", err)
				return
			}
			tbl.Get(h)
			tbl.IsOpen(i)
		}(i)
	}
	wg.Wait()

	if tbl.Count() != 32 {
		t.Errorf("Count = %d, want 32", tbl.Count())
	}
}
