package htable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := MkHash[string, int](8, StringHash)
	if _, ok := ht.Get("a"); ok {
		t.Fatalf("expected miss on empty table")
	}
	ht.Set("a", 1)
	ht.Set("b", 2)
	v, ok := ht.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected a=1, got %v ok=%v", v, ok)
	}
	if old, existed := ht.Set("a", 9); !existed || old != 1 {
		t.Fatalf("expected Set to report the previous value 1, got %v existed=%v", old, existed)
	}
	ht.Del("b")
	if _, ok := ht.Get("b"); ok {
		t.Fatalf("expected b to be gone after Del")
	}
}

func TestU64HashTable(t *testing.T) {
	ht := MkHash[uint64, string](4, U64Hash)
	ht.Set(100, "x")
	ht.Set(200, "y")
	elems := ht.Elems()
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elems))
	}
}
