package kv

import (
	"bytes"
	"testing"
)

func TestRawKeyCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b RawKey
		want int
	}{
		{"less", RawKey("a"), RawKey("b"), -1},
		{"equal", RawKey("same"), RawKey("same"), 0},
		{"greater", RawKey("z"), RawKey("a"), 1},
		{"prefix", RawKey("ab"), RawKey("a"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Compare(tt.b)
			switch {
			case tt.want < 0 && got >= 0:
				t.Errorf("Compare(%q, %q) = %d, want < 0", tt.a, tt.b, got)
			case tt.want == 0 && got != 0:
				t.Errorf("Compare(%q, %q) = %d, want 0", tt.a, tt.b, got)
			case tt.want > 0 && got <= 0:
				t.Errorf("Compare(%q, %q) = %d, want > 0", tt.a, tt.b, got)
			}
		})
	}
}

func TestRawKeyCompareForeignType(t *testing.T) {
	k := RawKey("m")
	other := CompositeKey{SV: RawKey("m"), PK: RawKey("x")}
	// Falls back to a byte comparison against other.Bytes() rather than panicking.
	want := bytes.Compare(k, other.Bytes())
	if got := k.Compare(other); got != want {
		t.Errorf("Compare(RawKey, CompositeKey) = %d, want %d", got, want)
	}
}

func TestOptionalValueBytes(t *testing.T) {
	none := None()
	if !none.IsTombstone() {
		t.Error("None() should be a tombstone")
	}
	if got := none.Bytes(); len(got) != 1 || Tag(got[0]) != Tombstone {
		t.Errorf("None().Bytes() = %v, want single Tombstone tag byte", got)
	}

	some := Some(RawValue("hello"))
	if some.IsTombstone() {
		t.Error("Some() should not be a tombstone")
	}
	got := some.Bytes()
	if len(got) != 6 || Tag(got[0]) != Present || string(got[1:]) != "hello" {
		t.Errorf("Some(RawValue(\"hello\")).Bytes() = %v, want [Present]+\"hello\"", got)
	}
}

func TestSVSpecEqual(t *testing.T) {
	a := SVSpec{Path: []int{0, 1}, ExpectedType: "string"}
	b := SVSpec{Path: []int{0, 1}, ExpectedType: "string"}
	c := SVSpec{Path: []int{0, 2}, ExpectedType: "string"}
	d := SVSpec{Path: []int{0, 1}, ExpectedType: "int"}

	if !a.Equal(b) {
		t.Error("identical specs should be equal")
	}
	if a.Equal(c) {
		t.Error("specs with different paths should not be equal")
	}
	if a.Equal(d) {
		t.Error("specs with different expected types should not be equal")
	}
}

func TestSVSpecKeyStable(t *testing.T) {
	a := SVSpec{Path: []int{1, 2, 3}, ExpectedType: "string"}
	b := SVSpec{Path: []int{1, 2, 3}, ExpectedType: "string"}
	if a.Key() != b.Key() {
		t.Errorf("Key() not stable across equal specs: %q vs %q", a.Key(), b.Key())
	}

	c := SVSpec{Path: []int{1, 2, 4}, ExpectedType: "string"}
	if a.Key() == c.Key() {
		t.Errorf("Key() collided for distinct specs: %q", a.Key())
	}
}

func TestCompositeKeyCompare(t *testing.T) {
	a := CompositeKey{SV: RawKey("x"), PK: RawKey("1")}
	b := CompositeKey{SV: RawKey("x"), PK: RawKey("2")}
	c := CompositeKey{SV: RawKey("y"), PK: RawKey("0")}

	if a.Compare(b) >= 0 {
		t.Errorf("same SV, a.PK < b.PK should compare < 0, got %d", a.Compare(b))
	}
	if a.Compare(c) >= 0 {
		t.Errorf("a.SV < c.SV should compare < 0 regardless of PK, got %d", a.Compare(c))
	}
	if a.Compare(a) != 0 {
		t.Errorf("a.Compare(a) = %d, want 0", a.Compare(a))
	}
}

func TestCompositeKeyBytesRoundTripsLength(t *testing.T) {
	ck := CompositeKey{SV: RawKey("sv"), PK: RawKey("pk")}
	b := ck.Bytes()
	if len(b) != 4+2+2 {
		t.Fatalf("Bytes() length = %d, want %d", len(b), 4+2+2)
	}
	svLen := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if svLen != 2 {
		t.Errorf("encoded SV length = %d, want 2", svLen)
	}
}
