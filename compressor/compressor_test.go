package compressor

import "testing"

func TestRowTable(t *testing.T) {
	table := NewRowTable()

	r1 := table.Intern([]int32{1, 2, 3})
	r2 := table.Intern([]int32{4, 5})
	r3 := table.Intern([]int32{1, 2, 3})
	if r1 == r2 {
		t.Fatalf("distinct rows share a row number: %v", r1)
	}
	if r1 != r3 {
		t.Fatalf("equal rows got distinct row numbers: %v and %v", r1, r3)
	}
	if table.NumRows() != 2 {
		t.Fatalf("unexpected number of rows: want: 2, got: %v", table.NumRows())
	}

	got := table.Row(r1)
	want := []int32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("unexpected row: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected row: %v", got)
		}
	}
}

func TestRowTable_EmptyAndNegative(t *testing.T) {
	table := NewRowTable()
	empty := table.Intern(nil)
	neg := table.Intern([]int32{-1})
	if empty == neg {
		t.Fatalf("empty row and {-1} share a row number")
	}
	if table.Intern([]int32{}) != empty {
		t.Fatalf("nil and empty slice should intern to the same row")
	}
	if table.Intern([]int32{-1}) != neg {
		t.Fatalf("negative values do not round-trip")
	}
}
