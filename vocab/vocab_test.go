package vocab

import "testing"

func TestNew(t *testing.T) {
	v, err := New([][]byte{[]byte("a"), []byte("bc"), nil}, []int32{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	if v.Size() != 3 {
		t.Fatalf("unexpected size: want: 3, got: %v", v.Size())
	}
	if string(v.Token(1)) != "bc" {
		t.Fatalf("unexpected token: %q", v.Token(1))
	}
	if !v.IsStop(2) || v.IsStop(0) {
		t.Fatalf("unexpected stop set: %v", v.StopTokens())
	}
	if stops := v.StopTokens(); len(stops) != 1 || stops[0] != 2 {
		t.Fatalf("stop tokens are not deduplicated: %v", stops)
	}
}

func TestNew_InvalidStopToken(t *testing.T) {
	if _, err := New([][]byte{[]byte("a")}, []int32{1}); err == nil {
		t.Fatal("expect an error for an out-of-range stop token")
	}
	if _, err := New([][]byte{[]byte("a")}, []int32{-1}); err == nil {
		t.Fatal("expect an error for a negative stop token")
	}
}

func TestFingerprint(t *testing.T) {
	v1, err := New([][]byte{[]byte("a"), []byte("b")}, []int32{1})
	if err != nil {
		t.Fatal(err)
	}
	v2, err := New([][]byte{[]byte("a"), []byte("b")}, []int32{1})
	if err != nil {
		t.Fatal(err)
	}
	if v1.Fingerprint() != v2.Fingerprint() {
		t.Fatal("identical tables have distinct fingerprints")
	}

	v3, err := New([][]byte{[]byte("a"), []byte("b")}, []int32{0})
	if err != nil {
		t.Fatal(err)
	}
	if v1.Fingerprint() == v3.Fingerprint() {
		t.Fatal("the stop set does not affect the fingerprint")
	}
	// The length prefix must keep ["ab", ""] apart from ["a", "b"].
	v4, err := New([][]byte{[]byte("ab"), nil}, []int32{0})
	if err != nil {
		t.Fatal(err)
	}
	if v3.Fingerprint() == v4.Fingerprint() {
		t.Fatal("token boundaries do not affect the fingerprint")
	}
}
