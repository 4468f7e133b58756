package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Errorf("Sum = %q, want %q", got, want)
	}
}

func TestMatches(t *testing.T) {
	sum := Sum([]byte("cat"))
	if !Matches([]byte("cat"), sum) {
		t.Error("same content should match")
	}
	if Matches([]byte("dog"), sum) {
		t.Error("different content matched")
	}
	if Matches(nil, "") {
		t.Error("empty checksum matched")
	}
}
