package testfixtures

import "testing"

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("entry")

	first := gen.Next()
	second := gen.Next()

	if first != "entry-0001" || second != "entry-0002" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
}

func TestIDGeneratorCanReset(t *testing.T) {
	gen := NewIDGenerator("")
	_ = gen.Next()
	gen.Reset()

	if next := gen.Next(); next != "id-0001" {
		t.Fatalf("expected id-0001 after reset, got %q", next)
	}
}
