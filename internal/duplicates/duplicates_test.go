package duplicates

import (
	"testing"
)

func TestGroups(t *testing.T) {
	x := NewIndex()

	// a and b are nearly identical; c is orthogonal to both.
	x.Add("a.jpg", []float32{1, 0, 0, 0})
	x.Add("b.jpg", []float32{0.999, 0.01, 0, 0})
	x.Add("c.jpg", []float32{0, 1, 0, 0})

	groups := x.Groups(0.08)
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d: %v", len(groups), groups)
	}
	got := groups[0].Photos
	if len(got) != 2 || got[0] != "a.jpg" || got[1] != "b.jpg" {
		t.Errorf("expected [a.jpg b.jpg], got %v", got)
	}
}

func TestGroups_NoDuplicates(t *testing.T) {
	x := NewIndex()
	x.Add("a.jpg", []float32{1, 0, 0})
	x.Add("b.jpg", []float32{0, 1, 0})
	x.Add("c.jpg", []float32{0, 0, 1})

	if groups := x.Groups(0.08); groups != nil {
		t.Errorf("expected no groups, got %v", groups)
	}
}

func TestGroups_TransitiveChain(t *testing.T) {
	x := NewIndex()
	// a~b and b~c each within threshold; a, b, c form one group even if
	// a and c alone would not.
	x.Add("a.jpg", []float32{1, 0, 0, 0})
	x.Add("b.jpg", []float32{0.99, 0.14, 0, 0})
	x.Add("c.jpg", []float32{0.9, 0.436, 0, 0})

	groups := x.Groups(0.06)
	if len(groups) != 1 {
		t.Fatalf("expected one chained group, got %v", groups)
	}
	if len(groups[0].Photos) != 3 {
		t.Errorf("expected all three photos grouped, got %v", groups[0].Photos)
	}
}

func TestGroups_EmptyAndSingle(t *testing.T) {
	x := NewIndex()
	if groups := x.Groups(0.08); groups != nil {
		t.Errorf("empty index should produce no groups, got %v", groups)
	}

	x.Add("only.jpg", []float32{1, 0})
	if groups := x.Groups(0.08); groups != nil {
		t.Errorf("single photo should produce no groups, got %v", groups)
	}
}

func TestAdd_IgnoresEmptyEmbedding(t *testing.T) {
	x := NewIndex()
	x.Add("skipped.jpg", nil)
	if x.Len() != 0 {
		t.Errorf("empty embedding should not be indexed, len=%d", x.Len())
	}
}
