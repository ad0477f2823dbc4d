package vector

import (
	"slices"
	"testing"
)

func TestIDMap(t *testing.T) {
	src := []string{"a", "b"}
	m := NewIDMap(src...)
	src[0] = "changed"
	if m.At(0) != "a" {
		t.Error("NewIDMap must copy its input")
	}

	m.Append("a", "c")
	if m.Len() != 4 {
		t.Errorf("Len=%d, want 4", m.Len())
	}
	if got := m.Positions("a"); !slices.Equal(got, []int{0, 2}) {
		t.Errorf("Positions(a)=%v, want [0 2]", got)
	}
	if got := m.Positions("missing"); len(got) != 0 {
		t.Errorf("Positions(missing)=%v, want empty", got)
	}
	if !m.Contains("c") || m.Contains("z") {
		t.Error("Contains returned wrong result")
	}
}
