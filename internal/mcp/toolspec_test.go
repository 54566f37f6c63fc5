package mcp

import "testing"

func TestQualifyName(t *testing.T) {
	if got := QualifyName("filesystem", "read_file"); got != "filesystem:read_file" {
		t.Errorf("QualifyName() = %q, want filesystem:read_file", got)
	}
}

func TestCatalogNamesUnique(t *testing.T) {
	c := ToolCatalog{
		"a:x": ToolSpec{QualifiedName: "a:x"},
		"b:x": ToolSpec{QualifiedName: "b:x"},
	}
	names := c.Names()
	if len(names) != 2 {
		t.Fatalf("Names() returned %d entries, want 2", len(names))
	}
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate name %q", n)
		}
		seen[n] = true
	}
}
