package useragent

import (
	"sort"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", Default},
		{"whitespace", "   ", Default},
		{"preset", "googlebot", presets["googlebot"]},
		{"preset case-insensitive", "GoogleBot", presets["googlebot"]},
		{"literal", "my-agent/1.0", "my-agent/1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.in); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNamesSortedAndComplete(t *testing.T) {
	names := Names()
	if len(names) != len(presets) {
		t.Fatalf("Names() returned %d entries, want %d", len(names), len(presets))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("Names() not sorted: %v", names)
	}
	for _, n := range names {
		if _, ok := Get(n); !ok {
			t.Errorf("Get(%q) missing", n)
		}
	}
}
