package collectgen

import (
	"go/token"
	"strings"
	"testing"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		text  string
		want  Directive
		diags []string
	}{
		{text: "//dmm:collect no_drop", want: Directive{Mode: ModeNoDrop}},
		{text: "//dmm:collect static", want: Directive{Mode: ModeStatic}},
		{text: "//dmm:collect unsafe_drop, union", want: Directive{Mode: ModeUnsafeDrop, Union: true}},
		{text: "//dmm:collect no_drop, heap=P", want: Directive{Mode: ModeNoDrop, Heap: "P"}},
		{
			text: "//dmm:collect no_drop, bound=Pair[dmm.Gc[Node], int]",
			want: Directive{Mode: ModeNoDrop, Bound: "Pair[dmm.Gc[Node], int]"},
		},
		{
			text:  "//dmm:collect",
			diags: []string{"deriving Collect requires a mode (static, no_drop, or unsafe_drop)"},
		},
		{
			text:  "//dmm:collect union",
			diags: []string{"deriving Collect requires a mode (static, no_drop, or unsafe_drop)"},
		},
		{
			text:  "//dmm:collect static, no_drop",
			want:  Directive{Mode: ModeStatic},
			diags: []string{"multiple modes specified"},
		},
		{
			text:  "//dmm:collect no_drop, bound=A, bound=B",
			want:  Directive{Mode: ModeNoDrop, Bound: "A"},
			diags: []string{"multiple bounds specified"},
		},
		{
			text:  "//dmm:collect no_drop, heap=P, heap=Q",
			want:  Directive{Mode: ModeNoDrop, Heap: "P"},
			diags: []string{"multiple heap parameters specified"},
		},
		{
			text:  "//dmm:collect no_drop, weird",
			want:  Directive{Mode: ModeNoDrop},
			diags: []string{`unknown option "weird"`},
		},
		{
			text:  "//dmm:collect no_drop, bound=",
			want:  Directive{Mode: ModeNoDrop},
			diags: []string{`unknown option "bound="`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, diags := ParseDirective(token.Position{}, tt.text)
			if got.Mode != tt.want.Mode || got.Bound != tt.want.Bound || got.Heap != tt.want.Heap || got.Union != tt.want.Union {
				t.Errorf("ParseDirective() = %+v, want %+v", got, tt.want)
			}
			if len(diags) != len(tt.diags) {
				t.Fatalf("diagnostics = %v, want %v", diags, tt.diags)
			}
			for i, d := range diags {
				if d.Message != tt.diags[i] {
					t.Errorf("diagnostic %d = %q, want %q", i, d.Message, tt.diags[i])
				}
			}
		})
	}
}

func TestIsDirective(t *testing.T) {
	tests := map[string]bool{
		"//dmm:collect no_drop": true,
		"//dmm:collect":         true,
		"//dmm:collectx":        false,
		"// dmm:collect static": false,
		"//go:generate foo":     false,
	}
	for text, want := range tests {
		if got := IsDirective(text); got != want {
			t.Errorf("IsDirective(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestDiagnosticsError(t *testing.T) {
	var ds Diagnostics
	ds.add(token.Position{Filename: "b.go", Line: 3, Column: 1}, "second")
	ds.add(token.Position{Filename: "a.go", Line: 9, Column: 2}, "first")
	got := ds.Err().Error()
	want := "a.go:9:2: first\nb.go:3:1: second"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if Diagnostics(nil).Err() != nil {
		t.Error("empty Diagnostics should not be an error")
	}
	if !strings.Contains(ds[0].String(), "b.go:3:1") {
		t.Errorf("String() = %q, want position prefix", ds[0].String())
	}
}
