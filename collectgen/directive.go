package collectgen

import (
	"go/token"
	"strings"
)

// DirectivePrefix marks a type declaration for generation.
const DirectivePrefix = "//dmm:collect"

// Mode says what a derived type may hold and whether it may clean up.
type Mode int

const (
	ModeUnset Mode = iota
	// ModeStatic types hold no heap handles and are never traced.
	ModeStatic
	// ModeNoDrop types may hold handles but have no Drop method.
	ModeNoDrop
	// ModeUnsafeDrop types may hold handles and define Drop; Drop must not
	// dereference them.
	ModeUnsafeDrop
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeNoDrop:
		return "no_drop"
	case ModeUnsafeDrop:
		return "unsafe_drop"
	}
	return "unset"
}

// Directive is a parsed //dmm:collect comment.
type Directive struct {
	Pos   token.Position
	Mode  Mode
	Bound string // instantiation for the conformance assertion
	Heap  string // selected heap type parameter
	Union bool
}

// IsDirective reports whether a comment line is a //dmm:collect directive.
func IsDirective(text string) bool {
	if !strings.HasPrefix(text, DirectivePrefix) {
		return false
	}
	rest := text[len(DirectivePrefix):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

// ParseDirective parses the comment text of a directive, including the
// leading //dmm:collect.
func ParseDirective(pos token.Position, text string) (Directive, Diagnostics) {
	d := Directive{Pos: pos}
	var diags Diagnostics
	body := strings.TrimSpace(strings.TrimPrefix(text, DirectivePrefix))

	for _, opt := range splitOptions(body) {
		key, value, hasValue := strings.Cut(opt, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case !hasValue && (key == "static" || key == "no_drop" || key == "unsafe_drop"):
			if d.Mode != ModeUnset {
				diags.add(pos, "multiple modes specified")
				continue
			}
			d.Mode = map[string]Mode{"static": ModeStatic, "no_drop": ModeNoDrop, "unsafe_drop": ModeUnsafeDrop}[key]
		case !hasValue && key == "union":
			d.Union = true
		case hasValue && key == "bound" && value != "":
			if d.Bound != "" {
				diags.add(pos, "multiple bounds specified")
				continue
			}
			d.Bound = value
		case hasValue && key == "heap" && value != "":
			if d.Heap != "" {
				diags.add(pos, "multiple heap parameters specified")
				continue
			}
			d.Heap = value
		default:
			diags.add(pos, "unknown option %q", opt)
		}
	}
	if d.Mode == ModeUnset {
		diags.add(pos, "deriving Collect requires a mode (static, no_drop, or unsafe_drop)")
	}
	return d, diags
}

// splitOptions splits on top-level commas; commas inside brackets belong to
// an instantiation such as bound=Pair[A, B].
func splitOptions(s string) []string {
	var opts []string
	depth, start := 0, 0
	flush := func(end int) {
		if opt := strings.TrimSpace(s[start:end]); opt != "" {
			opts = append(opts, opt)
		}
	}
	for i, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return opts
}
