package prompts

import "strings"

// Reference prefixes. PrefixDefault is an alias for PrefixBuiltin.
const (
	PrefixFile    = "file:"
	PrefixCustom  = "custom:"
	PrefixBuiltin = "shippopotamus:"
	PrefixDefault = "builtin:"
)

// RefKind selects how a reference is resolved.
type RefKind int

const (
	RefAuto    RefKind = iota // Custom first, then built-in
	RefFile                   // Literal file read
	RefCustom                 // Custom namespace only
	RefBuiltin                // Built-in catalog only
)

// String returns the kind name used in logs.
func (k RefKind) String() string {
	switch k {
	case RefFile:
		return "file"
	case RefCustom:
		return "custom"
	case RefBuiltin:
		return "built-in"
	default:
		return "auto"
	}
}

// Reference is a parsed prompt reference.
type Reference struct {
	Raw   string
	Kind  RefKind
	Value string // Name, or path for RefFile
}

// ParseRef parses ref according to the reference grammar, checked in
// priority order: file:, custom:, shippopotamus: (or builtin:), then a
// bare name. A colon-delimited prefix outside that set is rejected so a
// mistyped prefix never silently falls through to a name lookup.
func ParseRef(ref string) (Reference, error) {
	raw := ref
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, InvalidReferencef("empty prompt reference")
	}

	for _, p := range []struct {
		prefix string
		kind   RefKind
	}{
		{PrefixFile, RefFile},
		{PrefixCustom, RefCustom},
		{PrefixBuiltin, RefBuiltin},
		{PrefixDefault, RefBuiltin},
	} {
		if !strings.HasPrefix(ref, p.prefix) {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(ref, p.prefix))
		if value == "" {
			return Reference{}, InvalidReferencef("reference %q has an empty %s", raw, targetNoun(p.kind))
		}
		return Reference{Raw: raw, Kind: p.kind, Value: value}, nil
	}

	if i := strings.Index(ref, ":"); i >= 0 {
		return Reference{}, InvalidReferencef("unknown reference prefix %q in %q (valid: file:, custom:, shippopotamus:)", ref[:i+1], raw)
	}
	return Reference{Raw: raw, Kind: RefAuto, Value: ref}, nil
}

func targetNoun(k RefKind) string {
	if k == RefFile {
		return "path"
	}
	return "name"
}
