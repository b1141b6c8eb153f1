package diff

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

type ChangeType string

const (
	ValueChanged ChangeType = "value_changed"
	TypeChanged  ChangeType = "type_changes"
	KeyAdded     ChangeType = "dictionary_item_added"
	KeyRemoved   ChangeType = "dictionary_item_removed"
	ItemAdded    ChangeType = "iterable_item_added"
	ItemRemoved  ChangeType = "iterable_item_removed"
)

const rootPathLabel = "root"

// Step is one hop from a container to a child: a mapping key or a sequence index.
type Step struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Step) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	if strings.Contains(s.Key, "'") {
		return `["` + s.Key + `"]`
	}
	return "['" + s.Key + "']"
}

type Path []Step

func (p Path) String() string {
	var b strings.Builder
	b.WriteString(rootPathLabel)
	for _, step := range p {
		b.WriteString(step.String())
	}
	return b.String()
}

func (p Path) child(step Step) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, step)
}

type Change struct {
	Type     ChangeType `json:"type"`
	Path     Path       `json:"-"`
	OldValue any        `json:"old_value,omitempty"`
	NewValue any        `json:"new_value,omitempty"`
	OldType  string     `json:"old_type,omitempty"`
	NewType  string     `json:"new_type,omitempty"`
}

func (c Change) MarshalJSON() ([]byte, error) {
	type plain Change
	return json.Marshal(struct {
		plain
		Path string `json:"path"`
	}{plain: plain(c), Path: c.Path.String()})
}

type Result struct {
	Changes []Change
}

func (r Result) Empty() bool {
	return len(r.Changes) == 0
}

// Compare reports how b differs from a. Mapping keys are compared regardless of
// order, sequences index by index. A missing key and a null value are different.
func Compare(a, b any) Result {
	var changes []Change
	walk(normalize(a), normalize(b), Path{}, &changes)
	return Result{Changes: changes}
}

func walk(a, b any, path Path, out *[]Change) {
	ta, tb := typeName(a), typeName(b)
	if ta != tb {
		*out = append(*out, Change{Type: TypeChanged, Path: path, OldValue: a, NewValue: b, OldType: ta, NewType: tb})
		return
	}

	switch left := a.(type) {
	case map[string]any:
		right := b.(map[string]any)
		keys := make([]string, 0, len(left)+len(right))
		for key := range left {
			keys = append(keys, key)
		}
		for key := range right {
			if _, ok := left[key]; !ok {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			lv, inLeft := left[key]
			rv, inRight := right[key]
			step := path.child(Step{Key: key})
			switch {
			case !inLeft:
				*out = append(*out, Change{Type: KeyAdded, Path: step, NewValue: rv})
			case !inRight:
				*out = append(*out, Change{Type: KeyRemoved, Path: step, OldValue: lv})
			default:
				walk(lv, rv, step, out)
			}
		}
	case []any:
		right := b.([]any)
		common := min(len(left), len(right))
		for i := 0; i < common; i++ {
			walk(left[i], right[i], path.child(Step{Index: i, IsIndex: true}), out)
		}
		for i := common; i < len(left); i++ {
			*out = append(*out, Change{Type: ItemRemoved, Path: path.child(Step{Index: i, IsIndex: true}), OldValue: left[i]})
		}
		for i := common; i < len(right); i++ {
			*out = append(*out, Change{Type: ItemAdded, Path: path.child(Step{Index: i, IsIndex: true}), NewValue: right[i]})
		}
	case nil:
	default:
		if a != b {
			*out = append(*out, Change{Type: ValueChanged, Path: path, OldValue: a, NewValue: b})
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return "unknown"
}

// normalize brings arbitrary Go values into the JSON value space so that, for
// example, int(1) and float64(1) compare equal.
func normalize(v any) any {
	switch v.(type) {
	case nil, bool, float64, string:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
