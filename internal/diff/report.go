package diff

// Document groups changes the way DeepDiff serializes them, which is what
// existing diff viewers consume:
//
//	values_changed           path -> {old_value, new_value}
//	type_changes             path -> {old_type, new_type, old_value, new_value}
//	dictionary_item_added    [path, ...]
//	dictionary_item_removed  [path, ...]
//	iterable_item_added      path -> value
//	iterable_item_removed    path -> value
func (r Result) Document() map[string]any {
	doc := map[string]any{}
	group := func(name string) map[string]any {
		existing, ok := doc[name].(map[string]any)
		if !ok {
			existing = map[string]any{}
			doc[name] = existing
		}
		return existing
	}
	list := func(name, path string) {
		existing, _ := doc[name].([]string)
		doc[name] = append(existing, path)
	}

	for _, change := range r.Changes {
		path := change.Path.String()
		switch change.Type {
		case ValueChanged:
			group("values_changed")[path] = map[string]any{"old_value": change.OldValue, "new_value": change.NewValue}
		case TypeChanged:
			group("type_changes")[path] = map[string]any{
				"old_type":  change.OldType,
				"new_type":  change.NewType,
				"old_value": change.OldValue,
				"new_value": change.NewValue,
			}
		case KeyAdded:
			list("dictionary_item_added", path)
		case KeyRemoved:
			list("dictionary_item_removed", path)
		case ItemAdded:
			group("iterable_item_added")[path] = change.NewValue
		case ItemRemoved:
			group("iterable_item_removed")[path] = change.OldValue
		}
	}
	return doc
}

// Node is one position in the change tree. Change is set where an operation
// applies; intermediate nodes only carry children.
type Node struct {
	Step     string  `json:"step"`
	Path     string  `json:"path"`
	Change   *Change `json:"change,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Tree arranges the changes under a root node following their paths.
func (r Result) Tree() *Node {
	root := &Node{Step: rootPathLabel, Path: rootPathLabel}
	for i := range r.Changes {
		change := r.Changes[i]
		node := root
		for depth, step := range change.Path {
			label := step.String()
			var next *Node
			for _, child := range node.Children {
				if child.Step == label {
					next = child
					break
				}
			}
			if next == nil {
				next = &Node{Step: label, Path: change.Path[:depth+1].String()}
				node.Children = append(node.Children, next)
			}
			node = next
		}
		node.Change = &change
	}
	return root
}
