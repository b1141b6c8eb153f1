package thread

import "formledger/api/internal/store"

// Build arranges flat response records into a forest. Inputs are not mutated:
// every node is a copy and children keep input order. A record whose parent is
// absent from records is returned as a root.
func Build(records []store.Response) []*store.Response {
	arena := make([]store.Response, len(records))
	byID := make(map[string]*store.Response, len(records))
	for i, record := range records {
		arena[i] = record
		arena[i].Children = []*store.Response{}
		if record.ParentID != nil {
			parent := *record.ParentID
			arena[i].ParentID = &parent
		}
		byID[record.ID] = &arena[i]
	}

	roots := make([]*store.Response, 0)
	for i := range arena {
		node := &arena[i]
		if node.ParentID != nil {
			if parent, ok := byID[*node.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}
