package workflow

import "fmt"

// FieldLookup resolves field ids across a whole process.
type FieldLookup interface {
	LookupField(id string) (Field, bool)
}

// FieldIndex is a FieldLookup over a snapshot of fields.
type FieldIndex map[string]Field

func NewFieldIndex(fields []Field) FieldIndex {
	idx := make(FieldIndex, len(fields))
	for _, f := range fields {
		idx[f.ID] = f
	}
	return idx
}

func (idx FieldIndex) LookupField(id string) (Field, bool) {
	f, ok := idx[id]
	return f, ok
}

// IsDone decides whether a field counts toward its step being complete.
// Dossier fields resolve their references through lookup; a reference that
// does not resolve, or that loops back onto a dossier being evaluated, is
// not done.
func IsDone(f Field, lookup FieldLookup) bool {
	r := resolver{lookup: lookup}
	return r.done(f)
}

// resolver memoises done-ness by field id, so dossiers sharing references
// resolve each one once. A dossier on a reference cycle is never done
// whichever path reaches it, which keeps memoised results path independent.
type resolver struct {
	lookup   FieldLookup
	visiting map[string]bool
	memo     map[string]bool
}

func (r *resolver) done(f Field) bool {
	switch f.Type {
	case FieldTaskList:
		if len(f.Items) == 0 {
			return false
		}
		for _, it := range f.Items {
			if it.Status != ItemDone && it.Status != ItemWontDo {
				return false
			}
		}
		return true
	case FieldTask:
		return f.TaskStatus == TaskAccepted
	case FieldDossier:
		if len(f.DossierFieldIDs) == 0 || r.lookup == nil {
			return false
		}
		if r.visiting == nil {
			r.visiting = map[string]bool{}
			r.memo = map[string]bool{}
		}
		if r.visiting[f.ID] {
			return false
		}
		r.visiting[f.ID] = true
		defer delete(r.visiting, f.ID)
		for _, id := range f.DossierFieldIDs {
			done, seen := r.memo[id]
			if !seen {
				ref, ok := r.lookup.LookupField(id)
				done = ok && r.done(ref)
				r.memo[id] = done
			}
			if !done {
				return false
			}
		}
		return true
	default:
		return f.Status == FieldClosed || f.Status == FieldSkipped
	}
}

// CheckDossierReferences validates a proposed reference set for dossier field
// fieldID: every id must resolve and no chain of dossier references may lead
// back to fieldID.
func CheckDossierReferences(fieldID string, refs []string, lookup FieldLookup) error {
	for _, id := range refs {
		if id == fieldID {
			return fmt.Errorf("%w: field %s references itself", ErrCyclicDossierReference, fieldID)
		}
		if _, ok := lookup.LookupField(id); !ok {
			return fmt.Errorf("dossier reference %s: %w", id, ErrNotFound)
		}
	}
	seen := map[string]bool{}
	stack := append([]string(nil), refs...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := lookup.LookupField(id)
		if !ok || f.Type != FieldDossier {
			continue
		}
		for _, next := range f.DossierFieldIDs {
			if next == fieldID {
				return fmt.Errorf("%w: %s reaches %s through %s", ErrCyclicDossierReference, fieldID, fieldID, id)
			}
			stack = append(stack, next)
		}
	}
	return nil
}

// DossierDependents lists the dossier fields whose done-ness may change when
// fieldID changes, nearest first.
func DossierDependents(fieldID string, fields []Field) []string {
	reverse := map[string][]string{}
	for _, f := range fields {
		if f.Type != FieldDossier {
			continue
		}
		for _, ref := range f.DossierFieldIDs {
			reverse[ref] = append(reverse[ref], f.ID)
		}
	}
	var out []string
	seen := map[string]bool{fieldID: true}
	queue := []string{fieldID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range reverse[id] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	return out
}

// DedupeIDs drops empty and repeated ids, keeping first occurrences.
func DedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
