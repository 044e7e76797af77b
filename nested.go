package fastls

// GetAt returns the value at sub inside tree. It never fails: a malformed
// sub-path, a missing property or index, a hole, or a non-container
// intermediate all report ok == false.
func GetAt(tree Value, sub string, fold bool) (Value, bool) {
	steps, err := ParseSubPath(sub)
	if err != nil {
		return Value{}, false
	}
	return getSteps(tree, steps, fold)
}

func getSteps(node Value, steps []Step, fold bool) (Value, bool) {
	for _, st := range steps {
		var found bool
		node, found = child(node, st, fold)
		if !found {
			return Value{}, false
		}
	}
	if node.IsUndefined() {
		return Value{}, false
	}
	return node, true
}

func child(node Value, st Step, fold bool) (Value, bool) {
	if st.IsIndex {
		if node.kind != KindArray {
			return Value{}, false
		}
		return node.arr.At(st.Index)
	}
	if node.kind != KindObject {
		return Value{}, false
	}
	key, found := node.obj.resolveKey(st.Name, fold)
	if !found {
		return Value{}, false
	}
	return node.obj.Get(key)
}

// SetAt stores v at sub inside tree and returns the new tree. Containers
// mutated along the way are modified in place.
//
// Missing intermediates are created: objects for names, arrays for indexes.
// Intermediates of the wrong shape are replaced with a fresh container. Arrays
// are padded up to the target index with empty objects when the path continues
// below the index, and with undefined holes when the index is the last step.
func SetAt(tree Value, sub string, v Value, fold bool) (Value, error) {
	steps, err := ParseSubPath(sub)
	if err != nil {
		return tree, err
	}
	return setSteps(tree, steps, v, fold, sub)
}

func setSteps(node Value, steps []Step, v Value, fold bool, sub string) (Value, error) {
	if len(steps) == 0 {
		return v, nil
	}
	st, rest := steps[0], steps[1:]

	if st.IsIndex {
		if node.kind != KindArray {
			if st.Bare {
				return node, pathErrf(sub, "[%d] can only index an existing array, found %v", st.Index, node.kind)
			}
			node = EmptyArray()
		}
		arr := node.arr
		for len(arr.Items) < st.Index {
			if len(rest) > 0 {
				arr.Items = append(arr.Items, EmptyObject())
			} else {
				arr.Items = append(arr.Items, Undefined())
			}
		}
		if len(arr.Items) == st.Index {
			arr.Items = append(arr.Items, Undefined())
		}
		updated, err := setSteps(arr.Items[st.Index], rest, v, fold, sub)
		if err != nil {
			return node, err
		}
		arr.Items[st.Index] = updated
		return node, nil
	}

	if node.kind != KindObject {
		node = EmptyObject()
	}
	key, _ := node.obj.resolveKey(st.Name, fold)
	cur, _ := node.obj.Get(key)
	updated, err := setSteps(cur, rest, v, fold, sub)
	if err != nil {
		return node, err
	}
	node.obj.Set(key, updated)
	return node, nil
}

// DeleteAt removes the value at sub and returns the tree. It is a no-op when
// any intermediate is missing or not a container. Deleting an array element
// leaves an undefined hole; later elements keep their indexes. An empty sub
// deletes the whole tree.
func DeleteAt(tree Value, sub string, fold bool) Value {
	steps, err := ParseSubPath(sub)
	if err != nil {
		return tree
	}
	if len(steps) == 0 {
		return Undefined()
	}
	parent := tree
	for _, st := range steps[:len(steps)-1] {
		var found bool
		parent, found = child(parent, st, fold)
		if !found {
			return tree
		}
	}
	last := steps[len(steps)-1]
	switch {
	case last.IsIndex && parent.kind == KindArray:
		if last.Index < len(parent.arr.Items) {
			parent.arr.Items[last.Index] = Undefined()
		}
	case !last.IsIndex && parent.kind == KindObject:
		if key, found := parent.obj.resolveKey(last.Name, fold); found {
			parent.obj.Delete(key)
		}
	}
	return tree
}
