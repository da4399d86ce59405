package permissions

import (
	"fmt"

	"fount"
)

// Validator is a pure predicate over the document(s) touched by a request,
// expressed as a small expression tree with a fixed vocabulary — the
// gateway never evaluates user-supplied code. Supported ops:
//
//	{"op": "all_of", "args": [...]}          every arg holds
//	{"op": "any_of", "args": [...]}          at least one arg holds
//	{"op": "not", "args": [expr]}            arg does not hold
//	{"op": "eq", "path": [...], "value": v}  document field equals literal
//	{"op": "user", "path": [...]}            document field equals account id
//	{"op": "exists", "path": [...]}          document field is present
//	{"op": "unchanged", "path": [...]}       field equal in old and new doc
//
// Field ops read the new document when present, else the old one; a missing
// field simply fails the predicate. Evaluation cannot raise.
type Validator struct {
	root vnode
}

type vnode struct {
	op    string
	args  []vnode
	path  []string
	value any
}

// ParseValidator builds the predicate from its document form.
func ParseValidator(doc any) (*Validator, error) {
	root, err := parseVNode(doc)
	if err != nil {
		return nil, err
	}
	return &Validator{root: root}, nil
}

func parseVNode(doc any) (vnode, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return vnode{}, fmt.Errorf("validator node must be an object, got %T", doc)
	}
	op, _ := obj["op"].(string)
	node := vnode{op: op, value: obj["value"]}

	if raw, ok := obj["path"].([]any); ok {
		node.path = make([]string, len(raw))
		for n, seg := range raw {
			s, ok := seg.(string)
			if !ok {
				return vnode{}, fmt.Errorf("op %q: path segment %d is not a string", op, n)
			}
			node.path[n] = s
		}
	}
	if raw, ok := obj["args"].([]any); ok {
		node.args = make([]vnode, len(raw))
		for n, sub := range raw {
			arg, err := parseVNode(sub)
			if err != nil {
				return vnode{}, err
			}
			node.args[n] = arg
		}
	}

	switch op {
	case "all_of", "any_of":
		if len(node.args) == 0 {
			return vnode{}, fmt.Errorf("op %q: no args", op)
		}
	case "not":
		if len(node.args) != 1 {
			return vnode{}, fmt.Errorf("op not: want 1 arg, got %d", len(node.args))
		}
	case "eq", "user", "exists", "unchanged":
		if len(node.path) == 0 {
			return vnode{}, fmt.Errorf("op %q: missing path", op)
		}
	default:
		return vnode{}, fmt.Errorf("unknown validator op %q", op)
	}
	return node, nil
}

// Eval applies the predicate to a document pair: oldDoc is the stored
// document (nil for inserts and reads), newDoc the incoming one (nil for
// reads and removes).
func (v *Validator) Eval(account fount.Account, oldDoc, newDoc fount.Document) bool {
	return v.root.eval(account, oldDoc, newDoc)
}

func (n vnode) eval(account fount.Account, oldDoc, newDoc fount.Document) bool {
	switch n.op {
	case "all_of":
		for _, arg := range n.args {
			if !arg.eval(account, oldDoc, newDoc) {
				return false
			}
		}
		return true
	case "any_of":
		for _, arg := range n.args {
			if arg.eval(account, oldDoc, newDoc) {
				return true
			}
		}
		return false
	case "not":
		return !n.args[0].eval(account, oldDoc, newDoc)
	case "eq":
		field, ok := lookupField(subject(oldDoc, newDoc), n.path)
		return ok && equalValue(field, n.value)
	case "user":
		field, ok := lookupField(subject(oldDoc, newDoc), n.path)
		return ok && equalValue(field, account.ID)
	case "exists":
		_, ok := lookupField(subject(oldDoc, newDoc), n.path)
		return ok
	case "unchanged":
		if oldDoc == nil || newDoc == nil {
			return true // nothing to preserve
		}
		before, okOld := lookupField(oldDoc, n.path)
		after, okNew := lookupField(newDoc, n.path)
		if okOld != okNew {
			return false
		}
		return !okOld || equalValue(before, after)
	default:
		return false
	}
}

func subject(oldDoc, newDoc fount.Document) fount.Document {
	if newDoc != nil {
		return newDoc
	}
	return oldDoc
}

func lookupField(doc fount.Document, path []string) (any, bool) {
	var cur any = map[string]any(doc)
	if doc == nil {
		return nil, false
	}
	for _, seg := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
