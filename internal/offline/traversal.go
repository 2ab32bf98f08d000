package offline

import (
	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// DataStackLevel is one frame of the explicit (widget, data-context)
// stack: the row or field value a nested widget resolves field
// references against, plus the node-metadata map in scope at that level.
// A nested widget's field reference resolves against the nearest
// enclosing frame, searched innermost-first — the context resolution
// rule original_source/.../offline.rs leaves implicit in its recursive
// lookup and SPEC_FULL.md makes explicit.
type DataStackLevel struct {
	Data     TreeNode
	NodeMeta map[string]NodeMeta
}

// dataStack is a slice of levels, innermost (most recently pushed) last.
type dataStack []DataStackLevel

// push returns a new stack with row appended as the innermost frame,
// never mutating the receiver — each stack entry in the traversal is
// independently reachable from sibling branches.
func (s dataStack) push(row DataStackLevel) dataStack {
	next := make(dataStack, len(s), len(s)+1)
	copy(next, s)
	return append(next, row)
}

// maybeGetField resolves a field name against the nearest enclosing
// record frame, searching from the innermost frame outward; the name is
// matched as one record key and is not split on dots. Returns
// (zero, false) if no frame in scope has a record with that key, matching the original's maybe_get_field "stop at first miss"
// semantics per frame rather than merging fields across frames.
func maybeGetField(path string, stack dataStack) (TreeNode, bool) {
	for i := len(stack) - 1; i >= 0; i-- {
		if v, ok := lookupField(stack[i].Data, path); ok {
			return v, true
		}
	}
	return TreeNode{}, false
}

func lookupField(t TreeNode, path string) (TreeNode, bool) {
	if t.Record == nil {
		return TreeNode{}, false
	}
	v, ok := t.Record[path]
	return v, ok
}

// maybeGetFieldOrLiteral resolves a FieldOrLiteral against the stack: a
// literal resolves to itself regardless of context.
func maybeGetFieldOrLiteral(cfg FieldOrLiteral, stack dataStack) (TreeNode, bool) {
	if cfg.Literal != nil {
		n := *cfg.Literal
		return TreeNode{Scalar: &n}, true
	}
	return maybeGetField(cfg.Field, stack)
}

// maybeGetMeta finds the NodeMeta recorded for n in the nearest enclosing
// frame that has one, searching innermost-first.
func maybeGetMeta(stack dataStack, n node.Node) (NodeMeta, bool) {
	key := n.Fingerprint()
	for i := len(stack) - 1; i >= 0; i-- {
		if m, ok := stack[i].NodeMeta[key]; ok {
			return m, true
		}
	}
	return NodeMeta{}, false
}

// unwrapValueMediaHash extracts a FileHash from a resolved scalar,
// failing with a KindInput error if the scalar is not a File node — a
// media widget wired to a non-file field is a view-definition bug, not a
// transient condition.
func unwrapValueMediaHash(t TreeNode) (node.FileHash, error) {
	if t.Scalar == nil {
		return "", werr.Inputf("data", "media widget field did not resolve to a scalar")
	}
	hash, ok := t.Scalar.File()
	if !ok {
		return "", werr.Inputf("data", "media widget field resolved to a non-file node")
	}
	return hash, nil
}

// dataToQueryParams builds a query's bound parameters from the view
// definition's declared parameter keys, resolving each against the
// current data stack. Returns an empty map (not an error) if any key
// fails to resolve, mirroring the original's "bail to Default on first
// miss" behaviour — a query whose parameters are not yet in scope is
// simply not runnable yet at this stack frame.
func dataToQueryParams(view *ClientView, queryID string, stack dataStack) map[string]node.Node {
	keys := view.QueryParameterKeys[queryID]
	params := make(map[string]node.Node, len(keys))
	for _, k := range keys {
		v, ok := maybeGetField(k, stack)
		if !ok || v.Scalar == nil {
			return map[string]node.Node{}
		}
		params[k] = *v.Scalar
	}
	return params
}
