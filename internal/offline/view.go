// Package offline implements the offline-sync engine (component H): a
// client-side worker that walks a view definition, resolves every query
// and media reference it transitively touches, mirrors them into a local
// content-addressed directory tree, and reclaims files no longer
// referenced by any offline task. Grounded throughout on
// original_source/.../wasm/src/bin/libnonlink/offline.rs, adapted from
// the browser's Origin Private File System to a plain OS directory tree
// and from a tab-local worker lock to a cross-process one.
package offline

import "github.com/weftgraph/weft/internal/node"

// TreeNode is the client-side counterpart of query.Projected: a resolved
// query result value before it is bound into a widget's data context.
// Scalar and Record are mutually exclusive with Array; exactly one of
// the three is set.
type TreeNode struct {
	Scalar *node.Node
	Array  []TreeNode
	Record map[string]TreeNode
}

// NodeMeta carries per-node metadata returned alongside a query's rows,
// e.g. a File node's content-type, used by the media widget's mime-family
// dispatch without a second round trip.
type NodeMeta struct {
	Mimetype string `json:"mimetype,omitempty"`
}

// FieldOrLiteral is either a field path into the nearest enclosing data
// context, or a literal node. Used by Media and PlayButton widgets.
type FieldOrLiteral struct {
	Field   string
	Literal *node.Node
}

// QueryOrField is either a named query (resolved against the server) or
// a field path that already holds an array in the enclosing data context.
// Used by a DataRows widget's and the view root's "data" slot.
type QueryOrField struct {
	Query string
	Field string
}

func (q QueryOrField) isQuery() bool { return q.Field == "" }

// DataRowsLayout is how a DataRows widget lays out its per-row children:
// Unaligned wraps each row in a single child widget; Table repeats a
// fixed set of column widgets per row.
type DataRowsLayout struct {
	Unaligned *Widget
	Table     []Widget
}

// WidgetKind tags which variant a Widget holds.
type WidgetKind string

const (
	WidgetLayout     WidgetKind = "layout"
	WidgetDataRows   WidgetKind = "data_rows"
	WidgetText       WidgetKind = "text"
	WidgetDate       WidgetKind = "date"
	WidgetTime       WidgetKind = "time"
	WidgetDatetime   WidgetKind = "datetime"
	WidgetColor      WidgetKind = "color"
	WidgetMedia      WidgetKind = "media"
	WidgetIcon       WidgetKind = "icon"
	WidgetPlayButton WidgetKind = "play_button"
	WidgetSpace      WidgetKind = "space"
	WidgetNode       WidgetKind = "node"
)

// Widget is one node of a view's widget tree. Only the fields relevant to
// its Kind are populated; the rest are zero. This mirrors the Rust
// original's enum Widget, flattened into a single struct since Go has no
// sum types — the offline walker switches on Kind exactly as the
// original matches on the enum variant.
type Widget struct {
	Kind WidgetKind

	// Layout
	Elements []Widget

	// DataRows
	Data      QueryOrField
	RowWidget DataRowsLayout

	// Media
	MediaData FieldOrLiteral

	// PlayButton
	MediaFileField string
}

// WidgetRootDataRows is the view's root: like a DataRows widget but with
// an optional expansion sibling rendered alongside the row body (e.g. a
// "load more" affordance in the live UI, irrelevant offline but still
// walked since it may reference further media).
type WidgetRootDataRows struct {
	Data             QueryOrField
	ElementBody      Widget
	ElementExpansion *Widget
}

// ClientView is a view definition: its root widget plus, for each query
// id it references, the ordered list of field paths whose resolved
// values become that query's bound parameters.
type ClientView struct {
	ID                 string
	QueryParameterKeys map[string][]string
	Root               WidgetRootDataRows
}

// MinistateView identifies one instantiation of a view: which view
// definition, and the top-level parameters it was opened with (e.g. a
// specific album id). This is the payload offline tasks are keyed by.
type MinistateView struct {
	ID     string               `json:"id"`
	Params map[string]node.Node `json:"params"`
}
