package wire

import (
	"encoding/json"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/query"
	"github.com/weftgraph/weft/internal/werr"
)

// The query compiler's Chain (internal/query/ast.go) is a tree of Go
// interfaces (Step, Filter, Suffix, Value, StrValue) with no JSON
// encoding of its own — it is built directly by Go callers today. The
// wire layer is the first caller that needs to decode one from an
// untrusted request body, so the discriminated-union JSON shapes below
// (a "kind" string tag per interface) live here rather than in
// internal/query, keeping the compiler's AST free of wire concerns.

type wireChain struct {
	Body      wireChainBody `json:"body"`
	Bind      string        `json:"bind,omitempty"`
	Subchains []wireChain   `json:"subchains,omitempty"`
}

type wireChainBody struct {
	Root  *wireChainRoot `json:"root,omitempty"`
	Steps []wireStep     `json:"steps,omitempty"`
}

type wireChainRoot struct {
	Kind   string         `json:"kind"` // "value" | "search"
	Value  *wireValue     `json:"value,omitempty"`
	Search *wireStrValue  `json:"search,omitempty"`
}

type wireStep struct {
	Kind string `json:"kind"` // "move" | "recurse" | "junction"

	// move
	Dir       string        `json:"dir,omitempty"` // "forward" | "backward"
	Predicate *wireStrValue `json:"predicate,omitempty"`
	First     bool          `json:"first,omitempty"`
	Filter    *wireFilter   `json:"filter,omitempty"`

	// recurse
	Subchain *wireChainBody `json:"subchain,omitempty"`

	// junction
	Type      string          `json:"type,omitempty"` // "and" | "or"
	Subchains []wireChainBody `json:"subchains,omitempty"`
}

type wireFilter struct {
	Kind string `json:"kind"` // "exists" | "junction"

	// exists
	ExistsSubchain *wireChainBody `json:"subchain,omitempty"`
	Suffix         *wireSuffix    `json:"suffix,omitempty"`
	Sense          string         `json:"sense,omitempty"` // "exists" | "doesnt_exist"

	// junction
	Type     string       `json:"type,omitempty"`
	Subexprs []wireFilter `json:"subexprs,omitempty"`
}

type wireSuffix struct {
	Kind    string        `json:"kind"` // "simple" | "like"
	Op      string        `json:"op,omitempty"`
	Value   *wireValue    `json:"value,omitempty"`
	Pattern *wireStrValue `json:"pattern,omitempty"`
}

type wireValue struct {
	Kind  string     `json:"kind"` // "literal" | "parameter"
	Node  *node.Node `json:"node,omitempty"`
	Param string     `json:"param,omitempty"`
}

type wireStrValue struct {
	Kind  string `json:"kind"` // "literal" | "parameter"
	Str   string `json:"str,omitempty"`
	Param string `json:"param,omitempty"`
}

func (w wireValue) toValue() (query.Value, error) {
	switch w.Kind {
	case "literal":
		if w.Node == nil {
			return nil, werr.Inputf("value", "literal value missing node")
		}
		return query.LiteralValue{Node: *w.Node}, nil
	case "parameter":
		if w.Param == "" {
			return nil, werr.Inputf("value", "parameter value missing name")
		}
		return query.ParameterValue{Name: w.Param}, nil
	default:
		return nil, werr.Inputf("value", "unrecognised value kind %q", w.Kind)
	}
}

func (w wireStrValue) toStrValue() (query.StrValue, error) {
	switch w.Kind {
	case "literal":
		return query.LiteralStrValue{Str: w.Str}, nil
	case "parameter":
		if w.Param == "" {
			return nil, werr.Inputf("value", "parameter string value missing name")
		}
		return query.ParameterStrValue{Name: w.Param}, nil
	default:
		return nil, werr.Inputf("value", "unrecognised string value kind %q", w.Kind)
	}
}

func (w wireSuffix) toSuffix() (query.Suffix, error) {
	switch w.Kind {
	case "simple":
		op, err := parseSuffixOp(w.Op)
		if err != nil {
			return nil, err
		}
		if w.Value == nil {
			return nil, werr.Inputf("suffix", "simple suffix missing value")
		}
		v, err := w.Value.toValue()
		if err != nil {
			return nil, err
		}
		return query.SimpleSuffix{Op: op, Value: v}, nil
	case "like":
		if w.Pattern == nil {
			return nil, werr.Inputf("suffix", "like suffix missing pattern")
		}
		p, err := w.Pattern.toStrValue()
		if err != nil {
			return nil, err
		}
		return query.LikeSuffix{Pattern: p}, nil
	default:
		return nil, werr.Inputf("suffix", "unrecognised suffix kind %q", w.Kind)
	}
}

func parseSuffixOp(op string) (query.SuffixOp, error) {
	switch op {
	case "=":
		return query.OpEq, nil
	case "!=":
		return query.OpNeq, nil
	case "<":
		return query.OpLt, nil
	case ">":
		return query.OpGt, nil
	case "<=":
		return query.OpLte, nil
	case ">=":
		return query.OpGte, nil
	default:
		return 0, werr.Inputf("op", "unrecognised suffix operator %q", op)
	}
}

func parseJunctionType(t string) (query.JunctionType, error) {
	switch t {
	case "and":
		return query.JunctionAnd, nil
	case "or":
		return query.JunctionOr, nil
	default:
		return 0, werr.Inputf("type", "unrecognised junction type %q", t)
	}
}

func (w wireFilter) toFilter() (query.Filter, error) {
	switch w.Kind {
	case "exists":
		if w.ExistsSubchain == nil {
			return nil, werr.Inputf("filter", "exists filter missing subchain")
		}
		body, err := w.ExistsSubchain.toChainBody()
		if err != nil {
			return nil, err
		}
		var suffix query.Suffix
		if w.Suffix != nil {
			suffix, err = w.Suffix.toSuffix()
			if err != nil {
				return nil, err
			}
		}
		sense := query.Exists
		if w.Sense == "doesnt_exist" {
			sense = query.DoesntExist
		}
		return query.ExistsFilter{Subchain: body, Suffix: suffix, Sense: sense}, nil
	case "junction":
		jt, err := parseJunctionType(w.Type)
		if err != nil {
			return nil, err
		}
		subexprs := make([]query.Filter, len(w.Subexprs))
		for i, sw := range w.Subexprs {
			f, err := sw.toFilter()
			if err != nil {
				return nil, err
			}
			subexprs[i] = f
		}
		return query.JunctionFilter{Type: jt, Subexprs: subexprs}, nil
	default:
		return nil, werr.Inputf("filter", "unrecognised filter kind %q", w.Kind)
	}
}

func (w wireStep) toStep() (query.Step, error) {
	switch w.Kind {
	case "move":
		dir := query.Forward
		if w.Dir == "backward" {
			dir = query.Backward
		}
		if w.Predicate == nil {
			return nil, werr.Inputf("step", "move step missing predicate")
		}
		pred, err := w.Predicate.toStrValue()
		if err != nil {
			return nil, err
		}
		var filter query.Filter
		if w.Filter != nil {
			filter, err = w.Filter.toFilter()
			if err != nil {
				return nil, err
			}
		}
		return query.MoveStep{Dir: dir, Predicate: pred, First: w.First, Filter: filter}, nil
	case "recurse":
		if w.Subchain == nil {
			return nil, werr.Inputf("step", "recurse step missing subchain")
		}
		body, err := w.Subchain.toChainBody()
		if err != nil {
			return nil, err
		}
		return query.RecurseStep{Subchain: body, First: w.First}, nil
	case "junction":
		jt, err := parseJunctionType(w.Type)
		if err != nil {
			return nil, err
		}
		subchains := make([]query.ChainBody, len(w.Subchains))
		for i, sc := range w.Subchains {
			body, err := sc.toChainBody()
			if err != nil {
				return nil, err
			}
			subchains[i] = body
		}
		return query.JunctionStep{Type: jt, Subchains: subchains}, nil
	default:
		return nil, werr.Inputf("step", "unrecognised step kind %q", w.Kind)
	}
}

func (w wireChainRoot) toChainRoot() (*query.ChainRoot, error) {
	switch w.Kind {
	case "value":
		if w.Value == nil {
			return nil, werr.Inputf("root", "value root missing value")
		}
		v, err := w.Value.toValue()
		if err != nil {
			return nil, err
		}
		return &query.ChainRoot{Kind: query.RootValue, Value: v}, nil
	case "search":
		if w.Search == nil {
			return nil, werr.Inputf("root", "search root missing search string")
		}
		s, err := w.Search.toStrValue()
		if err != nil {
			return nil, err
		}
		return &query.ChainRoot{Kind: query.RootSearch, Search: s}, nil
	default:
		return nil, werr.Inputf("root", "unrecognised chain root kind %q", w.Kind)
	}
}

func (w wireChainBody) toChainBody() (query.ChainBody, error) {
	var body query.ChainBody
	if w.Root != nil {
		root, err := w.Root.toChainRoot()
		if err != nil {
			return body, err
		}
		body.Root = root
	}
	body.Steps = make([]query.Step, len(w.Steps))
	for i, ws := range w.Steps {
		s, err := ws.toStep()
		if err != nil {
			return body, err
		}
		body.Steps[i] = s
	}
	return body, nil
}

func (w wireChain) toChain() (query.Chain, error) {
	var c query.Chain
	body, err := w.Body.toChainBody()
	if err != nil {
		return c, err
	}
	c.Body = body
	c.Bind = w.Bind
	c.Subchains = make([]query.Chain, len(w.Subchains))
	for i, sc := range w.Subchains {
		sub, err := sc.toChain()
		if err != nil {
			return c, err
		}
		c.Subchains[i] = sub
	}
	return c, nil
}

// decodeChain decodes raw JSON into a compiler Chain, translating every
// unrecognised discriminator into a KindInput error naming the offending
// field (spec section 7).
func decodeChain(raw json.RawMessage) (query.Chain, error) {
	var wc wireChain
	if err := json.Unmarshal(raw, &wc); err != nil {
		return query.Chain{}, werr.Input("query", err)
	}
	return wc.toChain()
}
