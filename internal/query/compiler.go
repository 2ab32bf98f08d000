package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// stepResult names the CTE a step (or root) compiled to and its two
// addressable columns: start (the node identifier that entered the step,
// propagated unchanged from the chain's head) and end (the node the step
// produced).
type stepResult struct {
	table    string
	colStart string
	colEnd   string
	plural   bool
}

type cte struct {
	name      string
	body      string
	recursive bool
}

// compileState accumulates CTEs and bound arguments across one call to
// Compile, and caches root compilations so an identical root is emitted
// once and referenced by name wherever it recurs. Step compilations are
// not cached: reuseSteps is allocated but never consulted, so every step
// emits its own CTE.
type compileState struct {
	params map[string]node.Node
	args   []any

	ctes    []cte
	unique  int
	reuseRoots map[string]stepResult
	reuseSteps map[string]stepResult
}

func newCompileState(params map[string]node.Node) *compileState {
	return &compileState{
		params:     params,
		reuseRoots: make(map[string]stepResult),
		reuseSteps: make(map[string]stepResult),
	}
}

func (s *compileState) bind(v any) string {
	s.args = append(s.args, v)
	return "?"
}

func (s *compileState) nextName(kind string) string {
	s.unique++
	return fmt.Sprintf("seg%d_%s", s.unique, kind)
}

func (s *compileState) addCTE(name, body string) {
	s.ctes = append(s.ctes, cte{name: name, body: body})
}

func (s *compileState) addRecursiveCTE(name, body string) {
	s.ctes = append(s.ctes, cte{name: name, body: body, recursive: true})
}

// Compile turns chain into a SQL statement and its positional arguments,
// ready for sql.DB.QueryContext. The statement projects one row per
// distinct chain end, a reserved page_key column, and one `_<bind>`
// column per named bind in chain (including nested subchains).
func Compile(chain Chain, params map[string]node.Node) (sqlText string, args []any, err error) {
	s := newCompileState(params)

	res, err := s.compileChainBody(nil, chain.Body)
	if err != nil {
		return "", nil, err
	}
	projections, joins, err := s.collectProjections(&res, chain)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("WITH RECURSIVE ")
	for i, c := range s.ctes {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "%s AS (\n%s\n)", c.name, c.body)
	}
	b.WriteString("\nSELECT ")
	fmt.Fprintf(&b, "%s.%s AS page_key", res.table, res.colEnd)
	for _, p := range projections {
		b.WriteString(",\n  ")
		b.WriteString(p.sql)
		b.WriteString(" AS ")
		b.WriteString("_" + p.name)
	}
	fmt.Fprintf(&b, "\nFROM %s", res.table)
	for _, j := range joins {
		b.WriteString("\n")
		b.WriteString(j)
	}
	fmt.Fprintf(&b, "\nGROUP BY %s.%s", res.table, res.colEnd)

	return b.String(), s.args, nil
}

type projection struct {
	name string
	sql  string
}

// collectProjections walks chain's bind and subchains, building the
// json_object(...) envelope expression for each, wrapping plural
// subchains in json_group_array per spec section 4.D "Output shape". It
// also returns the LEFT JOINs needed to bring each subchain's table into
// the enclosing SELECT, joined on the subchain's start column (which, by
// construction, carries the parent level's end value).
func (s *compileState) collectProjections(level *stepResult, chain Chain) ([]projection, []string, error) {
	var projections []projection
	var joins []string
	if chain.Bind != "" {
		projections = append(projections, projection{
			name: chain.Bind,
			sql:  s.envelopeExpr(level.table, level.colEnd, false),
		})
	}
	for _, sub := range chain.Subchains {
		subRes, err := s.compileChainBody(level, sub.Body)
		if err != nil {
			return nil, nil, err
		}
		joins = append(joins, fmt.Sprintf(
			"LEFT JOIN %s ON %s.%s = %s.%s",
			subRes.table, subRes.table, subRes.colStart, level.table, level.colEnd,
		))
		if sub.Bind != "" {
			projections = append(projections, projection{
				name: sub.Bind,
				sql:  s.envelopeExpr(subRes.table, subRes.colEnd, subRes.plural),
			})
		}
		subProjections, subJoins, err := s.collectProjections(&subRes, Chain{Subchains: sub.Subchains})
		if err != nil {
			return nil, nil, err
		}
		projections = append(projections, subProjections...)
		joins = append(joins, subJoins...)
	}
	return projections, joins, nil
}

// missingSentinelTag is an envelope "t" tag no real node.Kind ever takes,
// substituted via SQL ifnull() when a LEFT JOINed subchain produced no
// row. It lets the executor distinguish "no result" from a bound
// projection whose value is a genuine null node (tagged "null").
const missingSentinelTag = "missing"

// envelopeExpr builds the json_object(kind, ...) wrapper the executor
// decodes: "scalar" wraps a single value envelope (the stored {"t","v"}
// node envelope, or the missing-sentinel envelope when the LEFT JOIN
// produced no row), "array" wraps a json_group_array of such envelopes.
func (s *compileState) envelopeExpr(table, col string, plural bool) string {
	valueExpr := fmt.Sprintf(
		"json_extract(ifnull(%s.%s, json_object('t','%s','v',null)), '$')",
		table, col, missingSentinelTag,
	)
	inner := fmt.Sprintf("json_object('scalar', %s)", valueExpr)
	if plural {
		return fmt.Sprintf("json_object('array', json_group_array(%s))", inner)
	}
	return inner
}

// compileChainBody compiles body's root (if set) or uses previous as the
// chain's starting point, then folds steps in order.
func (s *compileState) compileChainBody(previous *stepResult, body ChainBody) (stepResult, error) {
	cur := previous
	if body.Root != nil {
		r, err := s.compileRoot(body.Root)
		if err != nil {
			return stepResult{}, err
		}
		cur = &r
	}
	for _, step := range body.Steps {
		r, err := s.compileStep(cur, step)
		if err != nil {
			return stepResult{}, err
		}
		cur = &r
	}
	if cur == nil {
		return stepResult{}, ErrRecurseWithoutRoot
	}
	return *cur, nil
}

func (s *compileState) compileRoot(root *ChainRoot) (stepResult, error) {
	switch root.Kind {
	case RootValue:
		n, err := root.Value.resolve(s.params)
		if err != nil {
			return stepResult{}, err
		}
		envJSON, err := n.MarshalJSON()
		if err != nil {
			return stepResult{}, ErrDecode(err)
		}
		key := "value:" + string(envJSON)
		if cached, ok := s.reuseRoots[key]; ok {
			return cached, nil
		}
		name := s.nextName("root_value")
		arg := s.bind(string(envJSON))
		s.addCTE(name, fmt.Sprintf("SELECT %s AS start, %s AS end", arg, arg))
		out := stepResult{table: name, colStart: "start", colEnd: "end", plural: false}
		s.reuseRoots[key] = out
		return out, nil
	case RootSearch:
		str, err := root.Search.resolveStr(s.params)
		if err != nil {
			return stepResult{}, err
		}
		matchExpr, err := compileSearchQuery(str)
		if err != nil {
			return stepResult{}, err
		}
		key := "search:" + matchExpr
		if cached, ok := s.reuseRoots[key]; ok {
			return cached, nil
		}
		name := s.nextName("root_search")
		arg := s.bind(matchExpr)
		s.addCTE(name, fmt.Sprintf(`
			SELECT nm.node AS start, nm.node AS end
			FROM node_meta_fts
			JOIN node_meta AS nm ON nm.rowid = node_meta_fts.rowid
			WHERE node_meta_fts MATCH %s
		`, arg))
		out := stepResult{table: name, colStart: "start", colEnd: "end", plural: true}
		s.reuseRoots[key] = out
		return out, nil
	default:
		return stepResult{}, werrUnreachable("chain root")
	}
}

func (s *compileState) compileStep(previous *stepResult, step Step) (stepResult, error) {
	switch st := step.(type) {
	case MoveStep:
		return s.compileMove(previous, st)
	case RecurseStep:
		return s.compileRecurse(previous, st)
	case JunctionStep:
		return s.compileJunction(previous, st)
	default:
		return stepResult{}, werrUnreachable("step")
	}
}

func (s *compileState) compileMove(previous *stepResult, step MoveStep) (stepResult, error) {
	pred, err := step.Predicate.resolveStr(s.params)
	if err != nil {
		return stepResult{}, err
	}

	startCol, endCol := "subject", "object"
	if step.Dir == Backward {
		startCol, endCol = "object", "subject"
	}

	name := s.nextName("move")
	var b strings.Builder
	startExpr := fmt.Sprintf("primary.%s", startCol)
	if previous != nil {
		startExpr = fmt.Sprintf("prev.%s", previous.colStart)
	}
	if step.First {
		fmt.Fprintf(&b, "SELECT start, end FROM (\n")
		fmt.Fprintf(&b, "  SELECT %s AS start, primary.%s AS end,\n", startExpr, endCol)
		fmt.Fprintf(&b, "         ROW_NUMBER() OVER (PARTITION BY %s ORDER BY primary.%s ASC) AS rn\n", startExpr, endCol)
		fmt.Fprintf(&b, "  FROM %s AS primary\n", graph.CurrentEdgesSQL)
		if previous != nil {
			fmt.Fprintf(&b, "  INNER JOIN %s AS prev ON prev.%s = primary.%s\n", previous.table, previous.colEnd, startCol)
		}
		fmt.Fprintf(&b, "  WHERE primary.predicate = %s\n", s.bind(pred))
		fmt.Fprintf(&b, ") WHERE rn = 1")
	} else {
		fmt.Fprintf(&b, "SELECT %s AS start, primary.%s AS end\n", startExpr, endCol)
		fmt.Fprintf(&b, "FROM %s AS primary\n", graph.CurrentEdgesSQL)
		if previous != nil {
			fmt.Fprintf(&b, "INNER JOIN %s AS prev ON prev.%s = primary.%s\n", previous.table, previous.colEnd, startCol)
		}
		fmt.Fprintf(&b, "WHERE primary.predicate = %s", s.bind(pred))
	}
	s.addCTE(name, b.String())
	out := stepResult{table: name, colStart: "start", colEnd: "end", plural: !step.First}

	if step.Filter != nil {
		filtered, err := s.applyFilter(out, step.Filter)
		if err != nil {
			return stepResult{}, err
		}
		filtered.plural = out.plural
		return filtered, nil
	}
	return out, nil
}

// applyFilter wraps base in a CTE that keeps only rows satisfying filter,
// evaluated as an EXISTS subquery on base.end (spec section 4.D "Filter
// compilation").
func (s *compileState) applyFilter(base stepResult, filter Filter) (stepResult, error) {
	name := base.table + "__filter"
	synthPrev := stepResult{table: base.table, colStart: base.colEnd, colEnd: base.colEnd}
	cond, err := s.compileFilter(fmt.Sprintf("primary.%s", base.colEnd), synthPrev, filter)
	if err != nil {
		return stepResult{}, err
	}
	body := fmt.Sprintf(
		"SELECT primary.%s AS start, primary.%s AS end\nFROM %s AS primary\nWHERE %s",
		base.colStart, base.colEnd, base.table, cond,
	)
	s.addCTE(name, body)
	return stepResult{table: name, colStart: "start", colEnd: "end"}, nil
}

func (s *compileState) compileFilter(parentEndCol string, synthPrev stepResult, filter Filter) (string, error) {
	switch f := filter.(type) {
	case ExistsFilter:
		subRes, err := s.compileChainBody(&synthPrev, f.Subchain)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "EXISTS (SELECT 1 FROM %s WHERE %s.%s = %s", subRes.table, subRes.table, subRes.colStart, parentEndCol)
		if f.Suffix != nil {
			cond, err := s.compileSuffix(fmt.Sprintf("%s.%s", subRes.table, subRes.colEnd), f.Suffix)
			if err != nil {
				return "", err
			}
			b.WriteString(" AND ")
			b.WriteString(cond)
		}
		b.WriteString(")")
		if f.Sense == DoesntExist {
			return "NOT " + b.String(), nil
		}
		return b.String(), nil
	case JunctionFilter:
		if len(f.Subexprs) == 0 {
			return "", werrUnreachable("empty junction filter")
		}
		joiner := " AND "
		if f.Type == JunctionOr {
			joiner = " OR "
		}
		parts := make([]string, len(f.Subexprs))
		for i, sub := range f.Subexprs {
			cond, err := s.compileFilter(parentEndCol, synthPrev, sub)
			if err != nil {
				return "", err
			}
			parts[i] = cond
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	default:
		return "", werrUnreachable("filter")
	}
}

func (s *compileState) compileSuffix(endCol string, suffix Suffix) (string, error) {
	switch suf := suffix.(type) {
	case SimpleSuffix:
		n, err := suf.Value.resolve(s.params)
		if err != nil {
			return "", err
		}
		tTag, vJSON, err := splitEnvelope(n)
		if err != nil {
			return "", err
		}
		op, err := sqlOp(suf.Op)
		if err != nil {
			return "", err
		}
		typeCmp := fmt.Sprintf("json_extract(%s,'$.t') = %s", endCol, s.bind(tTag))
		valueCmp := fmt.Sprintf("json_extract(%s,'$.v') %s json_extract(%s,'$')", endCol, op, s.bind(vJSON))
		return fmt.Sprintf("(%s AND %s)", typeCmp, valueCmp), nil
	case LikeSuffix:
		pattern, err := suf.Pattern.resolveStr(s.params)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("json_extract(%s,'$.v') LIKE %s", endCol, s.bind(pattern)), nil
	default:
		return "", werrUnreachable("suffix")
	}
}

func sqlOp(op SuffixOp) (string, error) {
	switch op {
	case OpEq:
		return "=", nil
	case OpNeq:
		return "!=", nil
	case OpLt:
		return "<", nil
	case OpGt:
		return ">", nil
	case OpLte:
		return "<=", nil
	case OpGte:
		return ">=", nil
	default:
		return "", werrUnreachable("suffix operator")
	}
}

// splitEnvelope marshals n and separates its "t" tag from its raw "v"
// JSON text, mirroring original_source/.../query.rs's build_split_value.
func splitEnvelope(n node.Node) (tTag string, vJSON string, err error) {
	data, err := n.MarshalJSON()
	if err != nil {
		return "", "", ErrDecode(err)
	}
	var env struct {
		T string          `json:"t"`
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", "", ErrDecode(err)
	}
	return env.T, string(env.V), nil
}

func (s *compileState) compileRecurse(previous *stepResult, step RecurseStep) (stepResult, error) {
	if previous == nil {
		return stepResult{}, ErrRecurseWithoutRoot
	}
	name := s.nextName("recurse")

	subRes, err := s.compileChainBody(nil, step.Subchain)
	if err != nil {
		return stepResult{}, err
	}
	baseBody := fmt.Sprintf(
		"SELECT base_prev.%s AS start, base_sub.%s AS end\nFROM %s AS base_prev\nINNER JOIN %s AS base_sub ON base_sub.%s = base_prev.%s",
		previous.colStart, subRes.colEnd, previous.table, subRes.table, subRes.colStart, previous.colEnd,
	)
	recursiveBody := fmt.Sprintf(
		"SELECT %s.start AS start, %s.%s AS end\nFROM %s\nINNER JOIN %s ON %s.%s = %s.end",
		name, subRes.table, subRes.colEnd, name, subRes.table, subRes.table, subRes.colStart, name,
	)
	fullBody := baseBody + "\nUNION\n" + recursiveBody
	s.addRecursiveCTE(name, fullBody)

	out := stepResult{table: name, colStart: "start", colEnd: "end", plural: true}
	if step.First {
		limitedName := name + "_first"
		s.addCTE(limitedName, fmt.Sprintf("SELECT start, end FROM %s LIMIT 1", name))
		out = stepResult{table: limitedName, colStart: "start", colEnd: "end", plural: false}
	}
	return out, nil
}

func (s *compileState) compileJunction(previous *stepResult, step JunctionStep) (stepResult, error) {
	if len(step.Subchains) == 0 {
		return stepResult{}, werrUnreachable("empty junction step")
	}
	name := s.nextName("junction")
	parts := make([]string, len(step.Subchains))
	for i, sub := range step.Subchains {
		subRes, err := s.compileChainBody(previous, sub)
		if err != nil {
			return stepResult{}, err
		}
		parts[i] = fmt.Sprintf("SELECT %s AS start, %s AS end FROM %s", subRes.colStart, subRes.colEnd, subRes.table)
	}
	joiner := "\nINTERSECT\n"
	if step.Type == JunctionOr {
		joiner = "\nUNION\n"
	}
	s.addCTE(name, strings.Join(parts, joiner))
	return stepResult{table: name, colStart: "start", colEnd: "end", plural: false}, nil
}

// compileSearchQuery translates spec section 4.D's search grammar into an
// FTS5 MATCH expression: bare whitespace-separated tokens become
// AND-joined quoted phrases, double quotes protect embedded whitespace,
// and a leading "raw:" bypasses tokenisation entirely.
func compileSearchQuery(query string) (string, error) {
	if rest, ok := strings.CutPrefix(query, "raw:"); ok {
		return rest, nil
	}
	var tokens []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range query {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	if len(tokens) == 0 {
		return "", werr.Inputf("search", "empty search query")
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = strconv.Quote(t)
	}
	return strings.Join(quoted, " AND "), nil
}

// werrUnreachable reports a switch branch that should be unreachable
// given the AST's closed set of implementations — indicates a compiler
// bug (a new Step/Filter/Suffix/Value implementation added without a
// matching compiler case), not bad input.
func werrUnreachable(what string) error {
	return werr.Integrityf("unreachable %s variant in query compiler", what)
}
