package query

import (
	"context"
	"testing"

	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
)

type noFilesFinalizer struct{}

func (noFilesFinalizer) Finalize(ctx context.Context, uploadID string) (node.FileHash, int64, error) {
	return "", 0, graph.ErrStagedBlobMissing
}

func newTestGraph(t *testing.T) *graph.Store {
	t.Helper()
	s, err := graph.Open(context.Background(), "file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("graph.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func commit(t *testing.T, g *graph.Store, triples ...node.Triple) {
	t.Helper()
	if _, err := g.Commit(context.Background(), noFilesFinalizer{}, node.CommitRequest{Add: triples}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func scalarString(t *testing.T, row Row, name string) string {
	t.Helper()
	p, ok := row.Values[name]
	if !ok || !p.HasScalar {
		t.Fatalf("expected scalar projection %q, got %+v", name, row.Values[name])
	}
	s, ok := p.Scalar.Scalar().(string)
	if !ok {
		t.Fatalf("expected string scalar for %q, got %T", name, p.Scalar.Scalar())
	}
	return s
}

func TestMoveForwardSingleHop(t *testing.T) {
	g := newTestGraph(t)
	a := node.NewString("a")
	b := node.NewString("b")
	commit(t, g, node.Triple{Subject: a, Predicate: "knows", Object: b})

	chain := Chain{
		Body: ChainBody{
			Root: &ChainRoot{Kind: RootValue, Value: LiteralValue{Node: a}},
			Steps: []Step{
				MoveStep{Dir: Forward, Predicate: LiteralStrValue{Str: "knows"}},
			},
		},
		Bind: "x",
	}

	res, err := Execute(context.Background(), g.DB(), chain, nil, nil, Pagination{Count: 100})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if got := scalarString(t, res.Rows[0], "x"); got != "b" {
		t.Errorf("expected %q, got %q", "b", got)
	}
}

func TestMoveBackward(t *testing.T) {
	g := newTestGraph(t)
	a := node.NewString("a")
	b := node.NewString("b")
	commit(t, g, node.Triple{Subject: a, Predicate: "knows", Object: b})

	chain := Chain{
		Body: ChainBody{
			Root: &ChainRoot{Kind: RootValue, Value: LiteralValue{Node: b}},
			Steps: []Step{
				MoveStep{Dir: Backward, Predicate: LiteralStrValue{Str: "knows"}},
			},
		},
		Bind: "x",
	}

	res, err := Execute(context.Background(), g.DB(), chain, nil, nil, Pagination{Count: 100})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if got := scalarString(t, res.Rows[0], "x"); got != "a" {
		t.Errorf("expected %q, got %q", "a", got)
	}
}

func TestRecursePluralAndFirst(t *testing.T) {
	g := newTestGraph(t)
	a := node.NewString("a")
	b := node.NewString("b")
	c := node.NewString("c")
	d := node.NewString("d")
	commit(t, g,
		node.Triple{Subject: a, Predicate: "child", Object: b},
		node.Triple{Subject: b, Predicate: "child", Object: c},
		node.Triple{Subject: c, Predicate: "child", Object: d},
	)

	makeChain := func(first bool) Chain {
		return Chain{
			Body: ChainBody{
				Root: &ChainRoot{Kind: RootValue, Value: LiteralValue{Node: a}},
				Steps: []Step{
					RecurseStep{
						Subchain: ChainBody{Steps: []Step{MoveStep{Dir: Forward, Predicate: LiteralStrValue{Str: "child"}}}},
						First:    first,
					},
				},
			},
			Bind: "x",
		}
	}

	res, err := Execute(context.Background(), g.DB(), makeChain(false), nil, nil, Pagination{Count: 100})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 rows (b, c, d), got %d", len(res.Rows))
	}
	seen := map[string]bool{}
	for _, row := range res.Rows {
		seen[scalarString(t, row, "x")] = true
	}
	for _, want := range []string{"b", "c", "d"} {
		if !seen[want] {
			t.Errorf("expected result to include %q, got %v", want, seen)
		}
	}

	firstRes, err := Execute(context.Background(), g.DB(), makeChain(true), nil, nil, Pagination{Count: 100})
	if err != nil {
		t.Fatalf("Execute (first) failed: %v", err)
	}
	if len(firstRes.Rows) != 1 {
		t.Fatalf("expected exactly 1 row with first=true, got %d", len(firstRes.Rows))
	}
}

func TestMoveWithParameterPredicateMissing(t *testing.T) {
	g := newTestGraph(t)
	chain := Chain{
		Body: ChainBody{
			Root: &ChainRoot{Kind: RootValue, Value: LiteralValue{Node: node.NewString("a")}},
			Steps: []Step{
				MoveStep{Dir: Forward, Predicate: ParameterStrValue{Name: "pred"}},
			},
		},
		Bind: "x",
	}
	if _, err := Execute(context.Background(), g.DB(), chain, nil, nil, Pagination{Count: 10}); err == nil {
		t.Fatal("expected ParameterMissing error for an unbound predicate parameter")
	}
}

func TestRecurseWithoutRootFails(t *testing.T) {
	chain := Chain{
		Body: ChainBody{
			Steps: []Step{
				RecurseStep{Subchain: ChainBody{Steps: []Step{MoveStep{Dir: Forward, Predicate: LiteralStrValue{Str: "child"}}}}},
			},
		},
	}
	if _, _, err := Compile(chain, nil); err == nil {
		t.Fatal("expected RecurseWithoutRoot compile error")
	}
}

func TestFilterExistsRestrictsMove(t *testing.T) {
	g := newTestGraph(t)
	a := node.NewString("a")
	b1 := node.NewString("b1")
	b2 := node.NewString("b2")
	tag := node.NewString("tagged")
	commit(t, g,
		node.Triple{Subject: a, Predicate: "knows", Object: b1},
		node.Triple{Subject: a, Predicate: "knows", Object: b2},
		node.Triple{Subject: b1, Predicate: "status", Object: tag},
	)

	chain := Chain{
		Body: ChainBody{
			Root: &ChainRoot{Kind: RootValue, Value: LiteralValue{Node: a}},
			Steps: []Step{
				MoveStep{
					Dir:       Forward,
					Predicate: LiteralStrValue{Str: "knows"},
					Filter: ExistsFilter{
						Subchain: ChainBody{Steps: []Step{MoveStep{Dir: Forward, Predicate: LiteralStrValue{Str: "status"}}}},
						Sense:    Exists,
					},
				},
			},
		},
		Bind: "x",
	}

	res, err := Execute(context.Background(), g.DB(), chain, nil, nil, Pagination{Count: 100})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row (only b1 has status), got %d", len(res.Rows))
	}
	if got := scalarString(t, res.Rows[0], "x"); got != "b1" {
		t.Errorf("expected %q, got %q", "b1", got)
	}
}

func TestSearchRootQuoting(t *testing.T) {
	expr, err := compileSearchQuery(`hello "two words"`)
	if err != nil {
		t.Fatalf("compileSearchQuery failed: %v", err)
	}
	if expr != `"hello" AND "two words"` {
		t.Errorf("unexpected FTS expression: %q", expr)
	}
}

func TestSearchRootRawPassthrough(t *testing.T) {
	expr, err := compileSearchQuery("raw:title:foo*")
	if err != nil {
		t.Fatalf("compileSearchQuery failed: %v", err)
	}
	if expr != "title:foo*" {
		t.Errorf("expected raw passthrough, got %q", expr)
	}
}
