package query

import (
	"fmt"

	"github.com/weftgraph/weft/internal/werr"
)

// ErrParameterMissing reports a chain referencing a parameter name the
// caller did not supply.
func ErrParameterMissing(name string) error {
	return werr.Inputf("parameters", "missing query parameter %q", name)
}

// ErrParameterTypeMismatch reports a parameter used in a position that
// requires a specific node shape (e.g. a string predicate name) but whose
// supplied value doesn't have that shape.
func ErrParameterTypeMismatch(name, wantKind string) error {
	return werr.Inputf("parameters", "parameter %q must be a %s", name, wantKind)
}

// ErrRecurseWithoutRoot reports a Recurse step with no predecessor: it
// has no base case to recurse from.
var ErrRecurseWithoutRoot = werr.Input("chain", fmt.Errorf("recurse step requires a preceding root or step"))

// ErrExecution wraps a SQL-layer failure running a compiled query.
func ErrExecution(err error) error {
	return werr.Transient(fmt.Errorf("query execution failed: %w", err))
}

// ErrDecode wraps a failure decoding a result row's envelope columns;
// this always indicates a compiler/executor bug rather than bad input.
func ErrDecode(err error) error {
	return werr.Integrityf("failed to decode query result row: %w", err)
}
