package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Identifiers cannot be bound as parameters, so they are checked instead.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventResolve {
				fmt.Fprintf(&buf, "  [%d] %s (%s) -> %d %v\n", i+1, event.Outcome, event.Rule, event.RecipientID, event.Args)
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks that some step resolved to the outcome, and
// to the rule if one is given.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type != EventResolve || event.Outcome != assertion.Outcome {
			continue
		}
		if assertion.Rule == "" || event.Rule == assertion.Rule {
			return nil
		}
	}

	expected := "outcome " + assertion.Outcome
	if assertion.Rule != "" {
		expected += " via rule " + assertion.Rule
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that outcomes appear in the given order. Other
// steps may come in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next == len(assertion.Outcomes) {
			break
		}
		if event.Type == EventResolve && event.Outcome == assertion.Outcomes[next] {
			next++
		}
	}
	if next == len(assertion.Outcomes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("outcomes in order: %v", assertion.Outcomes),
		Actual:   fmt.Sprintf("no %s after %v", assertion.Outcomes[next], assertion.Outcomes[:next]),
		Trace:    trace,
	}
}

// assertTraceCount checks that the outcome appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventResolve && event.Outcome == assertion.Outcome {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Outcome),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks that exactly one row matches Where and that it
// carries the Expect values (subset match).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion, aliases map[string]ids.RecipientID) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}
	whereSQL, whereArgs, err := buildWhereClause(assertion.Where, aliases)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := sortedKeys(assertion.Expect)
	for _, key := range keys {
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		expectedValue, err := substituteAlias(assertion.Expect[key], aliases)
		if err != nil {
			return err
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// assertRowCount counts the rows of Table matching Where.
func assertRowCount(ctx context.Context, st *store.Store, assertion Assertion, aliases map[string]ids.RecipientID) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}
	whereSQL, whereArgs, err := buildWhereClause(assertion.Where, aliases)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, query, whereArgs...).Scan(&count); err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", count),
		}
	}
	return nil
}

// assertRemapped checks that From was retired and now resolves to To.
func assertRemapped(ctx context.Context, st *store.Store, assertion Assertion, aliases map[string]ids.RecipientID) error {
	from, err := resolveRef(assertion.From, aliases)
	if err != nil {
		return err
	}
	to, err := resolveRef(assertion.To, aliases)
	if err != nil {
		return err
	}

	got, ok, err := st.ResolveRecipient(ctx, from)
	if err != nil {
		return fmt.Errorf("resolve recipient %d: %w", from, err)
	}
	if !ok || got != to {
		actual := "not remapped"
		if ok {
			actual = fmt.Sprintf("remapped to %d", got)
		}
		return &AssertionError{
			Type:     AssertRemapped,
			Expected: fmt.Sprintf("%s (%d) remapped to %s (%d)", assertion.From, from, assertion.To, to),
			Actual:   actual,
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are
// sorted for deterministic query text.
func buildWhereClause(where map[string]any, aliases map[string]ids.RecipientID) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		v, err := substituteAlias(where[key], aliases)
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(v))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// substituteAlias replaces an "@alias" string with the aliased id.
func substituteAlias(v any, aliases map[string]ids.RecipientID) (any, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "@") {
		return v, nil
	}
	id, err := resolveRef(s, aliases)
	if err != nil {
		return nil, err
	}
	return int64(id), nil
}

// toSQLValue converts a YAML-decoded value to a SQL argument.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares an expected YAML value with a scanned SQLite
// value. SQLite returns integers as int64, booleans as 0/1 and text either
// as string or []byte depending on the driver.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		n, ok := actual.(int64)
		return ok && int64(exp) == n
	case int64:
		n, ok := actual.(int64)
		return ok && exp == n
	case bool:
		if b, ok := actual.(bool); ok {
			return exp == b
		}
		n, ok := actual.(int64)
		return ok && exp == (n != 0)
	}
	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store   *store.Store
	Ctx     context.Context
	Aliases map[string]ids.RecipientID
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertRowCount, AssertRemapped:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertFinalState:
				err = assertFinalState(actx.Ctx, actx.Store, assertion, actx.Aliases)
			case AssertRowCount:
				err = assertRowCount(actx.Ctx, actx.Store, assertion, actx.Aliases)
			default:
				err = assertRemapped(actx.Ctx, actx.Store, assertion, actx.Aliases)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
