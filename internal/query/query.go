// Package query interprets the list parameters used by the admin UI:
//
//	filter={"name":"reef","id":["…","…"]}
//	sort=["name","DESC"]
//	range=[0,24]
//
// Each parameter is a JSON document carried in a query string value. Field names are
// resolved through an explicit registry so that unknown fields are rejected before
// they reach the database.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Match int

const (
	// MatchContains is a case-sensitive substring match.
	MatchContains Match = iota
	// MatchEqual is equality; a list value matches any of its elements.
	MatchEqual
)

// Kind says how an equality value is converted before it reaches the database.
type Kind int

const (
	KindString Kind = iota
	KindUUID
	KindNumber
	KindBool
)

type Field struct {
	Column   string
	Match    Match
	Kind     Kind
	Sortable bool
	// NoFilter marks a field that may be sorted on but not filtered.
	NoFilter bool
}

// Fields maps a public field name to its column description.
type Fields struct {
	Resource     string
	DefaultOrder string
	ByName       map[string]Field
}

type Params struct {
	Filter string
	Sort   string
	Range  string
}

// ParamsFromValues extracts the three list parameters from a request's query string.
func ParamsFromValues(v url.Values) Params {
	return Params{
		Filter: v.Get("filter"),
		Sort:   v.Get("sort"),
		Range:  v.Get("range"),
	}
}

type Predicate struct {
	Field  string
	Column string
	Match  Match
	Values []any
}

type Order struct {
	Field  string
	Column string
	Desc   bool
}

// Window is an inclusive [Start, End] row range.
type Window struct {
	Start int
	End   int
}

func (w Window) Limit() int { return w.End - w.Start + 1 }

type Query struct {
	fields     Fields
	Predicates []Predicate
	Order      *Order
	Window     *Window
}

type InvalidParamError struct {
	Param  string
	Reason string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("invalid %s parameter: %s", e.Param, e.Reason)
}

func invalid(param, format string, args ...any) error {
	return &InvalidParamError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidParam reports whether err came from a malformed list parameter.
func IsInvalidParam(err error) bool {
	var ipe *InvalidParamError
	return errors.As(err, &ipe)
}

// Parse validates the raw parameters against fields. Absent or empty parameters
// are not an error; malformed ones are.
func Parse(fields Fields, p Params) (Query, error) {
	q := Query{fields: fields}

	preds, err := parseFilter(fields, p.Filter)
	if err != nil {
		return Query{}, err
	}
	q.Predicates = preds

	order, err := parseSort(fields, p.Sort)
	if err != nil {
		return Query{}, err
	}
	q.Order = order

	window, err := parseRange(p.Range)
	if err != nil {
		return Query{}, err
	}
	q.Window = window

	return q, nil
}

func decodeStrict(raw string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}

func isAbsent(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw == "" || raw == "null"
}

func parseFilter(fields Fields, raw string) ([]Predicate, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var m map[string]any
	if err := decodeStrict(raw, &m); err != nil {
		return nil, invalid("filter", "expected a JSON object: %v", err)
	}
	if len(m) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	preds := make([]Predicate, 0, len(names))
	for _, name := range names {
		f, ok := fields.ByName[name]
		if !ok || f.NoFilter {
			return nil, invalid("filter", "unknown field %q", name)
		}
		pred := Predicate{Field: name, Column: f.Column, Match: f.Match}
		switch f.Match {
		case MatchEqual:
			values, err := equalityValues(name, f.Kind, m[name])
			if err != nil {
				return nil, err
			}
			pred.Values = values
		default:
			s, err := scalarString(m[name])
			if err != nil {
				return nil, invalid("filter", "field %q: %v", name, err)
			}
			pred.Values = []any{s}
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

func equalityValues(name string, kind Kind, raw any) ([]any, error) {
	list, isList := raw.([]any)
	if !isList {
		list = []any{raw}
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		v, err := convert(kind, item)
		if err != nil {
			return nil, invalid("filter", "field %q: %v", name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func convert(kind Kind, v any) (any, error) {
	switch kind {
	case KindUUID:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a UUID string, got %T", v)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q", s)
		}
		return id.String(), nil
	case KindNumber:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", v)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean, got %T", v)
		}
		return b, nil
	default:
		return scalarString(v)
	}
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("expected a scalar value, got %T", v)
	}
}

func parseSort(fields Fields, raw string) (*Order, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var pair []any
	if err := decodeStrict(raw, &pair); err != nil {
		return nil, invalid("sort", "expected a JSON array: %v", err)
	}
	if len(pair) == 0 {
		return nil, nil
	}
	if len(pair) != 2 {
		return nil, invalid("sort", "expected [field, order], got %d elements", len(pair))
	}
	name, ok := pair[0].(string)
	if !ok {
		return nil, invalid("sort", "field must be a string")
	}
	dir, ok := pair[1].(string)
	if !ok {
		return nil, invalid("sort", "order must be a string")
	}
	f, ok := fields.ByName[name]
	if !ok || !f.Sortable {
		return nil, invalid("sort", "cannot sort by %q", name)
	}
	return &Order{Field: name, Column: f.Column, Desc: dir == "DESC"}, nil
}

func parseRange(raw string) (*Window, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var pair []json.Number
	if err := decodeStrict(raw, &pair); err != nil {
		return nil, invalid("range", "expected [start, end]: %v", err)
	}
	if len(pair) == 0 {
		return nil, nil
	}
	if len(pair) != 2 {
		return nil, invalid("range", "expected [start, end], got %d elements", len(pair))
	}
	start, err := pair[0].Int64()
	if err != nil {
		return nil, invalid("range", "start must be an integer")
	}
	end, err := pair[1].Int64()
	if err != nil {
		return nil, invalid("range", "end must be an integer")
	}
	if start < 0 || end < start {
		return nil, invalid("range", "need 0 <= start <= end, got [%d, %d]", start, end)
	}
	return &Window{Start: int(start), End: int(end)}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Where applies the filter predicates only. Use it for both the count and the page query.
func (q Query) Where(db *gorm.DB) *gorm.DB {
	for _, p := range q.Predicates {
		switch p.Match {
		case MatchEqual:
			if len(p.Values) == 1 {
				db = db.Where(clause.Eq{Column: clause.Column{Name: p.Column}, Value: p.Values[0]})
			} else {
				db = db.Where(clause.IN{Column: clause.Column{Name: p.Column}, Values: p.Values})
			}
		default:
			db = db.Where(containsExpr(db, p.Column, p.Values[0].(string)))
		}
	}
	return db
}

// containsExpr builds a case-sensitive substring match. SQLite's LIKE folds ASCII
// case, so it gets instr() instead.
func containsExpr(db *gorm.DB, column, value string) clause.Expression {
	col := clause.Column{Name: column}
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return clause.Expr{SQL: "instr(?, ?) > 0", Vars: []any{col, value}}
	}
	pattern := "%" + likeEscaper.Replace(value) + "%"
	return clause.Expr{SQL: "? LIKE ? ESCAPE '\\'", Vars: []any{col, pattern}}
}

// Page applies ordering and the row window on top of Where.
func (q Query) Page(db *gorm.DB) *gorm.DB {
	db = q.Where(db)
	if q.Order != nil {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: q.Order.Column}, Desc: q.Order.Desc})
	}
	if q.fields.DefaultOrder != "" {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: q.fields.DefaultOrder}})
	}
	if q.Window != nil {
		db = db.Offset(q.Window.Start).Limit(q.Window.Limit())
	}
	return db
}

// ContentRange renders "{resource} {start}-{end}/{total}". Without a range the
// whole result is reported as 0-total.
func (q Query) ContentRange(total int64) string {
	start, end := int64(0), total
	if q.Window != nil {
		start, end = int64(q.Window.Start), int64(q.Window.End)
	}
	return fmt.Sprintf("%s %d-%d/%d", q.fields.Resource, start, end, total)
}
