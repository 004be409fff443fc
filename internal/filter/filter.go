// Package filter validates flat "field.lookup" query parameters against a
// declared field schema and turns them into ordered condition lists a query
// builder can consume. Parameters prefixed "or." form an opt-in OR group;
// everything else is combined with AND.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Type buckets a field into the lookup vocabulary it supports.
type Type string

const (
	TypeBoolean  Type = "boolean"
	TypeNumeric  Type = "numeric"
	TypeDateTime Type = "datetime"
	TypeText     Type = "text"
)

// Lookup names a comparison operator a condition applies to its field.
type Lookup string

const (
	LookupEq         Lookup = "eq"
	LookupNe         Lookup = "ne"
	LookupGt         Lookup = "gt"
	LookupGte        Lookup = "gte"
	LookupLt         Lookup = "lt"
	LookupLte        Lookup = "lte"
	LookupContains   Lookup = "contains"
	LookupIContains  Lookup = "icontains"
	LookupStartsWith Lookup = "startswith"
	LookupEndsWith   Lookup = "endswith"
)

// Conjunction says how a condition joins the rest of the filter.
type Conjunction string

const (
	ConjunctionAnd Conjunction = "and"
	ConjunctionOr  Conjunction = "or"
)

const orPrefix = "or."

var lookupsByType = map[Type]map[Lookup]struct{}{
	TypeBoolean: {
		LookupEq: {}, LookupNe: {},
	},
	TypeNumeric: {
		LookupEq: {}, LookupNe: {}, LookupGt: {}, LookupGte: {}, LookupLt: {}, LookupLte: {},
	},
	TypeDateTime: {
		LookupEq: {}, LookupNe: {}, LookupGt: {}, LookupGte: {}, LookupLt: {}, LookupLte: {},
	},
	TypeText: {
		LookupEq: {}, LookupNe: {}, LookupContains: {}, LookupIContains: {},
		LookupStartsWith: {}, LookupEndsWith: {},
	},
}

// Field declares a filterable attribute and its data type.
type Field struct {
	Name string
	Type Type
}

// Condition is one validated filter clause, ready for a query builder.
type Condition struct {
	Field       string
	Lookup      Lookup
	Value       string
	Conjunction Conjunction
}

// ValidationError reports a single rejected filter parameter.
type ValidationError struct {
	Field  string
	Lookup string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Lookup != "" {
		return fmt.Sprintf("filter: field %q lookup %q: %s", e.Field, e.Lookup, e.Reason)
	}
	return fmt.Sprintf("filter: field %q: %s", e.Field, e.Reason)
}

// Schema holds the declared filter fields for one queryable resource.
type Schema struct {
	fields map[string]Type
}

// NewSchema builds a schema from the declared fields, rejecting duplicates,
// empty names, and unknown types up front so handlers fail at wiring time
// rather than per request.
func NewSchema(fields ...Field) (*Schema, error) {
	byName := make(map[string]Type, len(fields))
	for _, field := range fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return nil, errors.New("filter: field name required")
		}
		if _, ok := lookupsByType[field.Type]; !ok {
			return nil, fmt.Errorf("filter: field %q has unsupported type %q", name, field.Type)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("filter: field %q declared twice", name)
		}
		byName[name] = field.Type
	}
	return &Schema{fields: byName}, nil
}

// Parse validates a flat parameter map and returns the ordered condition
// list: AND conditions first, then the OR group, each sorted by parameter
// key so the output is deterministic for identical inputs. All rejections
// are collected and joined so callers see every problem at once.
func (s *Schema) Parse(params map[string]string) ([]Condition, error) {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var andConds, orConds []Condition
	var errs []error
	for _, key := range keys {
		conjunction := ConjunctionAnd
		spec := key
		if strings.HasPrefix(spec, orPrefix) {
			conjunction = ConjunctionOr
			spec = strings.TrimPrefix(spec, orPrefix)
		}
		cond, err := s.parseOne(spec, params[key], conjunction)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if conjunction == ConjunctionOr {
			orConds = append(orConds, cond)
		} else {
			andConds = append(andConds, cond)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return append(andConds, orConds...), nil
}

func (s *Schema) parseOne(spec, value string, conjunction Conjunction) (Condition, error) {
	name := spec
	lookup := LookupEq
	if idx := strings.LastIndex(spec, "."); idx >= 0 {
		name = spec[:idx]
		lookup = Lookup(spec[idx+1:])
	}
	fieldType, ok := s.fields[name]
	if !ok {
		return Condition{}, &ValidationError{Field: name, Reason: "unknown field"}
	}
	if _, ok := lookupsByType[fieldType][lookup]; !ok {
		return Condition{}, &ValidationError{
			Field:  name,
			Lookup: string(lookup),
			Reason: fmt.Sprintf("lookup not allowed for %s fields", fieldType),
		}
	}
	if err := checkValue(fieldType, value); err != nil {
		return Condition{}, &ValidationError{Field: name, Lookup: string(lookup), Reason: err.Error()}
	}
	return Condition{Field: name, Lookup: lookup, Value: value, Conjunction: conjunction}, nil
}

func checkValue(fieldType Type, value string) error {
	switch fieldType {
	case TypeBoolean:
		switch strings.ToLower(value) {
		case "true", "false", "1", "0":
			return nil
		}
		return fmt.Errorf("value %q is not a boolean", value)
	case TypeNumeric:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("value %q is not numeric", value)
		}
		return nil
	case TypeDateTime:
		if _, err := time.Parse(time.RFC3339, value); err == nil {
			return nil
		}
		if _, err := time.Parse("2006-01-02", value); err == nil {
			return nil
		}
		return fmt.Errorf("value %q is not an RFC 3339 timestamp or date", value)
	default:
		return nil
	}
}
