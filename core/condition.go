// Package core provides the fundamental building blocks of the uon db mapper.
// This file defines query conditions and their rendering into query documents.
package core

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Condition represents a single clause in a query filter.
//
// A condition can target a specific field (FieldName) with a given operator
// (Eq, Gt, Like, In, etc.) and a comparison value. Conditions can also
// be nested using Children, enabling composition of complex logical
// expressions with AND, OR, and NOT.
//
// Example:
//
//	cond := (&Condition{FieldName: "age"}).Gt(18).
//		And((&Condition{FieldName: "status"}).Eq("active"))
//
// The above renders as:
//
//	{$and: [{age: {$gt: 18}}, {status: "active"}]}
type Condition struct {
	FieldName string       // The document key this condition applies to
	Operator  *Operator    // The comparison operator (Eq, Gt, Like, etc.)
	Value     any          // The comparison value
	Children  []*Condition // Nested conditions (for AND, OR, NOT expressions)
}

// And combines this condition with additional conditions using the logical AND operator.
func (c *Condition) And(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpAnd,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Or combines this condition with additional conditions using the logical OR operator.
func (c *Condition) Or(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpOr,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Not negates this condition using the logical NOT operator.
func (c *Condition) Not() *Condition {
	return &Condition{
		Operator: &OpNot,
		Children: []*Condition{c},
	}
}

// Nil matches documents where the field is null or missing.
func (c *Condition) Nil() *Condition {
	return c.set(&OpNil, nil)
}

// Exists matches documents where the field presence equals present.
func (c *Condition) Exists(present bool) *Condition {
	return c.set(&OpExists, present)
}

// Eq sets this condition to check for equality.
func (c *Condition) Eq(v any) *Condition { return c.set(&OpEq, v) }

// Ne sets this condition to check for inequality.
func (c *Condition) Ne(v any) *Condition { return c.set(&OpNe, v) }

// Gt sets this condition to check for "greater than".
func (c *Condition) Gt(v any) *Condition { return c.set(&OpGt, v) }

// Gte sets this condition to check for "greater than or equal".
func (c *Condition) Gte(v any) *Condition { return c.set(&OpGte, v) }

// Lt sets this condition to check for "less than".
func (c *Condition) Lt(v any) *Condition { return c.set(&OpLt, v) }

// Lte sets this condition to check for "less than or equal".
func (c *Condition) Lte(v any) *Condition { return c.set(&OpLte, v) }

// Like sets this condition to a case-insensitive pattern match where % stands
// for any run of characters and _ for a single one.
func (c *Condition) Like(pattern string) *Condition { return c.set(&OpLike, pattern) }

// In sets this condition to check whether the field value is contained in the provided list.
func (c *Condition) In(values ...any) *Condition { return c.set(&OpIn, values) }

// Nin sets this condition to check whether the field value is absent from the provided list.
func (c *Condition) Nin(values ...any) *Condition { return c.set(&OpNin, values) }

func (c *Condition) set(op *Operator, v any) *Condition {
	c.Operator = op
	c.Value = v
	return c
}

// Document renders the condition tree into a model-shaped query document.
// A nil condition renders to an empty document.
func (c *Condition) Document() Query {
	if c == nil || c.Operator == nil {
		return Query{}
	}
	if len(c.Children) > 0 {
		children := make([]any, 0, len(c.Children))
		for _, child := range c.Children {
			children = append(children, child.Document())
		}
		switch *c.Operator {
		case OpAnd:
			return Query{"$and": children}
		case OpOr:
			return Query{"$or": children}
		case OpNot:
			return Query{"$nor": children}
		default:
			return Query{}
		}
	}

	switch *c.Operator {
	case OpNil:
		return Query{c.FieldName: bson.M{"$eq": nil}}
	case OpExists:
		return Query{c.FieldName: bson.M{"$exists": c.Value}}
	case OpEq:
		return Query{c.FieldName: c.Value}
	case OpLike:
		pattern := likePattern(fmt.Sprintf("%v", c.Value))
		return Query{c.FieldName: primitive.Regex{Pattern: pattern, Options: "i"}}
	}
	if op, ok := comparisonOperators[*c.Operator]; ok {
		return Query{c.FieldName: bson.M{op: c.Value}}
	}
	return Query{}
}

// foldConditionsAnd combines conditions with AND, skipping nils. A single
// condition is returned as is.
func foldConditionsAnd(conditions ...*Condition) *Condition {
	list := make([]*Condition, 0, len(conditions))
	for _, c := range conditions {
		if c != nil {
			list = append(list, c)
		}
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	default:
		return &Condition{Operator: &OpAnd, Children: list}
	}
}

// likePattern converts a SQL-like pattern into an anchored regex pattern.
//
// Example:
//
//	likePattern("%admin_") // "^.*admin.$"
func likePattern(input string) string {
	const percent = "\x00"
	const underscore = "\x01"
	safe := strings.ReplaceAll(input, "%", percent)
	safe = strings.ReplaceAll(safe, "_", underscore)
	safe = regexp.QuoteMeta(safe)
	safe = strings.ReplaceAll(safe, percent, ".*")
	safe = strings.ReplaceAll(safe, underscore, ".")
	return "^" + safe + "$"
}
