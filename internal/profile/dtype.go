package profile

import (
	"strconv"
	"strings"
)

// DType is the inferred data type of a column.
type DType string

const (
	DTypeInteger DType = "integer"
	DTypeFloat   DType = "float"
	DTypeBoolean DType = "boolean"
	DTypeString  DType = "string"
)

// booleanTokens is the fixed token set recognized for boolean columns.
var booleanTokens = map[string]bool{
	"true":  true,
	"false": true,
	"t":     true,
	"f":     true,
	"yes":   true,
	"no":    true,
}

// inference tracks which dtypes remain possible for a column. Rules are
// evaluated in fixed priority order: integer, then float, then boolean,
// then string. A column with no non-null values infers as string.
type inference struct {
	seen     bool
	canInt   bool
	canFloat bool
	canBool  bool
}

func newInference() *inference {
	return &inference{canInt: true, canFloat: true, canBool: true}
}

func (f *inference) observe(cell string) {
	f.seen = true
	if f.canInt {
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			f.canInt = false
		}
	}
	if f.canFloat {
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			f.canFloat = false
		}
	}
	if f.canBool && !booleanTokens[strings.ToLower(cell)] {
		f.canBool = false
	}
}

func (f *inference) result() DType {
	if !f.seen {
		return DTypeString
	}
	switch {
	case f.canInt:
		return DTypeInteger
	case f.canFloat:
		return DTypeFloat
	case f.canBool:
		return DTypeBoolean
	default:
		return DTypeString
	}
}
