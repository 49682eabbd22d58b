// Package qerr defines the error taxonomy of the query core.
//
// Every error carries a machine-readable Code and structured fields. The code
// prefix names the error kind:
//
//	parse.*        malformed query text
//	semantic.*     unresolved path, ambiguous selection, type mismatch
//	parameter.*    unbound parameter, wrong arity, invalid argument
//	execution.*    failure of the statement-execution collaborator
//	unsupported.*  a recognized construct with no lowering
//	graph.*        circular fetch that cannot be resolved deterministically
//
// Use CodeOf / HasCode and the Is* predicates; they see through wrapping.
package qerr

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeParseSyntax       Code = "parse.syntax"
	CodeParseUnterminated Code = "parse.unterminated"

	CodeSemanticUnresolvedPath     Code = "semantic.path.unresolved"
	CodeSemanticUnknownEntity      Code = "semantic.entity.unresolved"
	CodeSemanticAmbiguousSelect    Code = "semantic.select.ambiguous"
	CodeSemanticTypeMismatch       Code = "semantic.type.mismatch"
	CodeSemanticInvalidDereference Code = "semantic.path.invalid_dereference"
	CodeSemanticUnknownType        Code = "semantic.instantiation.unresolved"
	CodeSemanticMixedParameters    Code = "semantic.parameter.mixed"

	CodeParameterUnbound         Code = "parameter.unbound"
	CodeParameterUnknown         Code = "parameter.unknown"
	CodeParameterArity           Code = "parameter.arity"
	CodeParameterType            Code = "parameter.type"
	CodeParameterInvalidArgument Code = "parameter.invalid_argument"

	CodeExecutionStatement Code = "execution.statement"
	CodeExecutionExtract   Code = "execution.extract"
	CodeExecutionLoad      Code = "execution.load"

	CodeUnsupportedFeature Code = "unsupported.feature"

	CodeGraphAmbiguousFetch Code = "graph.fetch.ambiguous"

	CodeMetamodelInvalid Code = "metamodel.invalid"
	CodeConfigInvalid    Code = "config.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func FieldParameter(value string) Attr {
	return Field("parameter", value)
}

func FieldQuery(value string) Attr {
	return Field("query", value)
}

// FieldSQL attaches rendered statement text. Parameter values are never
// attached; they may carry sensitive data.
func FieldSQL(value string) Attr {
	return Field("sql", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code attached to err, or "" for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsParse(err error) bool       { return kind(CodeOf(err)) == "parse" }
func IsSemantic(err error) bool    { return kind(CodeOf(err)) == "semantic" }
func IsParameter(err error) bool   { return kind(CodeOf(err)) == "parameter" }
func IsExecution(err error) bool   { return kind(CodeOf(err)) == "execution" }
func IsUnsupported(err error) bool { return kind(CodeOf(err)) == "unsupported" }
func IsGraph(err error) bool       { return kind(CodeOf(err)) == "graph" }

// Unsupported reports a recognized construct that has no lowering.
func Unsupported(feature string, fields ...Attr) error {
	fields = append(fields, Field("feature", feature))
	return New(CodeUnsupportedFeature, "unsupported feature: "+feature, fields...)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func kind(code Code) string {
	raw := string(code)
	if idx := strings.Index(raw, "."); idx > 0 {
		return raw[:idx]
	}
	return raw
}
