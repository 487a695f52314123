// Package query filters granule records with CEL expressions.
package query

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/granule"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
)

// Filter is a compiled filter expression.
type Filter struct {
	prog cel.Program
}

// Compile parses and type-checks a filter expression. The expression must
// evaluate to a boolean. Available variables:
//
//	ur          string  the granule UR
//	collection  string  the collection name
//	format      string  "echo10" or "umm-g"
//	opendap     bool    the record has an on-prem OPeNDAP link
//	cloud       bool    the record has a cloud OPeNDAP link
//	s3          bool    the record has direct S3 links
//
// Example: `collection == "JPL-L2P-v1.0" && !cloud`.
func Compile(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("ur", cel.StringType),
		cel.Variable("collection", cel.StringType),
		cel.Variable("format", cel.StringType),
		cel.Variable("opendap", cel.BoolType),
		cel.Variable("cloud", cel.BoolType),
		cel.Variable("s3", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %v", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter %q: %v", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q must evaluate to a boolean, not %s", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %v", err)
	}
	return &Filter{prog: prog}, nil
}

// Matches evaluates the filter against a single record.
func (f *Filter) Matches(rec *granule.Record, cloudHosts links.HostMatcher) (bool, error) {
	sum, err := rec.LinkSummary(cloudHosts)
	if err != nil {
		return false, err
	}
	out, _, err := f.prog.Eval(map[string]any{
		"ur":         rec.UR,
		"collection": rec.Collection,
		"format":     string(rec.Format),
		"opendap":    sum.OnPrem,
		"cloud":      sum.Cloud,
		"s3":         sum.S3,
	})
	if err != nil {
		return false, fmt.Errorf("filter evaluation failed: %v", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %v did not return a boolean", out.Value())
	}
	return b, nil
}
