package opa

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const safetyQuery = "data.opportunity.safety.violations"

// Violation is one safety rule a candidate breaks.
type Violation struct {
	ID      string `json:"id"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Input is the document policies evaluate: the candidate and the subject context.
type Input struct {
	Candidate map[string]any `json:"candidate"`
	Subject   map[string]any `json:"subject"`
}

// Validator evaluates candidates against the compiled safety policies.
type Validator struct {
	preparedQuery rego.PreparedEvalQuery
}

// NewValidatorFromDir loads policies from policiesDir, or the built-in
// policies when policiesDir is empty.
func NewValidatorFromDir(policiesDir string) (*Validator, error) {
	reader := NewPolicyReader()

	var (
		policies map[string]string
		err      error
	)
	if policiesDir == "" {
		policies, err = reader.DefaultPolicies()
	} else {
		policies, err = reader.ReadPolicies(policiesDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}

	return NewValidator(policies)
}

func NewValidator(policies map[string]string) (*Validator, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies provided for validation")
	}

	compiler := ast.NewCompiler()
	modules := make(map[string]*ast.Module, len(policies))
	for filename, content := range policies {
		module, err := ast.ParseModuleWithOpts(filename, content, ast.ParserOptions{
			RegoVersion: ast.RegoV1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy %s: %w", filename, err)
		}
		modules[filename] = module
	}

	compiler.Compile(modules)
	if compiler.Failed() {
		return nil, fmt.Errorf("policy compilation failed: %v", compiler.Errors)
	}

	preparedQuery, err := rego.New(
		rego.Query(safetyQuery),
		rego.Compiler(compiler),
		rego.SetRegoVersion(ast.RegoV1),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego query: %w", err)
	}

	zap.S().Named("opa").Infof("safety validator initialized with %d policies", len(policies))
	return &Validator{preparedQuery: preparedQuery}, nil
}

// Violations evaluates a single input.
func (v *Validator) Violations(ctx context.Context, input Input) ([]Violation, error) {
	resultSet, err := v.preparedQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	if len(resultSet) == 0 || len(resultSet[0].Expressions) == 0 {
		return []Violation{}, nil
	}

	raw, ok := resultSet[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T from policy evaluation", resultSet[0].Expressions[0].Value)
	}

	violations := make([]Violation, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected violation type %T", r)
		}
		violation := Violation{}
		if id, ok := m["id"].(string); ok {
			violation.ID = id
		}
		if field, ok := m["field"].(string); ok {
			violation.Field = field
		}
		if msg, ok := m["message"].(string); ok {
			violation.Message = msg
		}
		violations = append(violations, violation)
	}
	return violations, nil
}

// ViolationsAll evaluates inputs in parallel. The result is index-aligned with inputs.
func (v *Validator) ViolationsAll(ctx context.Context, inputs []Input) ([][]Violation, error) {
	results := make([][]Violation, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range inputs {
		g.Go(func() error {
			violations, err := v.Violations(gctx, inputs[i])
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			results[i] = violations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
