package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed compose.rego
var policyContent string

// Validator checks a parsed compose file against the preview-stack policy
type Validator struct {
	allowQuery      rego.PreparedEvalQuery
	violationsQuery rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

func NewValidator() (*Validator, error) {
	ctx := context.Background()

	allowQuery, err := rego.New(
		rego.Query("data.compose.allow"),
		rego.Module("compose.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	violationsQuery, err := rego.New(
		rego.Query("data.compose.violations"),
		rego.Module("compose.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	return &Validator{
		allowQuery:      allowQuery,
		violationsQuery: violationsQuery,
	}, nil
}

// ValidateCompose evaluates the policy against a parsed compose document
func (v *Validator) ValidateCompose(ctx context.Context, doc map[string]interface{}) (*ValidationResult, error) {
	results, err := v.allowQuery.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned non-boolean result"},
		}, nil
	}

	result := &ValidationResult{Allowed: allowed}

	if !allowed {
		violations, err := v.getViolations(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("failed to get violations: %w", err)
		}
		result.Violations = violations
	}

	return result, nil
}

func (v *Validator) getViolations(ctx context.Context, doc map[string]interface{}) ([]string, error) {
	results, err := v.violationsQuery.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}

	if len(results) == 0 {
		return []string{"unknown policy violation"}, nil
	}

	violationsInterface := results[0].Expressions[0].Value
	if violationsInterface == nil {
		return []string{"unknown policy violation"}, nil
	}

	items, ok := violationsInterface.([]interface{})
	if !ok {
		return []string{"unknown policy violation"}, nil
	}

	var violations []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			violations = append(violations, s)
		}
	}

	if len(violations) == 0 {
		violations = []string{"unknown policy violation"}
	}

	return violations, nil
}
