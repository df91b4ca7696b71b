package cli

import (
	"testing"

	"github.com/opgate/opgate/internal/model"
	"github.com/opgate/opgate/internal/policy"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		resp model.Response
		want int
	}{
		{"success", model.Response{OK: true}, 0},
		{"blocked by gate", model.Fail(model.ErrConfirmationRequired, "", ""), exitBlocked},
		{"blocked by schema", model.Fail(model.ErrValidation, "", ""), exitBlocked},
		{"blocked by confinement", model.Fail(model.ErrSecurityViolation, "", ""), exitBlocked},
		{"unknown operation", model.Fail(model.ErrUnknownOperation, "", ""), exitBlocked},
		{"timeout", model.Fail(model.ErrExecutionTimeout, "", ""), 1},
		{"start failure", model.Fail(model.ErrExecutionStart, "", ""), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.resp); got != tt.want {
				t.Errorf("exitCodeFor = %d, want %d", got, tt.want)
			}
		})
	}

	// Non-zero exits propagate the child's code.
	resp := model.Response{
		Error:   &model.ErrorInfo{Kind: model.ErrExecutionNonZeroExit},
		Metrics: model.Metrics{ExitCode: 4},
	}
	if got := exitCodeFor(resp); got != 4 {
		t.Errorf("exitCodeFor = %d, want the child's exit code", got)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		spec policy.ArgSpec
		val  string
		want any
	}{
		{"int", policy.ArgSpec{Type: policy.TypeInt}, "42", int64(42)},
		{"bad int stays string", policy.ArgSpec{Type: policy.TypeInt}, "x", "x"},
		{"number", policy.ArgSpec{Type: policy.TypeNumber}, "1.5", 1.5},
		{"bool", policy.ArgSpec{Type: policy.TypeBool}, "true", true},
		{"string", policy.ArgSpec{Type: policy.TypeString}, "42", "42"},
		{"undeclared", policy.ArgSpec{}, "v", "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coerce(tt.spec, tt.val); got != tt.want {
				t.Errorf("coerce = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}
