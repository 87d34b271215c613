package gadget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/gadgetloop/schema"
)

type stubGadget struct {
	name Name
}

func (s stubGadget) Name() Name          { return s.name }
func (s stubGadget) Description() string { return "stub" }
func (s stubGadget) Schema() schema.Validator {
	return nil
}
func (s stubGadget) Timeout() int { return 0 }
func (s stubGadget) Execute(context.Context, *Ctx, map[string]any) (string, error) {
	return "ok", nil
}

func TestRegistryCaseInsensitiveLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubGadget{name: "Calc"}))

	_, ok := r.Lookup("calc")
	assert.True(t, ok)
	_, ok = r.Lookup("CALC")
	assert.True(t, ok)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubGadget{name: "Calc"}))
	err := r.Register(stubGadget{name: "calc"})
	assert.Error(t, err)
}

func TestApprovalPolicyDefaultsForDangerousNames(t *testing.T) {
	p := NewApprovalPolicy(ApprovalAllowed)
	assert.Equal(t, ApprovalRequired, p.Resolve("RunCommand"))
	assert.Equal(t, ApprovalRequired, p.Resolve("writefile"))
	assert.Equal(t, ApprovalAllowed, p.Resolve("Calc"))
}

func TestApprovalPolicyOverrideWins(t *testing.T) {
	p := NewApprovalPolicy(ApprovalAllowed)
	p.SetMode("RunCommand", ApprovalAllowed)
	assert.Equal(t, ApprovalAllowed, p.Resolve("runcommand"))
}
