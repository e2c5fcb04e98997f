package services

import (
	"encoding/json"
	"testing"

	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestGraph(t *testing.T, seed uint32) *domain.Graph {
	t.Helper()
	g, err := NewWorkflowBuilder(DefaultWorkflowConfig()).Build("person.png", "garment.png", "a prompt", seed)
	require.NoError(t, err)
	return g
}

func inputsOf(t *testing.T, g *domain.Graph, id domain.NodeID) map[string]domain.Input {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok, "node %s missing", id)
	out := make(map[string]domain.Input, len(n.Inputs))
	for _, in := range n.Inputs {
		out[in.Name] = in
	}
	return out
}

func TestWorkflowBuilder_AcyclicWithSingleOutput(t *testing.T) {
	g := buildTestGraph(t, 42)
	require.NoError(t, g.Validate())

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Len(t, order, g.Len())

	outputs := 0
	for _, n := range g.Nodes() {
		if n.Kind.IsOutput() {
			outputs++
		}
	}
	assert.Equal(t, 1, outputs)
	assert.Equal(t, NodeSave, g.Output())
}

func TestWorkflowBuilder_IsomorphicForSameInputs(t *testing.T) {
	a, err := json.Marshal(buildTestGraph(t, 7))
	require.NoError(t, err)
	b, err := json.Marshal(buildTestGraph(t, 7))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	c, err := json.Marshal(buildTestGraph(t, 8))
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(c))
}

func TestWorkflowBuilder_ReferenceChainOrder(t *testing.T) {
	g := buildTestGraph(t, 1)

	posGarment := inputsOf(t, g, NodeRefPosGarment)
	assert.Equal(t, NodeRefPosPerson, posGarment["conditioning"].Ref.Node, "person identity is anchored first")
	assert.Equal(t, NodeEncodeGarment, posGarment["latent"].Ref.Node)

	negGarment := inputsOf(t, g, NodeRefNegGarment)
	assert.Equal(t, NodeRefNegPerson, negGarment["conditioning"].Ref.Node)

	negative := inputsOf(t, g, NodeNegative)
	assert.Equal(t, NodePositive, negative["conditioning"].Ref.Node)

	guider := inputsOf(t, g, NodeGuider)
	assert.Equal(t, NodeRefPosGarment, guider["positive"].Ref.Node)
	assert.Equal(t, NodeRefNegGarment, guider["negative"].Ref.Node)
	assert.Equal(t, 1.0, guider["cfg"].Literal)
}

func TestWorkflowBuilder_CanvasFollowsPersonImage(t *testing.T) {
	g := buildTestGraph(t, 1)

	latent := inputsOf(t, g, NodeLatent)
	assert.Equal(t, domain.Out(NodePersonSize, 0), *latent["width"].Ref)
	assert.Equal(t, domain.Out(NodePersonSize, 1), *latent["height"].Ref)

	size := inputsOf(t, g, NodePersonSize)
	assert.Equal(t, NodeScalePerson, size["image"].Ref.Node)

	scale := inputsOf(t, g, NodeScalePerson)
	assert.Equal(t, NodeLoadPerson, scale["image"].Ref.Node)
	assert.Equal(t, "person.png", inputsOf(t, g, NodeLoadPerson)["image"].Literal)
	assert.Equal(t, "garment.png", inputsOf(t, g, NodeLoadGarment)["image"].Literal)
}

func TestWorkflowBuilder_Parameters(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	cfg.Steps = 8
	cfg.FilenamePrefix = "custom"
	g, err := NewWorkflowBuilder(cfg).Build("p.png", "g.png", "prompt text", 123)
	require.NoError(t, err)

	assert.Equal(t, uint32(123), inputsOf(t, g, NodeNoise)["noise_seed"].Literal)
	assert.Equal(t, 8, inputsOf(t, g, NodeScheduler)["steps"].Literal)
	assert.Equal(t, "prompt text", inputsOf(t, g, NodePositive)["text"].Literal)
	assert.Equal(t, "custom", inputsOf(t, g, NodeSave)["filename_prefix"].Literal)
	assert.Equal(t, "flux-2-klein-9b-fp8.safetensors", inputsOf(t, g, NodeUNet)["unet_name"].Literal)

	wire := g.Wire()
	assert.Equal(t, "SamplerCustomAdvanced", wire[string(NodeSamplerAdvanced)].ClassType)
	assert.Equal(t, []any{"108", 0}, wire[string(NodeSave)].Inputs["images"])
}

func TestWorkflowBuilder_RejectsMissingInputs(t *testing.T) {
	b := NewWorkflowBuilder(WorkflowConfig{})

	_, err := b.Build("", "g.png", "p", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = b.Build("m.png", "g.png", "  ", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
