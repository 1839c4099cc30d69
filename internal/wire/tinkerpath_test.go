package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTinkerPath_Weights(t *testing.T) {
	p, err := ParseTinkerPath("tinker://run-123/weights/ckpt-5")
	require.NoError(t, err)
	assert.Equal(t, "run-123", p.TrainingRunID)
	assert.Equal(t, ArtifactWeights, p.Kind)
	assert.Equal(t, "ckpt-5", p.CheckpointID)
	assert.Equal(t, "tinker://run-123/weights/ckpt-5", p.String())
}

func TestParseTinkerPath_SamplerWeights(t *testing.T) {
	p, err := ParseTinkerPath("tinker://run-abc/sampler_weights/ckpt-9")
	require.NoError(t, err)
	assert.Equal(t, ArtifactSamplerWeights, p.Kind)
}

func TestParseTinkerPath_Errors(t *testing.T) {
	cases := []string{
		"http://run/weights/ckpt",
		"tinker://run/weights",
		"tinker://run/weights/ckpt/extra",
		"tinker:///weights/ckpt",
		"tinker://run/bogus_kind/ckpt",
		"tinker://run/weights/",
	}
	for _, in := range cases {
		_, err := ParseTinkerPath(in)
		assert.Errorf(t, err, "expected error for %q", in)
	}
}
