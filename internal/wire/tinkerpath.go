package wire

import "strings"

// ArtifactKind discriminates a tinker:// URI's middle path segment.
type ArtifactKind string

const (
	ArtifactWeights        ArtifactKind = "weights"
	ArtifactSamplerWeights ArtifactKind = "sampler_weights"
)

// TinkerPath is a parsed "tinker://{training_run_id}/{kind}/{checkpoint_id}"
// URI, the addressing scheme for save/load/sampler-creation paths.
type TinkerPath struct {
	TrainingRunID string
	Kind          ArtifactKind
	CheckpointID  string
}

const tinkerScheme = "tinker://"

// ParseTinkerPath parses a tinker:// URI, rejecting anything that does
// not have exactly the three expected segments or whose kind segment is
// not "weights"/"sampler_weights".
func ParseTinkerPath(uri string) (TinkerPath, error) {
	if !strings.HasPrefix(uri, tinkerScheme) {
		return TinkerPath{}, NewValidationError("tinker path %q missing %q scheme", uri, tinkerScheme)
	}
	rest := strings.TrimPrefix(uri, tinkerScheme)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return TinkerPath{}, NewValidationError("tinker path %q must have exactly 3 segments after scheme, got %d", uri, len(parts))
	}
	runID, kindSeg, checkpointID := parts[0], parts[1], parts[2]
	if runID == "" || checkpointID == "" {
		return TinkerPath{}, NewValidationError("tinker path %q has an empty training_run_id or checkpoint_id segment", uri)
	}
	var kind ArtifactKind
	switch kindSeg {
	case string(ArtifactWeights):
		kind = ArtifactWeights
	case string(ArtifactSamplerWeights):
		kind = ArtifactSamplerWeights
	default:
		return TinkerPath{}, NewValidationError("tinker path %q has unrecognized artifact kind %q", uri, kindSeg)
	}
	return TinkerPath{TrainingRunID: runID, Kind: kind, CheckpointID: checkpointID}, nil
}

// String reconstructs the canonical tinker:// URI.
func (p TinkerPath) String() string {
	return tinkerScheme + p.TrainingRunID + "/" + string(p.Kind) + "/" + p.CheckpointID
}
