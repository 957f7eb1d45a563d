package pipeline

import (
	"encoding/json"

	"github.com/reelforge/reelforge/errors"
)

// ArtifactKind identifies one class of production output.
type ArtifactKind string

const (
	ArtifactScript     ArtifactKind = "script"
	ArtifactNarration  ArtifactKind = "narration"
	ArtifactCaptions   ArtifactKind = "captions"
	ArtifactVisualPlan ArtifactKind = "visual_plan"
	ArtifactImages     ArtifactKind = "images"
	ArtifactTimeline   ArtifactKind = "timeline"
	ArtifactVideo      ArtifactKind = "video"
	ArtifactBundle     ArtifactKind = "bundle"
)

// Artifacts maps artifact kinds to opaque storage references. Each step's
// outputs are independently addressable by content path, so a lost
// checkpoint degrades to redoing work, never to corrupting it.
type Artifacts map[ArtifactKind]string

// Merge returns a copy of a with other's references layered on top.
func (a Artifacts) Merge(other Artifacts) Artifacts {
	merged := make(Artifacts, len(a)+len(other))
	for kind, ref := range a {
		merged[kind] = ref
	}
	for kind, ref := range other {
		merged[kind] = ref
	}
	return merged
}

// MarshalArtifacts converts an artifact map to its JSON column form.
func MarshalArtifacts(a Artifacts) (string, error) {
	if a == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal artifacts")
	}
	return string(data), nil
}

// UnmarshalArtifacts converts the JSON column form back to an artifact map.
func UnmarshalArtifacts(data string) (Artifacts, error) {
	if data == "" {
		return Artifacts{}, nil
	}
	var a Artifacts
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal artifacts")
	}
	if a == nil {
		a = Artifacts{}
	}
	return a, nil
}
