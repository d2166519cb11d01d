package artifacts

type ArtifactKind string

const (
	BoxArtifact      ArtifactKind = "box"      // Vagrant box file
	AMIArtifact      ArtifactKind = "ami"      // EC2 machine image, remote only
	ManifestArtifact ArtifactKind = "manifest" // Rendered Packer manifest
)

type Artifact struct {
	ID   string       `json:"id"`
	Kind ArtifactKind `json:"kind"`
	URI  string       `json:"uri"`

	Checksum    *string        `json:"checksum,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsZero reports whether no artifact was recorded.
func (a Artifact) IsZero() bool {
	return a.ID == "" && a.URI == ""
}
