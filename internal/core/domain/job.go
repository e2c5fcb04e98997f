package domain

// JobID is the backend-issued identifier of a submitted graph (ComfyUI prompt_id).
type JobID string

// JobHandle is returned on submission and used for every follow-up call. It is owned by
// the call that created it and retired once its artifact is fetched or the job fails.
type JobHandle struct {
	ID       JobID  `json:"id"`
	ClientID string `json:"client_id"`
	// OutputNode is the graph's designated save node; polling waits for its outputs.
	OutputNode NodeID `json:"output_node"`
}

// ArtifactRef locates one generated output on the backend.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// StagedInput is an input image placed where the backend can load it.
type StagedInput struct {
	// Name is the reference the graph's LoadImage node uses.
	Name string
	// Path is set when the file was written to a local backend-visible directory.
	Path string
}
