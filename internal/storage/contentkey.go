package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// contentIdentity is the subset of PublishInput that defines logical
// content. Writer provenance and git metadata are excluded: republishing
// the same content from a different checkout still deduplicates.
type contentIdentity struct {
	ArtifactType     string
	SchemaVersion    int
	LogicalKey       string
	DataPath         string
	InputArtifactIDs []string
	Params           map[string]string
}

// ContentKey returns the deterministic artifact ID for the input's
// logical content: SHA-256 hex over canonical JSON.
func (in PublishInput) ContentKey() string {
	data, err := json.Marshal(contentIdentity{
		ArtifactType:     in.ArtifactType,
		SchemaVersion:    in.SchemaVersion,
		LogicalKey:       in.LogicalKey,
		DataPath:         in.DataPath,
		InputArtifactIDs: in.InputArtifactIDs,
		Params:           in.Params,
	})
	if err != nil {
		// Only plain strings/ints are marshalled; this cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Record materializes the catalog entry for a publish input.
func (in PublishInput) Record(artifactID, createdAtISO string) *ArtifactRecord {
	ids := make([]string, len(in.InputArtifactIDs))
	copy(ids, in.InputArtifactIDs)

	params := make(map[string]string, len(in.Params))
	for k, v := range in.Params {
		params[k] = v
	}

	return &ArtifactRecord{
		ArtifactID:       artifactID,
		ArtifactType:     in.ArtifactType,
		SchemaVersion:    in.SchemaVersion,
		LogicalKey:       in.LogicalKey,
		DataPath:         in.DataPath,
		InputArtifactIDs: ids,
		WriterName:       in.WriterName,
		WriterVersion:    in.WriterVersion,
		GitCommit:        in.GitCommit,
		GitDirty:         in.GitDirty,
		Params:           params,
		CreatedAtISO:     createdAtISO,
	}
}
