// Package idhash computes the deterministic SHA-256 identities that
// make runs reproducible and artifacts content-addressable. Every hash
// is taken over canonical JSON: struct fields marshal in declaration
// order and maps marshal with sorted keys, so identical values always
// produce identical digests.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"backtest-lab/internal/domain"
)

// HashJSON returns the SHA-256 hex digest of v's canonical JSON form.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// RequestHashes holds the digest of every hashed request sub-object.
// Together they determine run determinism.
type RequestHashes struct {
	Snapshot  string
	Strategy  string
	Execution string
	Cost      string
	Risk      string // empty when the request carries no risk model
	RunConfig string
}

// ComputeRequestHashes hashes each sub-object of a simulation request.
func ComputeRequestHashes(req *domain.SimulationRequest) (RequestHashes, error) {
	var h RequestHashes
	var err error

	if h.Snapshot, err = HashJSON(req.Snapshot); err != nil {
		return h, err
	}
	if h.Strategy, err = HashJSON(req.Strategy.Config); err != nil {
		return h, err
	}
	if h.Execution, err = HashJSON(req.Execution); err != nil {
		return h, err
	}
	if h.Cost, err = HashJSON(req.Cost); err != nil {
		return h, err
	}
	if req.Risk != nil {
		if h.Risk, err = HashJSON(req.Risk); err != nil {
			return h, err
		}
	}
	if h.RunConfig, err = HashJSON(req.Run); err != nil {
		return h, err
	}
	return h, nil
}

// ComputeRunID computes a deterministic run identifier.
// Formula: SHA256(snapshot|strategy|execution|cost|risk|runConfig)
// over the sub-object digests. Returns hex-encoded hash (64 characters).
func ComputeRunID(h RequestHashes) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		h.Snapshot, h.Strategy, h.Execution, h.Cost, h.Risk, h.RunConfig)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ComputeInstrumentSeed derives a per-instrument PRNG seed from the run
// seed and the asset name. Instruments get independent, reproducible
// streams regardless of scheduling order.
func ComputeInstrumentSeed(runSeed int64, asset string) int64 {
	data := fmt.Sprintf("%d|%s", runSeed, asset)
	sum := sha256.Sum256([]byte(data))

	var seed int64
	for i := 0; i < 8; i++ {
		seed = seed<<8 | int64(sum[i])
	}
	if seed < 0 {
		seed = -seed
	}
	return seed
}
