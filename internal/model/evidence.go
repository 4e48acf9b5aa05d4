package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Evidence is an immutable record of one raw data capture and its provenance.
// Written once per successful fetch and never deleted.
type Evidence struct {
	ID          string     `json:"id"`
	EntityID    string     `json:"entity_id"`
	SourceKey   string     `json:"source_key"`
	Tier        SourceTier `json:"tier"`
	URL         string     `json:"url,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	ContentHash string     `json:"content_hash"`
	Snippet     string     `json:"snippet,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HashContent returns the hex SHA-256 of raw capture content, used as the
// evidence dedupe key.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
