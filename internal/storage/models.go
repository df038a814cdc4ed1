package storage

import "llmtester/internal/state"

// Key/value keys.
const (
	KeySettings        = state.SettingsKey
	KeyModelHistory    = "modelHistory"
	KeyCustomProviders = "llm-api-test-custom-providers"
	KeyLegacyHistory   = "llm_api_history"
)

// Blob buckets.
const (
	BucketImages         = "images"
	BucketResponseImages = "responseImages"
	BucketFileHandles    = "fileHandles"
)

// Blob is one entry of a bucket. Seq orders entries within the bucket.
type Blob struct {
	Bucket string
	Key    string
	Seq    int64
	Value  []byte
}
