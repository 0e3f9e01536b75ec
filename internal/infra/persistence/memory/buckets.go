package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by snapshotting backends. Order is stable so writers
// upsert deterministically.
var Buckets = []string{"strains", "varieties", "mediums", "culture_types", "locations", "series", "operations"}

func (s *Snapshot) target(bucket string) any {
	switch bucket {
	case "strains":
		return &s.Strains
	case "varieties":
		return &s.Varieties
	case "mediums":
		return &s.Mediums
	case "culture_types":
		return &s.CultureTypes
	case "locations":
		return &s.Locations
	case "series":
		return &s.Series
	case "operations":
		return &s.Operations
	}
	return nil
}

// EncodeBuckets marshals every bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		data, err := json.Marshal(s.target(bucket))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals payload into the named bucket. Unknown buckets are ignored.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	target := s.target(bucket)
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
