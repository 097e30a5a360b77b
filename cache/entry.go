package cache

import (
	"math"
	"time"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

// record is the persisted layout: {"data","timestamp","ttl","version"?,"tags"?}
// with timestamp and ttl in milliseconds.
type record struct {
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TTL       int64       `json:"ttl"`
	Version   string      `json:"version,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
}

func EncodeEntry(entry *types.CacheEntry) (string, error) {
	encoded, err := utils.MarshalString(record{
		Data:      entry.Data,
		Timestamp: utils.EpochMillis(entry.Timestamp),
		TTL:       entry.TTL.Milliseconds(),
		Version:   entry.Version,
		Tags:      entry.Tags,
	})
	if err != nil {
		return "", types.WrapError(err, "failed to encode cache entry")
	}

	return encoded, nil
}

// DecodeEntry parses raw and validates it against the record layout.
// Foreign or damaged values come back as a *types.ParseError, never a panic.
func DecodeEntry(key, raw string) (*types.CacheEntry, *types.ParseError) {
	var fields map[string]interface{}
	if err := utils.UnmarshalString(raw, &fields); err != nil {
		return nil, &types.ParseError{Key: key, Reason: "not a JSON object", Err: err}
	}

	if fields == nil {
		return nil, &types.ParseError{Key: key, Reason: "not a JSON object"}
	}

	data, ok := fields["data"]
	if !ok {
		return nil, &types.ParseError{Key: key, Reason: "missing data"}
	}

	timestamp, ok := millis(fields["timestamp"])
	if !ok {
		return nil, &types.ParseError{Key: key, Reason: "timestamp is not a number"}
	}

	ttl, ok := millis(fields["ttl"])
	if !ok || ttl < 0 {
		return nil, &types.ParseError{Key: key, Reason: "ttl is not a non-negative number"}
	}

	entry := &types.CacheEntry{
		Data:      data,
		Timestamp: utils.FromEpochMillis(timestamp),
		TTL:       time.Duration(ttl) * time.Millisecond,
	}

	if version, exists := fields["version"]; exists && version != nil {
		s, ok := version.(string)
		if !ok {
			return nil, &types.ParseError{Key: key, Reason: "version is not a string"}
		}
		entry.Version = s
	}

	if tags, exists := fields["tags"]; exists && tags != nil {
		list, ok := tags.([]interface{})
		if !ok {
			return nil, &types.ParseError{Key: key, Reason: "tags is not an array"}
		}

		entry.Tags = make([]string, 0, len(list))
		for _, tag := range list {
			s, ok := tag.(string)
			if !ok {
				return nil, &types.ParseError{Key: key, Reason: "tag is not a string"}
			}
			entry.Tags = append(entry.Tags, s)
		}
	}

	return entry, nil
}

func millis(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
