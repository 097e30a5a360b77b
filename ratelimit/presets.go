package ratelimit

import (
	"time"

	"github.com/saiset-co/sai-ratecache/types"
)

const (
	PresetAPI    = "api"
	PresetAuth   = "auth"
	PresetUpload = "upload"
	PresetSearch = "search"
	PresetCreate = "create"
	PresetEmail  = "email"
)

// Presets returns a fresh copy of the built-in named limits.
func Presets() map[string]types.RateLimitConfig {
	return map[string]types.RateLimitConfig{
		PresetAPI: {
			Limit:     100,
			Window:    15 * time.Minute,
			Algorithm: types.AlgorithmSlidingWindow,
		},
		PresetAuth: {
			Limit:         5,
			Window:        15 * time.Minute,
			Algorithm:     types.AlgorithmFixedWindow,
			BlockDuration: time.Hour,
		},
		PresetUpload: {
			Limit:         10,
			Window:        time.Hour,
			Algorithm:     types.AlgorithmTokenBucket,
			BlockDuration: 15 * time.Minute,
		},
		PresetSearch: {
			Limit:     30,
			Window:    time.Minute,
			Algorithm: types.AlgorithmSlidingWindow,
		},
		PresetCreate: {
			Limit:         20,
			Window:        time.Hour,
			Algorithm:     types.AlgorithmFixedWindow,
			BlockDuration: 30 * time.Minute,
		},
		PresetEmail: {
			Limit:         3,
			Window:        time.Hour,
			Algorithm:     types.AlgorithmFixedWindow,
			BlockDuration: 2 * time.Hour,
		},
	}
}
