package zarrutils

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultVoxelSpacing is unit spacing on every axis
var DefaultVoxelSpacing = [3]float64{1, 1, 1}

// VoxelSpacing reads (z, y, x) voxel spacing from array or group
// attributes. The conventions tried, in order:
//
//	pixelResolution.dimensions   [z, y, x]
//	spacing, resolution, voxel_size, voxelSize
//	per axis: z_spacing, z_resolution or zResolution (and y, x)
//
// A convention that is present but malformed is skipped. def is returned
// when none match.
func VoxelSpacing(attrs Attributes, def [3]float64) [3]float64 {
	if pr, ok := attrs["pixelResolution"].(map[string]interface{}); ok {
		if s, ok := triple(pr["dimensions"]); ok {
			return s
		}
	}

	for _, key := range []string{"spacing", "resolution", "voxel_size", "voxelSize"} {
		if v, ok := attrs[key]; ok {
			if s, ok := triple(v); ok {
				return s
			}
		}
	}

	var s [3]float64
	found := 0
	for i, axis := range []string{"z", "y", "x"} {
		for _, key := range []string{axis + "_spacing", axis + "_resolution", axis + "Resolution"} {
			v, ok := attrs[key]
			if !ok {
				continue
			}
			f, ok := toFloat(v)
			if !ok {
				return def
			}
			s[i] = f
			found++
			break
		}
	}
	if found == 3 {
		return s
	}
	return def
}

func triple(v interface{}) ([3]float64, bool) {
	var out [3]float64
	list, ok := v.([]interface{})
	if !ok || len(list) != 3 {
		return out, false
	}
	for i, e := range list {
		f, ok := toFloat(e)
		if !ok {
			return out, false
		}
		out[i] = f
	}
	return out, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
