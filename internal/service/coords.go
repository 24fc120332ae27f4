package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/sakif/proteeti/internal/apperror"
)

// parseCoordinates accepts JSON numbers or numeric strings, as browsers send
// either. A missing value and a bad value are reported differently.
func parseCoordinates(rawLat, rawLng any) (lat, lng float64, err error) {
	if isMissing(rawLat) || isMissing(rawLng) {
		return 0, 0, apperror.ValidationFailed("lat", "Location required")
	}
	lat, okLat := toFloat(rawLat)
	lng, okLng := toFloat(rawLng)
	if !okLat || !okLng || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, apperror.ValidationFailed("lat", "Invalid coordinates")
	}
	return lat, lng, nil
}

func isMissing(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// toFloat rejects NaN and infinities, which ParseFloat happily accepts.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
