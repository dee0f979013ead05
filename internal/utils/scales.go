package utils

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// MergeScales merges multiple service scale maps with later maps having higher precedence
// Returns docker compose --scale arguments in sorted service order
func MergeScales(ss ...map[string]int) []string {
	m := map[string]int{}
	for _, s := range ss {
		maps.Copy(m, s)
	}

	var results []string
	for _, k := range slices.Sorted(maps.Keys(m)) {
		results = append(results, "--scale", fmt.Sprintf("%s=%d", k, m[k]))
	}

	return results
}

// ParseScales parses scale overrides in {service}={replicas} form
// Example: []string{"worker=2", "web=1"}
func ParseScales(specs []string) (map[string]int, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	scales := make(map[string]int, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid scale format: %s, expected {service}={replicas}", spec)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid replica count in scale %s", spec)
		}
		scales[parts[0]] = n
	}

	return scales, nil
}
