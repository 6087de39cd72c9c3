// SPDX-License-Identifier: AGPL-3.0-or-later

package component

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	cpuPattern    = regexp.MustCompile(`^([0-9]*\.[0-9]+|[0-9]+)(m?)$`)
	memoryPattern = regexp.MustCompile(`^([0-9]*\.[0-9]+|[0-9]+)(E|Ei|P|Pi|T|Ti|G|Gi|M|Mi|K|k|Ki)?$`)
	gpuPattern    = regexp.MustCompile(`^[1-9][0-9]*$`)
)

var memoryUnits = map[string]float64{
	"":   1,
	"K":  1e3,
	"k":  1e3,
	"M":  1e6,
	"G":  1e9,
	"T":  1e12,
	"P":  1e15,
	"E":  1e18,
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
	"Pi": 1 << 50,
	"Ei": 1 << 60,
}

// ParseCPU returns the number of cores in a CPU quantity such as "2", "1.5"
// or "500m".
func ParseCPU(s string) (float64, error) {
	m := cpuPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid cpu quantity %q: expected a number with an optional m suffix", s)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
	}
	if m[2] == "m" {
		v /= 1000
	}
	return v, nil
}

// ParseMemory returns the number of bytes in a memory quantity such as
// "512Mi", "4G" or "1024".
func ParseMemory(s string) (float64, error) {
	m := memoryPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid memory quantity %q: expected a number with an optional E, P, T, G, M, K suffix or its binary (i) form", s)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", s, err)
	}
	return v * memoryUnits[m[2]], nil
}

// ParseGPU returns the positive accelerator count in s.
func ParseGPU(s string) (int64, error) {
	if !gpuPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid gpu count %q: expected a positive integer", s)
	}
	return strconv.ParseInt(s, 10, 64)
}
