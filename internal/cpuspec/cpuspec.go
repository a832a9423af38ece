// Package cpuspec sizes the file worker pool from the host CPU.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec describes the host processor
type CPUSpec struct {
	BrandName        string
	Vendor           string
	PhysicalCores    int
	LogicalCores     int
	PerformanceCores int // 0 when the part is not a known hybrid design
	Features         []string
}

// Detect reads the host CPU through cpuid
func Detect() CPUSpec {
	return CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		Vendor:           cpuid.CPU.VendorString,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: performanceCores(cpuid.CPU.BrandName),
		Features:         simdFeatures(),
	}
}

// OptimalWorkers returns how many files to process at once. Each worker owns
// one module instance and keeps a core busy, so hybrid parts are limited to
// their performance cores and SMT siblings are not counted.
func (c CPUSpec) OptimalWorkers() int {
	available := runtime.NumCPU()

	workers := c.PerformanceCores
	if workers == 0 {
		workers = c.PhysicalCores
	}
	if workers == 0 {
		workers = c.LogicalCores
	}
	if workers <= 0 || workers > available {
		workers = available
	}
	return max(workers, 1)
}

// simdFeatures lists the vector extensions relevant to native compute modules
func simdFeatures() []string {
	var features []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE2, cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.AVX512F, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			features = append(features, f.String())
		}
	}
	return features
}

var (
	intelHybridRegex = regexp.MustCompile(`intel.*(?:core.*i[3579]-(1[234])(\d)00|core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3}))`)
	appleRegex       = regexp.MustCompile(`apple\s+(m[1-4])\s*(pro|max|ultra)?`)
)

// performanceCores maps hybrid parts to their P-core count
func performanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelHybridRegex.FindStringSubmatch(brandName); m != nil {
		if m[1] != "" {
			// 12th to 14th gen desktop: i9/i7 have 8 P-cores, i5 6, i3 4
			switch m[2] {
			case "9", "7":
				return 8
			case "6", "5", "4":
				return 6
			case "1":
				return 4
			}
			return 0
		}
		switch m[3] {
		case "9", "7":
			return 8
		case "5":
			if m[4] == "225" {
				return 4
			}
			return 6
		}
		return 0
	}

	if m := appleRegex.FindStringSubmatch(brandName); m != nil {
		chip, tier := m[1], m[2]
		switch tier {
		case "":
			if chip == "m4" {
				return 6
			}
			return 4
		case "pro":
			return 8
		case "max":
			if chip == "m1" {
				return 8
			}
			return 12
		case "ultra":
			if chip == "m1" {
				return 16
			}
			return 24
		}
	}

	return 0
}
