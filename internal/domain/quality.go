package domain

import "sort"

// Quality is the three-level download quality preference
type Quality string

const (
	QualityLow    Quality = "LOW"
	QualityMedium Quality = "MEDIUM"
	QualityHigh   Quality = "HIGH"
)

// ValidQuality checks if a quality level is valid
func ValidQuality(q Quality) bool {
	return q == QualityLow || q == QualityMedium || q == QualityHigh
}

// MedianBitrate returns the statistical median of the variant bitrates,
// averaging the two middle values for even-sized inputs. Returns 0 for an
// empty slice.
func MedianBitrate(bitrates []int64) int64 {
	if len(bitrates) == 0 {
		return 0
	}
	sorted := make([]int64, len(bitrates))
	copy(sorted, bitrates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2] + sorted[n/2-1]) / 2
	}
	return sorted[(n-1)/2]
}

// SelectBitrate picks the minimum-bitrate tier for a download according to
// the quality preference: Low takes the lowest variant, Medium the median,
// High the highest. Returns 0 when the manifest exposes no variants.
func SelectBitrate(bitrates []int64, quality Quality) int64 {
	if len(bitrates) == 0 {
		return 0
	}
	min, max := bitrates[0], bitrates[0]
	for _, b := range bitrates[1:] {
		if b < min {
			min = b
		}
		if b > max {
			max = b
		}
	}
	switch quality {
	case QualityLow:
		return min
	case QualityHigh:
		return max
	default:
		return MedianBitrate(bitrates)
	}
}
