// Package h264 parses H.264 Sequence Parameter Sets at the bit level to
// derive picture geometry and a codec identifier string.
package h264

import "fmt"

// NaluCodedIDR is the NALU type of a coded IDR (Instantaneous Decoding
// Refresh) slice.
const NaluCodedIDR = 5

// NaluSPS is the NALU type of a Sequence Parameter Set.
const NaluSPS = 7

// NaluPPS is the NALU type of a Picture Parameter Set.
const NaluPPS = 8

const (
	// Macroblock size for luma.
	mbSize = 16

	// Frame height multiplier base: height doubles for field coding.
	frameHeightBase = 2

	// Chroma format values.
	chromaFormat420 = 1
	chromaFormat422 = 2
	chromaFormat444 = 3

	// Scaling list sizes and the index where the large lists begin.
	scalingListSizeSmall = 16
	scalingListSizeLarge = 64
	scalingListThreshold = 6

	// Scaling list counts by chroma format.
	scalingListCount444 = 12
	scalingListCount    = 8

	defaultScaleValue = 8
	maxScaleValue     = 256
)

// SPSInfo holds the fields of a Sequence Parameter Set needed to configure a
// decoder: profile and level identification plus derived picture geometry.
type SPSInfo struct {
	ID                uint // Identifier for the SPS.
	ProfileIDC        uint // Profile identifier.
	LevelIDC          uint // Level identifier.
	ConstraintSetFlag uint // Constraint flag and reserved bits, one opaque byte.

	MbWidth  uint // Coded width in macroblocks.
	MbHeight uint // Coded height in map units.

	CropLeft   uint // Left cropping offset in crop units.
	CropRight  uint // Right cropping offset in crop units.
	CropTop    uint // Top cropping offset in crop units.
	CropBottom uint // Bottom cropping offset in crop units.

	Width  uint // Display width of the video frame in pixels.
	Height uint // Display height of the video frame in pixels.
}

// Tag returns the codec identifier string encoding profile, constraint flags
// and level as hex, e.g. "avc1.42001E" for baseline level 3.0.
func (sps *SPSInfo) Tag() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", sps.ProfileIDC, sps.ConstraintSetFlag, sps.LevelIDC)
}
