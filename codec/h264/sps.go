package h264

import (
	"errors"
	"fmt"

	"github.com/ugparu/govdec/utils/bits"
)

// ErrSPSInvalid is returned when a Sequence Parameter Set is malformed,
// truncated or not an SPS NAL unit at all.
var ErrSPSInvalid = errors.New("h264parser: invalid SPS")

// highProfiles lists profile_idc values that carry the chroma format, bit
// depth and scaling matrix fields.
var highProfiles = map[uint32]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true, 86: true,
	118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// unescapeRBSP strips emulation prevention bytes (00 00 03) from an EBSP
// payload, returning the raw byte sequence payload in a fresh slice. The
// input is never modified.
func unescapeRBSP(b []byte) []byte {
	rbsp := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		if i+2 < len(b) && b[i] == 0 && b[i+1] == 0 && b[i+2] == 3 {
			rbsp = append(rbsp, 0, 0)
			i += 3
		} else {
			rbsp = append(rbsp, b[i])
			i++
		}
	}
	return rbsp
}

// skipScalingList consumes one seq scaling list of the given size without
// retaining its coefficients.
func skipScalingList(r *bits.Reader, size int) error {
	lastScale := int32(defaultScaleValue)
	nextScale := int32(defaultScaleValue)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			delta, err := r.ReadSignedGolomb()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + maxScaleValue) % maxScaleValue
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// skipScalingMatrix consumes the seq_scaling_list_present flags and any
// present scaling lists so that the fields following the matrix stay in sync.
func skipScalingMatrix(r *bits.Reader, chromaFormatIdc uint32) error {
	count := scalingListCount
	if chromaFormatIdc == chromaFormat444 {
		count = scalingListCount444
	}
	for i := 0; i < count; i++ {
		present, err := r.ReadFlag()
		if err != nil {
			return err
		}
		if !present {
			continue
		}
		size := scalingListSizeSmall
		if i >= scalingListThreshold {
			size = scalingListSizeLarge
		}
		if err = skipScalingList(r, size); err != nil {
			return err
		}
	}
	return nil
}

// ParseSPS parses one SPS NAL unit (including its 1-byte header) and derives
// the picture geometry. Emulation prevention bytes are removed before bit
// level parsing.
func ParseSPS(nalu []byte) (sps SPSInfo, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrSPSInvalid, err)
		}
	}()

	const minSPSLen = 4
	if len(nalu) < minSPSLen {
		return sps, errors.New("too short")
	}
	if nalu[0]&0x1f != NaluSPS {
		return sps, fmt.Errorf("nal type %d is not an SPS", nalu[0]&0x1f)
	}

	r := bits.NewReader(unescapeRBSP(nalu[1:]))

	profileIdc, err := r.ReadByte()
	if err != nil {
		return sps, err
	}
	constraintSet, err := r.ReadByte()
	if err != nil {
		return sps, err
	}
	levelIdc, err := r.ReadByte()
	if err != nil {
		return sps, err
	}
	id, err := r.ReadExponentialGolomb()
	if err != nil {
		return sps, err
	}

	sps.ProfileIDC = uint(profileIdc)
	sps.ConstraintSetFlag = uint(constraintSet)
	sps.LevelIDC = uint(levelIdc)
	sps.ID = uint(id)

	// ChromaArrayType defaults to 4:2:0 for profiles that do not signal it.
	chromaFormatIdc := uint32(chromaFormat420)
	separateColourPlane := false

	if highProfiles[uint32(profileIdc)] {
		if chromaFormatIdc, err = r.ReadExponentialGolomb(); err != nil {
			return sps, err
		}
		if chromaFormatIdc == chromaFormat444 {
			if separateColourPlane, err = r.ReadFlag(); err != nil {
				return sps, err
			}
		}
		if _, err = r.ReadExponentialGolomb(); err != nil { // bit_depth_luma_minus8
			return sps, err
		}
		if _, err = r.ReadExponentialGolomb(); err != nil { // bit_depth_chroma_minus8
			return sps, err
		}
		if _, err = r.ReadFlag(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return sps, err
		}
		var scalingMatrix bool
		if scalingMatrix, err = r.ReadFlag(); err != nil {
			return sps, err
		}
		if scalingMatrix {
			if err = skipScalingMatrix(r, chromaFormatIdc); err != nil {
				return sps, err
			}
		}
	}

	if _, err = r.ReadExponentialGolomb(); err != nil { // log2_max_frame_num_minus4
		return sps, err
	}
	var picOrderCntType uint32
	if picOrderCntType, err = r.ReadExponentialGolomb(); err != nil {
		return sps, err
	}
	switch picOrderCntType {
	case 0:
		if _, err = r.ReadExponentialGolomb(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return sps, err
		}
	case 1:
		if _, err = r.ReadFlag(); err != nil { // delta_pic_order_always_zero_flag
			return sps, err
		}
		if _, err = r.ReadSignedGolomb(); err != nil { // offset_for_non_ref_pic
			return sps, err
		}
		if _, err = r.ReadSignedGolomb(); err != nil { // offset_for_top_to_bottom_field
			return sps, err
		}
		var cycle uint32
		if cycle, err = r.ReadExponentialGolomb(); err != nil {
			return sps, err
		}
		for i := uint32(0); i < cycle; i++ {
			if _, err = r.ReadSignedGolomb(); err != nil { // offset_for_ref_frame
				return sps, err
			}
		}
	}

	if _, err = r.ReadExponentialGolomb(); err != nil { // max_num_ref_frames
		return sps, err
	}
	if _, err = r.ReadFlag(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return sps, err
	}

	var widthInMbsMinus1, heightInMapUnitsMinus1 uint32
	if widthInMbsMinus1, err = r.ReadExponentialGolomb(); err != nil {
		return sps, err
	}
	if heightInMapUnitsMinus1, err = r.ReadExponentialGolomb(); err != nil {
		return sps, err
	}
	sps.MbWidth = uint(widthInMbsMinus1) + 1
	sps.MbHeight = uint(heightInMapUnitsMinus1) + 1

	var frameMbsOnly bool
	if frameMbsOnly, err = r.ReadFlag(); err != nil {
		return sps, err
	}
	if !frameMbsOnly {
		if _, err = r.ReadFlag(); err != nil { // mb_adaptive_frame_field_flag
			return sps, err
		}
	}
	if _, err = r.ReadFlag(); err != nil { // direct_8x8_inference_flag
		return sps, err
	}

	var cropping bool
	if cropping, err = r.ReadFlag(); err != nil {
		return sps, err
	}
	if cropping {
		var l, rt, t, b uint32
		if l, err = r.ReadExponentialGolomb(); err != nil {
			return sps, err
		}
		if rt, err = r.ReadExponentialGolomb(); err != nil {
			return sps, err
		}
		if t, err = r.ReadExponentialGolomb(); err != nil {
			return sps, err
		}
		if b, err = r.ReadExponentialGolomb(); err != nil {
			return sps, err
		}
		sps.CropLeft, sps.CropRight = uint(l), uint(rt)
		sps.CropTop, sps.CropBottom = uint(t), uint(b)
	}

	frameHeightMult := uint(frameHeightBase)
	if frameMbsOnly {
		frameHeightMult = 1
	}

	// Crop units depend on chroma subsampling; with a separate colour plane
	// the chroma array type is 0 and crop offsets count luma samples.
	cropUnitX := uint(1)
	cropUnitY := frameHeightMult
	if !separateColourPlane {
		if chromaFormatIdc == chromaFormat420 || chromaFormatIdc == chromaFormat422 {
			cropUnitX = 2
		}
		if chromaFormatIdc == chromaFormat420 {
			cropUnitY = 2 * frameHeightMult
		}
	}

	sps.Width = sps.MbWidth*mbSize - (sps.CropLeft+sps.CropRight)*cropUnitX
	sps.Height = frameHeightMult*sps.MbHeight*mbSize - (sps.CropTop+sps.CropBottom)*cropUnitY

	return sps, nil
}
