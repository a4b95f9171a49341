package frame

// Format describes the pixel layout of a raw video frame.
type Format string

const (
	// FormatI420 https://www.fourcc.org/pixel-format/yuv-i420/
	FormatI420 Format = "I420"
	// FormatI444 is a YUV format without sub-sampling
	FormatI444 Format = "I444"
	// FormatRGBA is a packed 8-bit RGBA layout
	FormatRGBA Format = "RGBA"
)
