package model

// Default input geometry of the waste classifier.
const (
	DefaultImageSize = 224
	Channels         = 3
)

// RawImage is an upload as received from the client. It lives for a single
// request.
type RawImage struct {
	Data     []byte
	Filename string
}

// PixelTensor is a single image laid out as [1, H, W, C] (NHWC, RGB) with
// values in [0, 1].
type PixelTensor struct {
	Shape [4]int64
	Data  []float32
}

func InputShape(size int) [4]int64 {
	return [4]int64{1, int64(size), int64(size), Channels}
}

// Len is the number of elements the shape describes.
func (t PixelTensor) Len() int {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return int(n)
}

type ClassificationResult struct {
	Label          string `json:"prediction"`
	Description    string `json:"description"`
	SourceFilename string `json:"filename"`
}
