// Package imaging turns uploaded image bytes into model input tensors.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/jyllyver/ML-API/internal/model"
)

// DefaultMaxPixels bounds the declared width*height of an upload. Images are
// fully decoded before resizing, so this caps the memory a request can use.
const DefaultMaxPixels = 40_000_000

// Decode decodes data, converts it to RGB and resizes it to size x size
// without preserving the aspect ratio, which matches how the model was
// trained. Images declaring more than maxPixels pixels are rejected before
// any pixel data is decoded.
func Decode(data []byte, size, maxPixels int) (tensor model.PixelTensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.WrapError(model.KindDecode, fmt.Errorf("%v", r), "Invalid image file")
		}
	}()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.PixelTensor{}, model.WrapError(model.KindDecode, err, "Invalid image format. Supported: JPEG, PNG, GIF, BMP, WebP")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return model.PixelTensor{}, model.Errorf(model.KindDecode, "Image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return model.PixelTensor{}, model.Errorf(model.KindDecode, "Image is too large: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return model.PixelTensor{}, model.WrapError(model.KindDecode, err, "Invalid image format. Supported: JPEG, PNG, GIF, BMP, WebP")
	}
	if img.Bounds().Empty() {
		return model.PixelTensor{}, model.Errorf(model.KindDecode, "Image has no pixels")
	}

	resized := resize.Resize(uint(size), uint(size), toRGB(img), resize.Lanczos3)

	return toTensor(resized, size), nil
}

// toRGB copies img into an opaque RGBA image. Alpha is dropped rather than
// blended, so fully transparent pixels keep their stored colour.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

func toTensor(img image.Image, size int) model.PixelTensor {
	tensor := model.PixelTensor{
		Shape: model.InputShape(size),
		Data:  make([]float32, size*size*model.Channels),
	}

	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Min.Y+size; y++ {
		for x := b.Min.X; x < b.Min.X+size; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			tensor.Data[i+0] = float32(c.R) / 255.0
			tensor.Data[i+1] = float32(c.G) / 255.0
			tensor.Data[i+2] = float32(c.B) / 255.0
			i += model.Channels
		}
	}

	return tensor
}
