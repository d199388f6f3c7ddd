package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/webp"
)

// Decode detects the image format from magic bytes and decodes into a Buffer.
// Supported inputs: PNG, JPEG, WebP.
func Decode(data []byte) (*Buffer, error) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 0x50, 0x4E, 0x47}):
		return readPNG(data)
	case len(data) >= 2 && bytes.Equal(data[:2], []byte{0xFF, 0xD8}):
		return readJPEG(data)
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return readWebP(data)
	}

	return nil, fmt.Errorf("unrecognized image format")
}

// readPNG decodes a PNG image. Grayscale PNGs keep their single channel;
// everything else is expanded to RGBA.
func readPNG(data []byte) (*Buffer, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode png")
	}

	if gray, ok := img.(*image.Gray); ok {
		return grayToBuffer(gray), nil
	}

	return imageToBuffer(img, 4), nil
}

// readJPEG decodes a JPEG image. JPEG has no alpha, so the buffer carries
// three channels per pixel.
func readJPEG(data []byte) (*Buffer, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode jpeg")
	}

	if gray, ok := img.(*image.Gray); ok {
		return grayToBuffer(gray), nil
	}

	return imageToBuffer(img, 3), nil
}

// readWebP decodes a WebP image to RGBA.
func readWebP(data []byte) (*Buffer, error) {
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode webp")
	}

	return imageToBuffer(img, 4), nil
}

func grayToBuffer(img *image.Gray) *Buffer {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	buf := make([]byte, width*height)
	for y := 0; y < height; y++ {
		copy(buf[y*width:(y+1)*width], img.Pix[y*img.Stride:y*img.Stride+width])
	}

	return &Buffer{
		Pix:    buf,
		Width:  width,
		Height: height,
		Depth:  1,
	}
}

// imageToBuffer flattens an image into a Buffer holding straight
// (non-premultiplied) channel values, so semi-transparent pixels survive a
// decode/encode round trip unchanged.
func imageToBuffer(img image.Image, depth int) *Buffer {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if nrgba, ok := img.(*image.NRGBA); ok && depth == 4 {
		buf := make([]byte, width*height*4)
		for y := 0; y < height; y++ {
			copy(buf[y*width*4:(y+1)*width*4], nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+width*4])
		}
		return &Buffer{Pix: buf, Width: width, Height: height, Depth: 4}
	}

	buf := make([]byte, width*height*depth)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			idx := (y*width + x) * depth
			buf[idx] = c.R
			buf[idx+1] = c.G
			buf[idx+2] = c.B
			if depth == 4 {
				buf[idx+3] = c.A
			}
		}
	}

	return &Buffer{
		Pix:    buf,
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// EncodePNG encodes the buffer as PNG bytes.
func EncodePNG(b *Buffer) ([]byte, error) {
	img, err := toImage(b)
	if err != nil {
		return nil, err
	}

	var output bytes.Buffer
	if err := png.Encode(&output, img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}

	return output.Bytes(), nil
}

// toImage converts a Buffer back into a standard library image for encoding.
func toImage(b *Buffer) (image.Image, error) {
	if len(b.Pix) != b.Width*b.Height*b.Depth {
		return nil, fmt.Errorf("buffer length %d does not match %dx%dx%d", len(b.Pix), b.Width, b.Height, b.Depth)
	}

	switch b.Depth {
	case 1:
		img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
		for y := 0; y < b.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+b.Width], b.Pix[y*b.Width:(y+1)*b.Width])
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
		for i := 0; i < b.Width*b.Height; i++ {
			img.Pix[i*4] = b.Pix[i*3]
			img.Pix[i*4+1] = b.Pix[i*3+1]
			img.Pix[i*4+2] = b.Pix[i*3+2]
			img.Pix[i*4+3] = 255
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
		copy(img.Pix, b.Pix)
		return img, nil
	}

	return nil, fmt.Errorf("unsupported channel count %d", b.Depth)
}

// WriteFile writes the buffer as PNG to the named file, or to stdout when the
// name is empty. Writing image bytes to a terminal is refused.
func WriteFile(filename string, b *Buffer) error {
	var output io.Writer

	if filename == "" {
		if stat, _ := os.Stdout.Stat(); (stat.Mode() & os.ModeCharDevice) != 0 {
			return fmt.Errorf("didn't specify output file and standard output is a terminal")
		}
		output = os.Stdout
	} else {
		file, err := os.Create(filename)
		if err != nil {
			return errors.Wrapf(err, "create %s", filename)
		}
		defer file.Close()
		output = file
	}

	img, err := toImage(b)
	if err != nil {
		return err
	}

	return png.Encode(output, img)
}

// ReadFile reads and decodes the named image file.
func ReadFile(filename string) (*Buffer, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", filename)
	}

	return Decode(data)
}
