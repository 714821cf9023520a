package fb2

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Dimensions returns image size if image header could be decoded.
func Dimensions(data []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// ScaleToHeight downscales raster image taller than maxHeight keeping aspect
// ratio. Image is re-encoded in its own format when imaging could write it,
// otherwise data is returned unchanged. Second value reports if anything
// was done.
func ScaleToHeight(data []byte, ext string, maxHeight, jpegQuality int) ([]byte, bool, error) {
	if maxHeight <= 0 {
		return data, false, nil
	}
	if _, h, ok := Dimensions(data); !ok || h <= maxHeight {
		return data, false, nil
	}

	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		// webp, svg, ico and friends - we cannot write them
		return data, false, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, fmt.Errorf("unable to decode image: %w", err)
	}
	img = imaging.Resize(img, 0, maxHeight, imaging.Lanczos)

	buf := new(bytes.Buffer)
	switch format {
	case imaging.JPEG:
		err = imaging.Encode(buf, img, format, imaging.JPEGQuality(jpegQuality))
	case imaging.PNG:
		err = imaging.Encode(buf, img, format, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		err = imaging.Encode(buf, img, format)
	}
	if err != nil {
		return nil, false, fmt.Errorf("unable to encode resized image: %w", err)
	}
	return buf.Bytes(), true, nil
}

// imageInfo is used for debug output only.
func imageInfo(data []byte) string {
	w, h, ok := Dimensions(data)
	if !ok {
		return "undecodable"
	}
	return fmt.Sprintf("%dx%d", w, h)
}
