package filesystem

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// MaxImageDimension is the longest side kept when auto-resizing images.
const MaxImageDimension = 2000

// DetectImageMimeType sniffs the file signature in header.
func DetectImageMimeType(header []byte) string {
	switch {
	case bytes.HasPrefix(header, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(header, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(header, []byte("GIF87a")), bytes.HasPrefix(header, []byte("GIF89a")):
		return "image/gif"
	case len(header) >= 12 && bytes.HasPrefix(header, []byte("RIFF")) && string(header[8:12]) == "WEBP":
		return "image/webp"
	}
	return ""
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch mimeType {
	case "image/png":
		return png.Decode(r)
	case "image/jpeg":
		return jpeg.Decode(r)
	case "image/gif":
		return gif.Decode(r)
	case "image/webp":
		return webp.Decode(r)
	}
	return nil, fmt.Errorf("unsupported image type %s", mimeType)
}

// ResizeImageIfNeeded scales data down so its longest side is at most
// maxDim, preserving aspect ratio. JPEG stays JPEG; everything else is
// re-encoded as PNG. Images that cannot be decoded are returned unchanged
// with an empty note.
func ResizeImageIfNeeded(data []byte, mimeType string, maxDim int) ([]byte, string, string) {
	src, err := decodeImage(data, mimeType)
	if err != nil {
		return data, mimeType, ""
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return data, mimeType, ""
	}

	nw, nh := maxDim, maxDim
	if w >= h {
		nh = max(1, h*maxDim/w)
	} else {
		nw = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	outMime := "image/png"
	if mimeType == "image/jpeg" {
		outMime = mimeType
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85})
	} else {
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return data, mimeType, ""
	}
	return buf.Bytes(), outMime, fmt.Sprintf("Image resized from %dx%d to %dx%d", w, h, nw, nh)
}
