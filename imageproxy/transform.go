package imageproxy

import (
	"bytes"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// transform decodes data, scales it to exactly width x height using a
// centered crop-to-fill, and re-encodes it as JPEG at the given quality.
func transform(data []byte, width, height, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, cropRect(src.Bounds(), width, height), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cropRect returns the largest centered region of src matching the
// target aspect ratio.
func cropRect(src image.Rectangle, width, height int) image.Rectangle {
	srcW, srcH := src.Dx(), src.Dy()
	cropW, cropH := srcW, srcW*height/width
	if cropH > srcH {
		cropH = srcH
		cropW = srcH * width / height
	}
	if cropW < 1 {
		cropW = 1
	}
	if cropH < 1 {
		cropH = 1
	}
	x0 := src.Min.X + (srcW-cropW)/2
	y0 := src.Min.Y + (srcH-cropH)/2
	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}
