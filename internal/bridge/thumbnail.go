package bridge

import (
	"bytes"
	"image"
	"image/png"
)

func encodeThumbnail(extra any) ([]byte, bool) {
	img, ok := extra.(image.Image)
	if !ok || img == nil {
		return nil, false
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
