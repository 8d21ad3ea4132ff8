package calculator

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// Image is a decoded canvas snapshot.
type Image struct {
	Data     []byte
	MIMEType string
	Format   string
	Width    int
	Height   int
}

// DecodeImage parses a data URL such as "data:image/png;base64,iVBOR...".
// Only the text after the first comma is treated as payload. maxBytes bounds
// the decoded size; zero or less disables the check.
func DecodeImage(raw string, maxBytes int64) (Image, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(raw), ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing data URL separator", ErrInvalidImage)
	}

	var mimeType string
	if meta, isDataURL := strings.CutPrefix(header, "data:"); isDataURL {
		params := strings.Split(meta, ";")
		if params[len(params)-1] != "base64" {
			return Image{}, fmt.Errorf("%w: data URL is not base64 encoded", ErrInvalidImage)
		}
		mimeType = params[0]
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Image{}, ErrEmptyImage
	}

	// DecodedLen over-estimates by at most two bytes of padding.
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload)))-2 > maxBytes {
		return Image{}, ErrImageTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Image{}, ErrImageTooLarge
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Image{}, fmt.Errorf("%w: image has no pixels", ErrInvalidImage)
	}

	// The sniffed format is what gets forwarded; a declared type must agree with it.
	if mimeType != "" && !strings.EqualFold(mimeType, "image/"+format) &&
		!(format == "jpeg" && strings.EqualFold(mimeType, "image/jpg")) {
		return Image{}, fmt.Errorf("%w: declared %s but payload is %s", ErrInvalidImage, mimeType, format)
	}
	mimeType = "image/" + format

	return Image{
		Data:     data,
		MIMEType: mimeType,
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}
