package calculator

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestDecodeImage(t *testing.T) {
	t.Parallel()

	raw := pngBytes(t, 3, 2)
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name     string
		input    string
		maxBytes int64
		wantErr  error
		wantMIME string
	}{
		{name: "DataURL", input: "data:image/png;base64," + encoded, wantMIME: "image/png"},
		{name: "SurroundingWhitespace", input: "  data:image/png;base64," + encoded + "\n", wantMIME: "image/png"},
		{name: "BareHeader", input: "payload," + encoded, wantMIME: "image/png"},
		{name: "Unpadded", input: "data:image/png;base64," + strings.TrimRight(encoded, "="), wantMIME: "image/png"},
		{name: "NoSeparator", input: encoded, wantErr: ErrInvalidImage},
		{name: "UppercaseMIME", input: "data:IMAGE/PNG;base64," + encoded, wantMIME: "image/png"},
		{name: "EmptyMIME", input: "data:;base64," + encoded, wantMIME: "image/png"},
		{name: "MismatchedMIME", input: "data:text/plain;base64," + encoded, wantErr: ErrInvalidImage},
		{name: "WrongImageMIME", input: "data:image/jpeg;base64," + encoded, wantErr: ErrInvalidImage},
		{name: "NotBase64DataURL", input: "data:image/png," + encoded, wantErr: ErrInvalidImage},
		{name: "EmptyPayload", input: "data:image/png;base64,", wantErr: ErrEmptyImage},
		{name: "GarbageBase64", input: "data:image/png;base64,!!!", wantErr: ErrInvalidImage},
		{name: "NotAnImage", input: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello")), wantErr: ErrInvalidImage},
		{name: "TooLarge", input: "data:image/png;base64," + encoded, maxBytes: int64(len(raw) - 1), wantErr: ErrImageTooLarge},
		{name: "ExactlyAtLimit", input: "data:image/png;base64," + encoded, maxBytes: int64(len(raw)), wantMIME: "image/png"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			img, err := DecodeImage(tc.input, tc.maxBytes)

			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr != nil {
				return
			}

			if img.MIMEType != tc.wantMIME {
				t.Fatalf("expected MIME %s, got %s", tc.wantMIME, img.MIMEType)
			}
			if img.Format != "png" || img.Width != 3 || img.Height != 2 {
				t.Fatalf("unexpected image metadata: %+v", img)
			}
			if len(img.Data) != len(raw) {
				t.Fatalf("expected %d bytes, got %d", len(raw), len(img.Data))
			}
		})
	}
}

func BenchmarkDecodeImage(b *testing.B) {
	input := pngDataURL(b, 1280, 720)
	for i := 0; i < b.N; i++ {
		if _, err := DecodeImage(input, 0); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}
