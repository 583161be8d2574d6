package storage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestProcessAttachment_PNGToJPEG(t *testing.T) {
	out, err := ProcessAttachment(bytes.NewReader(encodePNG(t, 120, 60)), DefaultAttachmentOptions(1<<20))
	if err != nil {
		t.Fatalf("ProcessAttachment: %v", err)
	}
	if !out.Image || out.ContentType != "image/jpeg" || out.Ext != ".jpg" {
		t.Fatalf("got %+v, want jpeg image", out)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("jpeg decode: %v", err)
	}
	if decoded.Bounds().Dx() != 120 || decoded.Bounds().Dy() != 60 {
		t.Fatalf("dims = %dx%d, want 120x60", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}

func TestProcessAttachment_DownscalesToFit(t *testing.T) {
	opts := DefaultAttachmentOptions(1 << 20)
	opts.MaxDim = 100
	out, err := ProcessAttachment(bytes.NewReader(encodePNG(t, 50, 200)), opts)
	if err != nil {
		t.Fatalf("ProcessAttachment: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("jpeg decode: %v", err)
	}
	if decoded.Bounds().Dx() != 25 || decoded.Bounds().Dy() != 100 {
		t.Fatalf("dims = %dx%d, want 25x100", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}

func TestProcessAttachment_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		max     int64
		want    error
	}{
		{name: "too large", payload: bytes.Repeat([]byte("a"), 11), max: 10, want: ErrTooLarge},
		{name: "empty", payload: nil, max: 10, want: ErrEmpty},
		{name: "binary", payload: bytes.Repeat([]byte{0x01, 0x02}, 64), max: 1024, want: ErrUnsupported},
		{name: "broken png", payload: append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...), max: 1024, want: ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ProcessAttachment(bytes.NewReader(tt.payload), DefaultAttachmentOptions(tt.max))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProcessAttachment_PassesDocumentsThrough(t *testing.T) {
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")
	out, err := ProcessAttachment(bytes.NewReader(pdf), DefaultAttachmentOptions(1024))
	if err != nil {
		t.Fatalf("ProcessAttachment: %v", err)
	}
	if out.Image || out.ContentType != "application/pdf" || !bytes.Equal(out.Data, pdf) {
		t.Errorf("got %+v", out)
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		want      string
		shouldErr bool
	}{
		{name: "plain", key: "c%40x.com/a.jpg", want: "attachments/c%40x.com/a.jpg"},
		{name: "already prefixed", key: "/attachments/c/a.jpg", want: "attachments/c/a.jpg"},
		{name: "double slash", key: "c//a.jpg", want: "attachments/c/a.jpg"},
		{name: "traversal", key: "../secret", shouldErr: true},
		{name: "backslash", key: "c\\a", shouldErr: true},
		{name: "empty", key: "  ", shouldErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanKey("attachments", tt.key)
			if (err != nil) != tt.shouldErr {
				t.Fatalf("err = %v, shouldErr %v", err, tt.shouldErr)
			}
			if !tt.shouldErr && got != tt.want {
				t.Errorf("CleanKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAttachmentKeyEscapesAddress(t *testing.T) {
	got := AttachmentKey("a/b@x.com", "id", ".pdf")
	if got != "attachments/a%2Fb@x.com/id.pdf" {
		t.Errorf("AttachmentKey = %q", got)
	}
}
