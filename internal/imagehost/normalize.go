package imagehost

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	xdraw "golang.org/x/image/draw"
)

const (
	DefaultMaxEdge     = 1024
	DefaultJPEGQuality = 85
)

var (
	ErrInvalidImage = errors.New("invalid image data")
	ErrTooLarge     = errors.New("image too large")
	ErrInvalidPath  = errors.New("invalid image path")
)

// NormalizedImage is a re-encoded image ready for storage.
type NormalizedImage struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// DecodeBase64 accepts raw base64 or a data:image/...;base64, URL and
// returns the decoded bytes, refusing anything larger than maxBytes.
func DecodeBase64(raw string, maxBytes int64) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		header, payload, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, fmt.Errorf("%w: malformed data URL", ErrInvalidImage)
		}
		mediaType := strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(mediaType, ";base64") {
			return nil, fmt.Errorf("%w: data URL is not base64", ErrInvalidImage)
		}
		if !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("%w: data URL is not an image", ErrInvalidImage)
		}
		raw = payload
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(raw))) > maxBytes+2 {
		return nil, ErrTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}

	return data, nil
}

// Normalize decodes data, downscales it to fit maxEdge and re-encodes it as
// PNG when it has transparency and JPEG otherwise.
func Normalize(data []byte, maxEdge int, quality int) (*NormalizedImage, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	if isExecutableSignature(data) {
		return nil, fmt.Errorf("%w: executable content", ErrInvalidImage)
	}
	if !isAllowedMimeType(detectMimeType(data)) {
		return nil, fmt.Errorf("%w: unsupported content type", ErrInvalidImage)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions", ErrInvalidImage)
	}

	width, height := scaleDimensions(bounds.Dx(), bounds.Dy(), maxEdge)
	scaled := image.NewNRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, xdraw.Src, nil)

	buf := bytes.NewBuffer(nil)
	mimeType := "image/jpeg"
	if hasTransparency(scaled) {
		mimeType = "image/png"
		err = png.Encode(buf, scaled)
	} else {
		err = jpeg.Encode(buf, scaled, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", mimeType, err)
	}

	return &NormalizedImage{
		Data:     buf.Bytes(),
		MimeType: mimeType,
		Width:    width,
		Height:   height,
	}, nil
}

func hasTransparency(img *image.NRGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.NRGBAAt(x, y).A != 0xff {
				return true
			}
		}
	}
	return false
}

func scaleDimensions(width, height, maxEdge int) (int, int) {
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}

	if width >= height {
		ratio := float64(maxEdge) / float64(width)
		scaledHeight := int(float64(height)*ratio + 0.5)
		if scaledHeight < 1 {
			scaledHeight = 1
		}
		return maxEdge, scaledHeight
	}

	ratio := float64(maxEdge) / float64(height)
	scaledWidth := int(float64(width)*ratio + 0.5)
	if scaledWidth < 1 {
		scaledWidth = 1
	}
	return scaledWidth, maxEdge
}

func detectMimeType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	contentType := http.DetectContentType(sniff)
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func isAllowedMimeType(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	default:
		return false
	}
}

func isExecutableSignature(sniff []byte) bool {
	if len(sniff) < 2 {
		return false
	}

	if sniff[0] == 'M' && sniff[1] == 'Z' {
		return true // PE/COFF (Windows)
	}
	if len(sniff) >= 4 {
		if bytes.Equal(sniff[:4], []byte{0x7f, 'E', 'L', 'F'}) {
			return true // ELF
		}

		machoMagics := [][]byte{
			{0xfe, 0xed, 0xfa, 0xce},
			{0xce, 0xfa, 0xed, 0xfe},
			{0xfe, 0xed, 0xfa, 0xcf},
			{0xcf, 0xfa, 0xed, 0xfe},
			{0xca, 0xfe, 0xba, 0xbe},
			{0xbe, 0xba, 0xfe, 0xca},
		}
		for _, magic := range machoMagics {
			if bytes.Equal(sniff[:4], magic) {
				return true
			}
		}
	}

	if sniff[0] == '#' && sniff[1] == '!' {
		return true // shebang scripts
	}

	return false
}
