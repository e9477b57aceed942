// Package document turns uploaded files into the medical value objects the
// agents consume.
package document

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"medsight/internal/domain"
)

// DefaultMaxDimension is the long-side pixel limit applied when none is set.
const DefaultMaxDimension = 2048

// DefaultMaxBytes caps how much of an upload is read.
const DefaultMaxBytes = 32 << 20

// grayscaleSamples is the sampling grid size used to decide whether an image
// carries colour.
const grayscaleSamples = 32

// Loader reads images and text records from disk or from upload streams.
type Loader struct {
	maxDimension int
	maxBytes     int64
	logger       *slog.Logger
}

// NewLoader creates a Loader. Non-positive limits fall back to the defaults.
func NewLoader(maxDimension int, maxBytes int64, logger *slog.Logger) *Loader {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{maxDimension: maxDimension, maxBytes: maxBytes, logger: logger}
}

// LoadImageFile decodes the image at path.
func (l *Loader) LoadImageFile(path string) (*domain.MedicalImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, err := l.LoadImage(f, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	img.FilePath = path
	return img, nil
}

// LoadImage decodes r, downscales it when its long side exceeds the limit,
// and re-encodes it as base64 PNG. The image type is inferred from name.
func (l *Loader) LoadImage(r io.Reader, name string) (*domain.MedicalImage, error) {
	data, err := readLimited(r, l.maxBytes)
	if err != nil {
		return nil, err
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.NewDomainError("Loader.LoadImage", domain.ErrUnsupportedFormat, err.Error())
	}

	b := src.Bounds()
	origW, origH := b.Dx(), b.Dy()
	out := src
	resized := origW > l.maxDimension || origH > l.maxDimension
	if resized {
		out = imaging.Fit(src, l.maxDimension, l.maxDimension, imaging.Lanczos)
		l.logger.Debug("downscaled image",
			"name", name,
			"from", fmt.Sprintf("%dx%d", origW, origH),
			"to", fmt.Sprintf("%dx%d", out.Bounds().Dx(), out.Bounds().Dy()),
		)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	img := &domain.MedicalImage{
		ImageID:         uuid.NewString(),
		ImageType:       InferImageType(name),
		ImageData:       base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:           out.Bounds().Dx(),
		Height:          out.Bounds().Dy(),
		Grayscale:       IsGrayscale(out),
		Metadata:        domain.ImageMetadata{AdditionalInfo: map[string]any{"source_name": name}},
		UploadTimestamp: time.Now().UTC(),
	}
	if resized {
		img.OriginalWidth, img.OriginalHeight = origW, origH
	}
	return img, nil
}

// IsGrayscale samples a grid of pixels and reports whether every sample has
// equal red, green and blue channels.
func IsGrayscale(img image.Image) bool {
	b := img.Bounds()
	if b.Empty() {
		return false
	}
	stepX := max(b.Dx()/grayscaleSamples, 1)
	stepY := max(b.Dy()/grayscaleSamples, 1)
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			// Allow one 8-bit step of noise from lossy encoders.
			if absDiff(r, g) > 0x101 || absDiff(g, bl) > 0x101 {
				return false
			}
		}
	}
	return true
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// imageTypeHints is evaluated in order against the lowercased file name.
var imageTypeHints = []struct {
	hints []string
	typ   domain.ImageType
}{
	{[]string{"mammo"}, domain.ImageMammogram},
	{[]string{"xray", "x-ray", "x_ray", "cxr", "radiograph"}, domain.ImageXRay},
	{[]string{"mri"}, domain.ImageMRI},
	{[]string{"ultrasound", "sono", "echo"}, domain.ImageUltrasound},
	{[]string{"pet"}, domain.ImagePET},
	{[]string{"histo", "patholog", "slide"}, domain.ImageHistopathology},
	{[]string{"derm", "skin", "lesion"}, domain.ImageDermatology},
	{[]string{"ct"}, domain.ImageCT},
}

// InferImageType guesses the image type from a file name, returning
// ImageUnknown when nothing matches.
func InferImageType(name string) domain.ImageType {
	base := strings.ToLower(filepath.Base(name))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	tokens := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	for _, rule := range imageTypeHints {
		for _, h := range rule.hints {
			if strings.Contains(base, h) && (len(h) > 3 || containsToken(tokens, h)) {
				return rule.typ
			}
		}
	}
	return domain.ImageUnknown
}

// containsToken keeps short hints like "ct" from matching inside words.
func containsToken(tokens []string, h string) bool {
	for _, t := range tokens {
		if t == h {
			return true
		}
	}
	return false
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, domain.NewDomainError("Loader.read", domain.ErrInvalidInput,
			fmt.Sprintf("file exceeds %d bytes", limit))
	}
	if len(data) == 0 {
		return nil, domain.NewDomainError("Loader.read", domain.ErrInvalidInput, "empty file")
	}
	return data, nil
}
