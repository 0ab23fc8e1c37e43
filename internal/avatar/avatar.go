// Package avatar resizes an uploaded user avatar down to the 512x512
// square the persisted-state layout expects (§6), writing both a PNG
// and a WebP variant to disk. Grounded on the teacher's ImageService
// resize pipeline (internal/service/image_service.go): decode via
// image.Decode with the WebP decoder registered, square-crop to the
// center, then CatmullRom-scale to the target size.
package avatar

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"dubserver/internal/featureflags"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Size is the fixed square dimension every avatar is normalized to.
const Size = 512

// WebPQuality matches the teacher's own thumbnail-quality setting.
const WebPQuality = 80

// Store persists avatars under <dataDir>/avatars/<user_id>.{png,webp}.
type Store struct {
	DataDir string
	// Flags gates the WebP variant's rollout; nil means always-on.
	Flags *featureflags.Manager
}

func New(dataDir string) *Store {
	return &Store{DataDir: dataDir}
}

func (s *Store) webpEnabled(userID uint) bool {
	if s.Flags == nil {
		return true
	}
	if _, ok := s.Flags.Raw()["avatar_webp"]; !ok {
		return true
	}
	return s.Flags.Enabled("avatar_webp", userID)
}

// Save decodes, center-crops to square, resizes to Size x Size, and
// writes both formats, returning the PNG's public-facing relative path
// (the persisted-state layout's background/avatar URL field).
func (s *Store) Save(userID uint, raw []byte) (string, error) {
	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode avatar: %w", err)
	}

	squared := cropToSquare(decoded)
	resized := resizeTo(squared, Size, Size)

	dir := filepath.Join(s.DataDir, "avatars")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	pngPath := filepath.Join(dir, fmt.Sprintf("%d.png", userID))
	if err := writePNG(pngPath, resized); err != nil {
		return "", err
	}

	if s.webpEnabled(userID) {
		webpPath := filepath.Join(dir, fmt.Sprintf("%d.webp", userID))
		if err := writeWebP(webpPath, resized); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("avatars/%d.png", userID), nil
}

func cropToSquare(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	side := w
	if h < side {
		side = h
	}
	offsetX := bounds.Min.X + (w-side)/2
	offsetY := bounds.Min.Y + (h-side)/2

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), src, image.Point{X: offsetX, Y: offsetY}, draw.Src)
	return dst
}

func resizeTo(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func writeWebP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return webp.Encode(f, img, &webp.Options{Quality: WebPQuality})
}
