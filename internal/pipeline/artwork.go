package pipeline

import (
	"context"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const tempThumbPrefix = "temp_thumb_"

// maxArtworkBytes caps the thumbnail fetch; cover art past this size is
// not worth embedding.
const maxArtworkBytes = 10 << 20

// fetchArtwork downloads cover art, center-crops it square, and writes it
// as a JPEG temp file in dir. The caller owns the returned path.
func fetchArtwork(ctx context.Context, client *http.Client, dir, url string) (string, error) {
	if url == "" {
		return "", errors.New("pipeline: no artwork url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "pipeline: fetch artwork")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("pipeline: artwork fetch status %d", resp.StatusCode)
	}

	src, _, err := image.Decode(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return "", errors.Wrap(err, "pipeline: decode artwork")
	}

	cropped := centerCropSquare(src)
	path := filepath.Join(dir, tempThumbPrefix+uuid.NewString()+".jpg")
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "pipeline: create thumb file")
	}
	if err := jpeg.Encode(out, cropped, &jpeg.Options{Quality: 90}); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", errors.Wrap(err, "pipeline: encode thumb")
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// centerCropSquare crops the image to its largest centered square. Square
// input is returned as-is.
func centerCropSquare(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == h {
		return src
	}
	side := w
	if h < side {
		side = h
	}
	x0 := bounds.Min.X + (w-side)/2
	y0 := bounds.Min.Y + (h-side)/2

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), src, image.Pt(x0, y0), draw.Src)
	return dst
}
