package imagesim

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultCacheSize is the number of decoded images kept in memory
const DefaultCacheSize = 128

// ErrEmptyImage is returned for images without pixels
var ErrEmptyImage = errors.New("image has no pixels")

// Decode reads an image file and converts it to non-premultiplied RGBA.
// Only the RGB channels take part in comparisons.
func Decode(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyImage)
	}
	if n, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n, nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}

// Resize scales img to w x h with bilinear interpolation
func Resize(img image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Similarity returns the normalized cross-correlation of a and b over the
// RGB channels after resizing b to the size of a:
//
//	sum(a*b) / sqrt(sum(a*a) * sum(b*b))
//
// The result lies in [0, 1] and is 1 for identical images.
func Similarity(a, b *image.NRGBA) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if b.Rect.Dx() != w || b.Rect.Dy() != h {
		b = Resize(b, w, h)
	}

	var ab, aa, bb float64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		for x := 0; x < len(ra); x += 4 {
			for c := 0; c < 3; c++ {
				va := float64(ra[x+c])
				vb := float64(rb[x+c])
				ab += va * vb
				aa += va * va
				bb += vb * vb
			}
		}
	}

	switch {
	case aa == 0 && bb == 0:
		return 1
	case aa == 0 || bb == 0:
		return 0
	}
	return ab / math.Sqrt(aa*bb)
}

type cachedImage struct {
	img     *image.NRGBA
	modTime time.Time
	size    int64
}

// Comparer compares image files and keeps recently decoded images in an
// LRU cache. It is safe for concurrent use.
type Comparer struct {
	cache *lru.Cache[string, cachedImage]
}

// NewComparer creates a Comparer caching up to size decoded images
func NewComparer(size int) (*Comparer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, cachedImage](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}
	return &Comparer{cache: cache}, nil
}

// Load returns the decoded image at path. Cached images are reused until the
// file's size or modification time changes.
func (c *Comparer) Load(path string) (*image.NRGBA, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if cached, ok := c.cache.Get(path); ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.img, nil
	}

	img, err := Decode(path)
	if err != nil {
		return nil, err
	}
	c.cache.Add(path, cachedImage{img: img, modTime: info.ModTime(), size: info.Size()})
	return img, nil
}

// Similarity loads both files and compares them
func (c *Comparer) Similarity(pathA, pathB string) (float64, error) {
	a, err := c.Load(pathA)
	if err != nil {
		return 0, err
	}
	b, err := c.Load(pathB)
	if err != nil {
		return 0, err
	}
	return Similarity(a, b), nil
}

// Len returns the number of cached images
func (c *Comparer) Len() int {
	return c.cache.Len()
}

// Purge drops all cached images
func (c *Comparer) Purge() {
	c.cache.Purge()
}
