package plotting

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"sort"
	"sync"

	"golang.org/x/image/draw"
)

// FrameWidth is the width in pixels animation frames are scaled to.
const FrameWidth = 720

type frame struct {
	index int
	img   *image.Paletted
	err   error
}

// Animate joins the PNG figures in frames, in order, into an animated GIF
// at out. delay is the time each frame shows, in hundredths of a second.
func Animate(
	out string,
	frames []string,
	delay int,
) (
	error,
) {

	if len(frames) == 0 {
		return errors.New("plotting: no frames to animate")
	}

	// The last frame sets the palette
	last, err := openPNG(frames[len(frames)-1])
	if err != nil {
		return err
	}
	pal := framePalette(scaled(last))

	results := make(chan frame, len(frames))
	var wg sync.WaitGroup
	for i, name := range frames {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := paletted(name, pal)
			results <- frame{index: i, img: img, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var collected []frame
	for r := range results {
		if r.err != nil {
			return r.err
		}
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].index < collected[j].index
	})

	anim := &gif.GIF{}
	for _, r := range collected {
		anim.Image = append(anim.Image, r.img)
		anim.Delay = append(anim.Delay, delay)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create animation: %w", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", out, err)
	}
	return f.Close()
}

func paletted(name string, pal color.Palette) (*image.Paletted, error) {
	img, err := openPNG(name)
	if err != nil {
		return nil, err
	}
	src := scaled(img)
	dst := image.NewPaletted(src.Bounds(), pal)
	draw.Draw(dst, src.Bounds(), src, image.Point{}, draw.Over)
	return dst, nil
}

// framePalette returns the colors used most in img, at most 256. Colors
// are first rounded to 5 bits per channel so near shades of antialiased
// lines share an entry.
func framePalette(img image.Image) color.Palette {
	counts := map[color.RGBA]int{}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			c := color.RGBA{
				R: uint8(r>>8) &^ 7,
				G: uint8(g>>8) &^ 7,
				B: uint8(bl>>8) &^ 7,
				A: uint8(a >> 8),
			}
			counts[c]++
		}
	}

	cols := make([]color.RGBA, 0, len(counts))
	for c := range counts {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool {
		ci, cj := counts[cols[i]], counts[cols[j]]
		if ci != cj {
			return ci > cj
		}
		return packRGBA(cols[i]) < packRGBA(cols[j])
	})
	if len(cols) > 256 {
		cols = cols[:256]
	}
	if len(cols) == 0 {
		return color.Palette{color.Transparent}
	}

	pal := make(color.Palette, len(cols))
	for i, c := range cols {
		pal[i] = c
	}
	return pal
}

func packRGBA(c color.RGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

// scaled shrinks img to FrameWidth, keeping its aspect ratio. Narrower
// images are returned as is.
func scaled(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= FrameWidth {
		return img
	}
	h := b.Dy() * FrameWidth / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, FrameWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func openPNG(name string) (image.Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return img, nil
}
