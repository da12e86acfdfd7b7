// Package render rasterizes view snapshots into debug frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"

	"cellsync/internal/engine"
	"cellsync/internal/world"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
)

// Config sizes the output frame
type Config struct {
	Width    int
	Height   int
	GridSize float64 // world units between grid lines, 0 disables the grid
	FontPath string  // empty uses the built-in face
	FontSize float64
	SkinURL  string // fmt pattern turning a skin name into a URL, empty disables skins
}

// DefaultConfig returns a small frame suitable for a browser tab
func DefaultConfig() Config {
	return Config{
		Width:    960,
		Height:   540,
		GridSize: 50,
		FontPath: findFont(),
		FontSize: 14,
		SkinURL:  os.Getenv("SKIN_URL"),
	}
}

var (
	background = color.RGBA{242, 251, 255, 255}
	gridColor  = color.RGBA{0, 0, 0, 20}
	borderLine = color.RGBA{30, 30, 40, 255}
	labelColor = color.RGBA{20, 25, 35, 255}
)

// Renderer draws view snapshots with gg. It is safe for concurrent use;
// every frame gets its own context and font face.
type Renderer struct {
	cfg   Config
	font  *opentype.Font
	skins *SkinCache
}

// New creates a renderer
func New(cfg Config) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 960
	}
	if cfg.Height <= 0 {
		cfg.Height = 540
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = 14
	}
	r := &Renderer{cfg: cfg, skins: NewSkinCache(cfg.SkinURL, DefaultMaxSkins)}
	if cfg.FontPath != "" {
		if f, err := loadFont(cfg.FontPath); err == nil {
			r.font = f
		} else {
			log.Printf("⚠️ Font %s unusable, using built-in face: %v", cfg.FontPath, err)
		}
	}
	return r
}

// Skins returns the renderer's skin cache
func (r *Renderer) Skins() *SkinCache {
	return r.skins
}

func loadFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return opentype.Parse(data)
}

func (r *Renderer) face() font.Face {
	if r.font == nil {
		return nil
	}
	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    r.cfg.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil
	}
	return face
}

// Frame draws one view as its camera sees it. The camera scale is relative
// to the configured viewport, so it is stretched to the frame width here.
func (r *Renderer) Frame(v *engine.ViewSnapshot, viewportW float64) image.Image {
	w, h := float64(r.cfg.Width), float64(r.cfg.Height)
	dc := gg.NewContext(r.cfg.Width, r.cfg.Height)
	if face := r.face(); face != nil {
		dc.SetFontFace(face)
		defer face.Close()
	}

	dc.SetColor(background)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()

	scale := v.Camera.Scale
	if scale <= 0 {
		scale = 1
	}
	if viewportW > 0 {
		scale *= w / viewportW
	}

	dc.Push()
	dc.Translate(w/2, h/2)
	dc.Scale(scale, scale)
	dc.Translate(-v.Camera.X, -v.Camera.Y)

	r.drawGrid(dc, v, w/scale, h/scale)
	r.drawBorder(dc, v.Border, scale)
	for _, c := range v.Cells {
		r.drawCell(dc, c)
	}
	dc.Pop()

	// labels are drawn in screen space so they keep their size
	dc.SetColor(labelColor)
	for _, c := range v.Cells {
		if c.Desc.Name == "" || c.R*scale < 12 {
			continue
		}
		x := (c.X-v.Camera.X)*scale + w/2
		y := (c.Y-v.Camera.Y)*scale + h/2
		dc.DrawStringAnchored(c.Desc.Name, x, y, 0.5, 0.5)
	}
	dc.DrawString(fmt.Sprintf("view %d  cells %d", v.ID, len(v.Cells)), 8, 16)

	return dc.Image()
}

// WritePNG renders a view and encodes it as PNG
func (r *Renderer) WritePNG(out io.Writer, v *engine.ViewSnapshot, viewportW float64) error {
	if err := png.Encode(out, r.Frame(v, viewportW)); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return nil
}

func (r *Renderer) drawGrid(dc *gg.Context, v *engine.ViewSnapshot, spanW, spanH float64) {
	if r.cfg.GridSize <= 0 {
		return
	}
	step := r.cfg.GridSize
	left := math.Floor((v.Camera.X-spanW/2)/step) * step
	top := math.Floor((v.Camera.Y-spanH/2)/step) * step
	right := v.Camera.X + spanW/2
	bottom := v.Camera.Y + spanH/2

	dc.SetColor(gridColor)
	dc.SetLineWidth(1)
	for x := left; x <= right; x += step {
		dc.DrawLine(x, top, x, bottom)
	}
	for y := top; y <= bottom; y += step {
		dc.DrawLine(left, y, right, y)
	}
	dc.Stroke()
}

func (r *Renderer) drawBorder(dc *gg.Context, b world.Border, scale float64) {
	if b.Right <= b.Left || b.Bottom <= b.Top {
		return
	}
	dc.SetColor(borderLine)
	dc.SetLineWidth(2 / scale)
	dc.DrawRectangle(b.Left, b.Top, b.Right-b.Left, b.Bottom-b.Top)
	dc.Stroke()
}

func (r *Renderer) drawCell(dc *gg.Context, c world.RenderCell) {
	if c.Alpha <= 0 {
		return
	}
	radius := c.JR
	if radius <= 0 {
		radius = c.R
	}
	fill := parseHexColor(c.Desc.Color, c.Alpha)

	if c.Desc.Spiked {
		drawSpikes(dc, c.X, c.Y, radius, fill)
		return
	}
	dc.SetColor(fill)
	dc.DrawCircle(c.X, c.Y, radius)
	dc.Fill()

	if skin := r.skins.GetOrFetch(c.Desc.Skin); skin != nil && c.Alpha >= 1 {
		drawSkin(dc, skin, c.X, c.Y, radius)
	}

	edge := darken(fill)
	dc.SetColor(edge)
	dc.SetLineWidth(math.Max(1, radius*0.05))
	dc.DrawCircle(c.X, c.Y, radius)
	dc.Stroke()
}

// drawSkin draws img clipped to the cell circle
func drawSkin(dc *gg.Context, img image.Image, x, y, radius float64) {
	size := img.Bounds().Dx()
	if h := img.Bounds().Dy(); h < size {
		size = h
	}
	if size <= 0 {
		return
	}
	dc.Push()
	dc.DrawCircle(x, y, radius)
	dc.Clip()
	dc.Translate(x, y)
	s := 2 * radius / float64(size)
	dc.Scale(s, s)
	dc.DrawImageAnchored(img, 0, 0, 0.5, 0.5)
	dc.ResetClip()
	dc.Pop()
}

func drawSpikes(dc *gg.Context, x, y, radius float64, fill color.NRGBA) {
	n := int(math.Max(12, math.Min(radius/3, 60)))
	for i := 0; i < n*2; i++ {
		a := float64(i) * math.Pi / float64(n)
		r := radius
		if i%2 == 1 {
			r *= 0.9
		}
		dc.LineTo(x+math.Cos(a)*r, y+math.Sin(a)*r)
	}
	dc.ClosePath()
	dc.SetColor(fill)
	dc.Fill()
}

func darken(c color.NRGBA) color.NRGBA {
	return color.NRGBA{R: c.R * 4 / 5, G: c.G * 4 / 5, B: c.B * 4 / 5, A: c.A}
}

// parseHexColor accepts #rrggbb and falls back to grey
func parseHexColor(hex string, alpha float64) color.NRGBA {
	a := uint8(math.Round(math.Max(0, math.Min(alpha, 1)) * 255))
	if len(hex) != 7 || hex[0] != '#' {
		return color.NRGBA{R: 160, G: 160, B: 160, A: a}
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{R: 160, G: 160, B: 160, A: a}
	}
	return color.NRGBA{R: r, G: g, B: b, A: a}
}

func findFont() string {
	paths := []string{
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/System/Library/Fonts/Helvetica.ttc",
		"C:\\Windows\\Fonts\\arial.ttf",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if matches, _ := filepath.Glob("*.ttf"); len(matches) > 0 {
		return matches[0]
	}
	return ""
}
