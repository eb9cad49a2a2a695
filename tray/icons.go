package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// State is what the tray icon shows.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

type symbol int

const (
	symbolLock symbol = iota
	symbolDots
	symbolCheck
	symbolCross
)

// iconConfig defines the colors of one tray icon.
type iconConfig struct {
	size   int
	fill   color.RGBA
	border color.RGBA
	accent color.RGBA
	mark   color.RGBA
	symbol symbol
}

var white = color.RGBA{255, 255, 255, 255}

var iconConfigs = map[State]iconConfig{
	StateDisconnected: {
		size:   22,
		fill:   color.RGBA{117, 117, 117, 255},
		border: color.RGBA{158, 158, 158, 255},
		accent: color.RGBA{189, 189, 189, 255},
		mark:   white,
		symbol: symbolLock,
	},
	StateConnecting: {
		size:   22,
		fill:   color.RGBA{230, 126, 34, 255},
		border: color.RGBA{255, 167, 38, 255},
		accent: color.RGBA{255, 224, 178, 255},
		mark:   white,
		symbol: symbolDots,
	},
	StateConnected: {
		size:   22,
		fill:   color.RGBA{56, 142, 60, 255},
		border: color.RGBA{76, 175, 80, 255},
		accent: color.RGBA{200, 230, 201, 255},
		mark:   white,
		symbol: symbolCheck,
	},
	StateFailed: {
		size:   22,
		fill:   color.RGBA{198, 40, 40, 255},
		border: color.RGBA{229, 57, 53, 255},
		accent: color.RGBA{255, 205, 210, 255},
		mark:   white,
		symbol: symbolCross,
	},
}

var (
	iconMu    sync.Mutex
	iconCache = make(map[State][]byte)
)

// Icon returns the PNG for a state. Icons are rendered once.
func Icon(s State) []byte {
	iconMu.Lock()
	defer iconMu.Unlock()

	if b, ok := iconCache[s]; ok {
		return b
	}
	cfg, ok := iconConfigs[s]
	if !ok {
		cfg = iconConfigs[StateDisconnected]
	}
	b := render(cfg)
	iconCache[s] = b
	return b
}

func render(cfg iconConfig) []byte {
	img := image.NewRGBA(image.Rect(0, 0, cfg.size, cfg.size))
	drawShield(img, cfg)

	switch cfg.symbol {
	case symbolCheck:
		plot(img, cfg, []point{
			{6, 11}, {7, 11}, {7, 12}, {8, 12}, {8, 13}, {9, 13},
			{9, 12}, {10, 12}, {10, 11}, {11, 11}, {11, 10}, {12, 10},
			{12, 9}, {13, 9}, {13, 8}, {14, 8},
		})
	case symbolCross:
		var pts []point
		for i := 0; i <= 6; i++ {
			pts = append(pts, point{8 + i, 7 + i}, point{14 - i, 7 + i})
		}
		plot(img, cfg, pts)
	case symbolDots:
		plot(img, cfg, []point{
			{7, 10}, {8, 10}, {7, 11}, {8, 11},
			{10, 10}, {11, 10}, {10, 11}, {11, 11},
			{13, 10}, {14, 10}, {13, 11}, {14, 11},
		})
	default:
		drawLock(img, cfg)
	}

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

type point struct{ x, y int }

func plot(img *image.RGBA, cfg iconConfig, pts []point) {
	for _, p := range pts {
		if p.x >= 0 && p.x < cfg.size && p.y >= 0 && p.y < cfg.size {
			img.Set(p.x, p.y, cfg.mark)
		}
	}
}

// drawShield draws the shield outline and body.
func drawShield(img *image.RGBA, cfg iconConfig) {
	size := cfg.size
	centerX := float64(size) / 2
	topY := 1.0
	bottomY := float64(size) - 2
	shieldWidth := float64(size) - 4

	inShield := func(x, y float64) bool {
		relY := (y - topY) / (bottomY - topY)
		if relY < 0 || relY > 1 {
			return false
		}
		var halfWidth float64
		if relY < 0.5 {
			halfWidth = shieldWidth/2 - relY*0.5
		} else {
			progress := (relY - 0.5) * 2
			halfWidth = (shieldWidth/2 - 0.25) * (1 - progress*progress)
		}
		return x >= centerX-halfWidth && x <= centerX+halfWidth
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !inShield(fx, fy) {
				continue
			}
			border := !inShield(fx-1, fy) || !inShield(fx+1, fy) ||
				!inShield(fx, fy-1) || !inShield(fx, fy+1)
			switch {
			case border:
				img.Set(x, y, cfg.border)
			case float64(y)/float64(size) < 0.3:
				img.Set(x, y, cfg.accent)
			default:
				img.Set(x, y, cfg.fill)
			}
		}
	}
}

func drawLock(img *image.RGBA, cfg iconConfig) {
	c := cfg.mark
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				img.Set(x, y, c)
			}
		}
	}
	for y := 6; y <= 8; y++ {
		img.Set(9, y, c)
		img.Set(13, y, c)
	}
	for x := 9; x <= 13; x++ {
		img.Set(x, 6, c)
	}
}
