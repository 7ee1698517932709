// Package boardimg renders a board position to PNG for chat and web
// previews. Piece glyphs are embedded SVGs rasterized on demand.
package boardimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Highlight marks the last move's source and destination squares.
type Highlight struct {
	FromRow, FromCol int
	ToRow, ToCol     int
}

type Options struct {
	Highlight *Highlight

	// Header is drawn above the board (room code, clocks).
	Header string
	Footer string
}

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	sideMargin   = 28
	topMargin    = 56
	bottomMargin = 40
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundFill = color.RGBA{28, 31, 46, 255}
	labelColor     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordColor     = color.NRGBA{R: 236, G: 239, B: 255, A: 200}
)

// RenderPNG draws the position. Row 0 renders at the top (black's back
// rank), matching the board orientation used everywhere else.
func RenderPNG(ctx context.Context, board [8][8]string, opts Options) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	totalWidth := boardSize + sideMargin*2
	totalHeight := boardSize + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	drawSquares(img, origin)
	drawHighlightSquares(img, opts.Highlight, origin)
	if err := drawPieces(img, board, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)
	drawLabel(img, opts.Header, topMargin/2+4)
	drawLabel(img, opts.Footer, totalHeight-10)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row := 0; row < boardSquares; row++ {
		for col := 0; col < boardSquares; col++ {
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawHighlightSquares(img *image.RGBA, h *Highlight, origin image.Point) {
	if h == nil {
		return
	}
	for _, sq := range [][2]int{{h.FromRow, h.FromCol}, {h.ToRow, h.ToCol}} {
		row, col := sq[0], sq[1]
		if row < 0 || row > 7 || col < 0 || col > 7 {
			continue
		}
		x := origin.X + col*squareSize
		y := origin.Y + row*squareSize
		imagedraw.Draw(img, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
	}
}

func drawPieces(dst imagedraw.Image, board [8][8]string, origin image.Point) error {
	for row := 0; row < boardSquares; row++ {
		for col := 0; col < boardSquares; col++ {
			code := board[row][col]
			if code == "" {
				continue
			}
			piece, err := renderPieceImage(code, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), piece, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawCoordinates(img *image.RGBA, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(coordColor),
	}
	for row := 0; row < boardSquares; row++ {
		label := fmt.Sprintf("%d", 8-row)
		baseline := origin.Y + row*squareSize + squareSize/2 + 4
		drawer.Dot = fixed.P(origin.X-sideMargin/2-4, baseline)
		drawer.DrawString(label)
	}
	for col := 0; col < boardSquares; col++ {
		label := string(rune('a' + col))
		width := drawer.MeasureString(label).Round()
		x := origin.X + col*squareSize + squareSize/2 - width/2
		drawer.Dot = fixed.P(x, origin.Y+boardSize+18)
		drawer.DrawString(label)
	}
}

func drawLabel(img *image.RGBA, text string, baseline int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	drawer := &font.Drawer{
		Dst:  img,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(labelColor),
	}
	width := drawer.MeasureString(text).Round()
	x := (img.Bounds().Dx() - width) / 2
	if x < sideMargin {
		x = sideMargin
	}
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}
