package tangram

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// State fill colors for rendered pieces.
var (
	colorBackground = color.RGBA{255, 255, 255, 255}
	colorSilhouette = color.RGBA{224, 224, 224, 255}
	colorOutline    = color.RGBA{96, 96, 96, 255}
	colorValidated  = color.RGBA{76, 175, 80, 255}
	colorInvalid    = color.RGBA{229, 57, 53, 255}
	colorValidating = color.RGBA{255, 193, 7, 255}
	colorNeutral    = color.RGBA{66, 133, 244, 255}
	// Premultiplied alpha; canvas expects premultiplied RGBA.
	colorGhost = color.RGBA{56, 68, 73, 120}
)

// BoardRenderer renders a board snapshot (target silhouettes, pieces colored
// by lifecycle state, optional solution ghosts) as vector graphics.
type BoardRenderer struct {
	Targets []TargetStatus
	Pieces  []PieceInstance

	// Ghosts maps a shape's solution overlay pose by piece ID, drawn
	// translucent for solution-level hints.
	Ghosts map[string]Pose

	Scale      float64 // canvas units per board unit
	Padding    float64 // padding in board units
	Resolution canvas.Resolution
}

// NewBoardRenderer creates a renderer with default settings.
func NewBoardRenderer(targets []TargetStatus, pieces []PieceInstance) *BoardRenderer {
	return &BoardRenderer{
		Targets:    targets,
		Pieces:     pieces,
		Scale:      100.0,
		Padding:    0.4,
		Resolution: canvas.DPI(150),
	}
}

// canvasRenderer is the interface both the svg and rasterizer renderers
// implement.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the board snapshot as an SVG to the provided writer.
func (r *BoardRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, width, height := r.bounds()

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the board snapshot as a PNG to the provided writer.
func (r *BoardRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, width, height := r.bounds()

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, width, height)
	return png.Encode(w, rast)
}

// bounds computes the canvas-space viewport covering every target and piece.
func (r *BoardRenderer) bounds() (minX, minY, width, height float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64

	grow := func(shape PieceShape, pose Pose) {
		radius := PieceBoundRadius(shape)
		minX = math.Min(minX, pose.Position.X-radius)
		minY = math.Min(minY, pose.Position.Y-radius)
		maxX = math.Max(maxX, pose.Position.X+radius)
		maxY = math.Max(maxY, pose.Position.Y+radius)
	}
	for _, t := range r.Targets {
		grow(t.Shape, t.Pose)
	}
	for _, p := range r.Pieces {
		grow(p.Shape, p.Pose)
	}
	if minX > maxX {
		// Empty board: render a unit viewport.
		minX, minY, maxX, maxY = -1, -1, 1, 1
	}

	minX -= r.Padding
	minY -= r.Padding
	width = (maxX - minX + r.Padding) * r.Scale
	height = (maxY - minY + r.Padding) * r.Scale
	return minX * r.Scale, minY * r.Scale, width, height
}

func (r *BoardRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: colorBackground}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p Point) (float64, float64) {
		return p.X*r.Scale - minX, p.Y*r.Scale - minY
	}

	// Silhouettes first so pieces draw on top.
	for _, t := range r.Targets {
		fill := colorSilhouette
		if t.Valid {
			// Light tint so a solved slot reads as settled even before the
			// piece overlay lands.
			fill = color.RGBA{200, 230, 201, 255}
		}
		r.drawPolygon(renderer, toCanvas, t.Shape, t.Pose, fill, colorOutline, false)
	}

	for _, p := range r.Pieces {
		r.drawPolygon(renderer, toCanvas, p.Shape, p.Pose, stateColor(p.State), colorOutline, false)
	}

	for id, ghost := range r.Ghosts {
		shape, ok := r.shapeOf(id)
		if !ok {
			continue
		}
		r.drawPolygon(renderer, toCanvas, shape, ghost, colorGhost, colorOutline, true)
	}
}

func (r *BoardRenderer) shapeOf(pieceID string) (PieceShape, bool) {
	for _, p := range r.Pieces {
		if p.ID == pieceID {
			return p.Shape, true
		}
	}
	return "", false
}

func (r *BoardRenderer) drawPolygon(renderer canvasRenderer, toCanvas func(Point) (float64, float64), shape PieceShape, pose Pose, fill, stroke color.RGBA, dashed bool) {
	verts := ShapeVertices(shape)
	if verts == nil {
		return
	}
	m := PoseMatrix(pose)

	path := &canvas.Path{}
	for i, v := range verts {
		cx, cy := toCanvas(TransformPoint(v, m))
		if i == 0 {
			path.MoveTo(cx, cy)
		} else {
			path.LineTo(cx, cy)
		}
	}
	path.Close()

	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: fill}
	style.Stroke = canvas.Paint{Color: stroke}
	style.StrokeWidth = 1.5
	if dashed {
		style.Dashes = []float64{4, 4}
	}
	renderer.RenderPath(path, style, canvas.Identity)
}

func stateColor(state PieceState) color.RGBA {
	switch state {
	case StateValidated:
		return colorValidated
	case StateInvalid:
		return colorInvalid
	case StateValidating, StatePlaced:
		return colorValidating
	default:
		return colorNeutral
	}
}
