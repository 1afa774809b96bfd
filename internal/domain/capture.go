package domain

type PointerAction string

const (
	PointerDown PointerAction = "down"
	PointerMove PointerAction = "move"
	PointerUp   PointerAction = "up"
)

type PointerSample struct {
	Action PointerAction
	X      float64
	Y      float64
	// OffsetMs is milliseconds since the capture was attached.
	OffsetMs int64
}

type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	OffsetMs int64   `json:"t"`
}

type Stroke []Point
