package geom

// Point is a 2D coordinate in one of the correlated systems.
type Point struct {
	X float64
	Y float64
}

// Points is an ordered point set. Row i of one set corresponds to row i
// of its paired set when the two are used together in a fit.
type Points []Point

// Centroid returns the mean of the set. Zero value for an empty set.
func (p Points) Centroid() Point {
	if len(p) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, pt := range p {
		sx += pt.X
		sy += pt.Y
	}
	n := float64(len(p))
	return Point{X: sx / n, Y: sy / n}
}

// Shift returns a copy of the set with d added to every point.
func (p Points) Shift(d Point) Points {
	out := make(Points, len(p))
	for i, pt := range p {
		out[i] = Point{X: pt.X + d.X, Y: pt.Y + d.Y}
	}
	return out
}

// checkPaired validates the paired-length invariant shared by all fits.
func checkPaired(a, b Points) error {
	if len(a) != len(b) {
		return &MismatchedLengthError{LenA: len(a), LenB: len(b)}
	}
	return nil
}
