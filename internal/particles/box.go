package particles

import "fmt"

// BoxTooLargeError reports a particle box that cannot fit in the
// volume on at least one axis.
type BoxTooLargeError struct {
	BoxSize int
	Shape   [3]int
}

func (e *BoxTooLargeError) Error() string {
	return fmt.Sprintf("box size %d exceeds volume shape %v", e.BoxSize, e.Shape)
}

// ResolveBox computes the integer left corner of a boxSize^3 box around
// center, clamped to lie fully inside a volume of the given shape, and
// the corrected center of the clamped box.
//
// The clamp runs in two passes. First the naive left corner
// (center - boxSize/2) is clamped up to 0 per axis; then the resulting
// right corner is clamped down to the shape bound per axis and the left
// corner recomputed from it. The second pass is required because a box
// near the high edge can be pushed out of the volume by the first pass
// alone when the box is large relative to the volume.
func ResolveBox(center [3]int, boxSize int, shape [3]int) (left, correctedCenter [3]int, err error) {
	for axis := 0; axis < 3; axis++ {
		if boxSize > shape[axis] {
			return left, correctedCenter, &BoxTooLargeError{BoxSize: boxSize, Shape: shape}
		}
	}

	half := boxSize / 2
	for axis := 0; axis < 3; axis++ {
		l := center[axis] - half
		if l < 0 {
			l = 0
		}
		r := l + boxSize
		if r > shape[axis] {
			r = shape[axis]
		}
		left[axis] = r - boxSize
		correctedCenter[axis] = left[axis] + half
	}
	return left, correctedCenter, nil
}
