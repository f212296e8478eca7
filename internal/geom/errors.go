package geom

import "fmt"

// InsufficientPointsError reports a fit attempted with fewer point pairs
// than the requested model needs.
type InsufficientPointsError struct {
	Model string
	Got   int
	Need  int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("%s fit needs at least %d point pairs, got %d", e.Model, e.Need, e.Got)
}

// MismatchedLengthError reports paired point sets of unequal length.
// Point sets used in one fit are positionally paired, so their lengths
// must match exactly.
type MismatchedLengthError struct {
	LenA int
	LenB int
}

func (e *MismatchedLengthError) Error() string {
	return fmt.Sprintf("paired point sets differ in length: %d vs %d", e.LenA, e.LenB)
}

// SingularMatrixError reports a decomposition, inversion or fit on a
// linear part that is not invertible (collinear markers produce these).
type SingularMatrixError struct {
	Det float64
}

func (e *SingularMatrixError) Error() string {
	return fmt.Sprintf("linear part is singular (det=%g)", e.Det)
}
