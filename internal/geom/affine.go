package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// singularEps is the determinant magnitude below which a linear part is
// treated as non-invertible.
const singularEps = 1e-12

// ErrorKind says how the RMS value attached to an Affine was obtained.
type ErrorKind string

const (
	// ErrorNone means no residual information is available.
	ErrorNone ErrorKind = "none"
	// ErrorExact means RMS was computed from an over-determined
	// least-squares residual.
	ErrorExact ErrorKind = "exact"
	// ErrorEstimated means the value was derived rather than measured:
	// an exactly-determined fit, a composed transform, or an inverse.
	ErrorEstimated ErrorKind = "estimated"
)

// Affine is a 2D affine map y = M*x + D between two coordinate systems.
//
// ErrKind/RMS carry the fit quality. Exactly one of the exact/estimated
// interpretations applies at a time; ErrKind says which. Split fits
// additionally retain the per-stage residuals for reporting.
type Affine struct {
	M [2][2]float64
	D [2]float64

	ErrKind ErrorKind
	RMS     float64

	// Stage residuals of a split (linear + translation) fit.
	HasStageErrors bool
	LinearRMS      float64
	TranslationRMS float64
}

// Decomposition is the rotation/scale/parity/shear factoring of an
// invertible linear part: M = R(Rotation) * [[s1, s1*Shear], [0, s2]] * P
// where P flips the second axis when Parity is true.
type Decomposition struct {
	Rotation float64 // radians
	Scale    [2]float64
	Parity   bool
	Shear    float64
}

// RotationDegrees returns the rotation angle in degrees.
func (d Decomposition) RotationDegrees() float64 {
	return d.Rotation * 180.0 / math.Pi
}

func (t *Affine) det() float64 {
	return t.M[0][0]*t.M[1][1] - t.M[0][1]*t.M[1][0]
}

// meanScale is the isotropic scale magnitude sqrt(|s1*s2|) = sqrt(|det M|),
// used when expressing an error value in the units of the other system.
func (t *Affine) meanScale() float64 {
	return math.Sqrt(math.Abs(t.det()))
}

// Apply maps a single point.
func (t *Affine) Apply(p Point) Point {
	return Point{
		X: t.M[0][0]*p.X + t.M[0][1]*p.Y + t.D[0],
		Y: t.M[1][0]*p.X + t.M[1][1]*p.Y + t.D[1],
	}
}

// Transform applies the map row-wise to an arbitrary point set. It has
// no fitting side effects.
func (t *Affine) Transform(points Points) Points {
	out := make(Points, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// Compose chains t with other: the result maps through t first, then
// through other, so Compose(A->B, B->C) yields A->C.
//
// Error values propagate in quadrature; t's error is expressed in
// other's output units by scaling with other's mean isotropic scale.
// A composed error is always an estimate.
func (t *Affine) Compose(other *Affine) *Affine {
	out := &Affine{}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			out.M[i][j] = other.M[i][0]*t.M[0][j] + other.M[i][1]*t.M[1][j]
		}
		out.D[i] = other.M[i][0]*t.D[0] + other.M[i][1]*t.D[1] + other.D[i]
	}

	out.ErrKind = ErrorNone
	if t.ErrKind != ErrorNone || other.ErrKind != ErrorNone {
		var first, second float64
		if t.ErrKind != ErrorNone {
			first = t.RMS * other.meanScale()
		}
		if other.ErrKind != ErrorNone {
			second = other.RMS
		}
		out.ErrKind = ErrorEstimated
		out.RMS = math.Hypot(first, second)
	}
	return out
}

// Inverse returns the reverse map. The linear part must be invertible.
//
// The forward error is carried over scaled by the inverse's mean
// isotropic scale (sqrt of the product of the inverse scale factors),
// which accounts for the area distortion under inversion. An inverted
// error is always an estimate.
func (t *Affine) Inverse() (*Affine, error) {
	det := t.det()
	if math.Abs(det) < singularEps {
		return nil, &SingularMatrixError{Det: det}
	}

	inv := &Affine{}
	inv.M[0][0] = t.M[1][1] / det
	inv.M[0][1] = -t.M[0][1] / det
	inv.M[1][0] = -t.M[1][0] / det
	inv.M[1][1] = t.M[0][0] / det
	inv.D[0] = -(inv.M[0][0]*t.D[0] + inv.M[0][1]*t.D[1])
	inv.D[1] = -(inv.M[1][0]*t.D[0] + inv.M[1][1]*t.D[1])

	inv.ErrKind = ErrorNone
	if t.ErrKind != ErrorNone {
		inv.ErrKind = ErrorEstimated
		inv.RMS = t.RMS * inv.meanScale()
	}
	return inv, nil
}

// Decompose factors the linear part into rotation, two principal-axis
// scales, parity and shear. Fails on a singular linear part.
func (t *Affine) Decompose() (Decomposition, error) {
	det := t.det()
	if math.Abs(det) < singularEps {
		return Decomposition{}, &SingularMatrixError{Det: det}
	}

	// Factor parity out by flipping the second column, leaving a
	// positive-determinant matrix for the QR step.
	parity := det < 0
	w := t.M
	if parity {
		w[0][1] = -w[0][1]
		w[1][1] = -w[1][1]
	}

	// 2x2 QR via a single Givens rotation: W = R(phi) * upper.
	r00 := math.Hypot(w[0][0], w[1][0])
	cos := w[0][0] / r00
	sin := w[1][0] / r00
	phi := math.Atan2(w[1][0], w[0][0])
	r01 := cos*w[0][1] + sin*w[1][1]
	r11 := -sin*w[0][1] + cos*w[1][1]

	// det(W) > 0 and r00 > 0, so r11 > 0 holds already.
	return Decomposition{
		Rotation: phi,
		Scale:    [2]float64{r00, r11},
		Parity:   parity,
		Shear:    r01 / r00,
	}, nil
}

// Reconstruct builds the linear part back from a decomposition. It is
// the inverse of Decompose up to floating-point error.
func Reconstruct(d Decomposition) [2][2]float64 {
	cos := math.Cos(d.Rotation)
	sin := math.Sin(d.Rotation)
	// upper = [[s1, s1*shear], [0, s2]]
	u00 := d.Scale[0]
	u01 := d.Scale[0] * d.Shear
	u11 := d.Scale[1]

	m := [2][2]float64{
		{cos*u00, cos*u01 - sin*u11},
		{sin*u00, sin*u01 + cos*u11},
	}
	if d.Parity {
		m[0][1] = -m[0][1]
		m[1][1] = -m[1][1]
	}
	return m
}

// FitGeneral fits the full 6-parameter affine map minimizing the total
// squared residual of b ~ M*a + D. At least 3 pairs are required; with
// exactly 3 the fit is exactly determined and the error slot holds an
// estimate (zero), with more pairs the least-squares RMS is exact.
func FitGeneral(a, b Points) (*Affine, error) {
	if err := checkPaired(a, b); err != nil {
		return nil, err
	}
	n := len(a)
	if n < 3 {
		return nil, &InsufficientPointsError{Model: "general affine", Got: n, Need: 3}
	}

	// One design row [x y 1] per pair, solved jointly for both output
	// coordinates.
	design := make([]float64, 0, n*3)
	rhs := make([]float64, 0, n*2)
	for i := 0; i < n; i++ {
		design = append(design, a[i].X, a[i].Y, 1)
		rhs = append(rhs, b[i].X, b[i].Y)
	}
	A := mat.NewDense(n, 3, design)
	B := mat.NewDense(n, 2, rhs)

	var x mat.Dense
	if err := x.Solve(A, B); err != nil {
		return nil, &SingularMatrixError{}
	}

	t := &Affine{
		M: [2][2]float64{
			{x.At(0, 0), x.At(1, 0)},
			{x.At(0, 1), x.At(1, 1)},
		},
		D: [2]float64{x.At(2, 0), x.At(2, 1)},
	}

	if n == 3 {
		t.ErrKind = ErrorEstimated
		t.RMS = 0
		return t, nil
	}
	t.ErrKind = ErrorExact
	t.RMS = rmsResidual(a, b, t)
	return t, nil
}

// FitSimilarity fits a restricted transform: rotation, one isotropic
// scale, optional parity and translation (no shear, no anisotropy).
// At least 2 pairs are required. Parity is detected, not configured:
// the direct and axis-flipped solutions are both computed in closed
// form and the smaller residual wins.
func FitSimilarity(a, b Points) (*Affine, error) {
	if err := checkPaired(a, b); err != nil {
		return nil, err
	}
	n := len(a)
	if n < 2 {
		return nil, &InsufficientPointsError{Model: "similarity", Got: n, Need: 2}
	}

	ca := a.Centroid()
	cb := b.Centroid()

	// Treat centered points as complex numbers: the direct solution is
	// b ~ z*a, the parity solution b ~ z*conj(a), both plain linear
	// least squares in z.
	var den, dirRe, dirIm, flipRe, flipIm float64
	for i := 0; i < n; i++ {
		ax, ay := a[i].X-ca.X, a[i].Y-ca.Y
		bx, by := b[i].X-cb.X, b[i].Y-cb.Y
		den += ax*ax + ay*ay
		// conj(a)*b
		dirRe += ax*bx + ay*by
		dirIm += ax*by - ay*bx
		// a*b
		flipRe += ax*bx - ay*by
		flipIm += ax*by + ay*bx
	}
	if den < singularEps {
		return nil, &SingularMatrixError{}
	}

	direct := similarityCandidate(a, b, ca, cb, dirRe/den, dirIm/den, false)
	flipped := similarityCandidate(a, b, ca, cb, flipRe/den, flipIm/den, true)

	t := direct
	if flipped.RMS < direct.RMS {
		t = flipped
	}
	if n == 2 {
		t.ErrKind = ErrorEstimated
		t.RMS = 0
	} else {
		t.ErrKind = ErrorExact
	}
	return t, nil
}

func similarityCandidate(a, b Points, ca, cb Point, re, im float64, parity bool) *Affine {
	t := &Affine{}
	if parity {
		// z * conj(x): rotation+scale applied after an axis flip.
		t.M = [2][2]float64{{re, im}, {im, -re}}
	} else {
		t.M = [2][2]float64{{re, -im}, {im, re}}
	}
	mapped := t.Apply(ca)
	t.D = [2]float64{cb.X - mapped.X, cb.Y - mapped.Y}
	t.RMS = rmsResidual(a, b, t)
	return t
}

// FitLinear estimates only the 2x2 linear part from marker sets that
// outline the same shape but need not share a frame: both sets are
// centered on their own centroids before the solve, so any fixed
// displacement between them drops out. At least 3 pairs are required
// (centered 2-pair data is rank deficient).
func FitLinear(a, b Points) (linear [2][2]float64, rms float64, err error) {
	if err := checkPaired(a, b); err != nil {
		return linear, 0, err
	}
	n := len(a)
	if n < 3 {
		return linear, 0, &InsufficientPointsError{Model: "linear-only", Got: n, Need: 3}
	}

	ca := a.Centroid()
	cb := b.Centroid()
	design := make([]float64, 0, n*2)
	rhs := make([]float64, 0, n*2)
	for i := 0; i < n; i++ {
		design = append(design, a[i].X-ca.X, a[i].Y-ca.Y)
		rhs = append(rhs, b[i].X-cb.X, b[i].Y-cb.Y)
	}
	A := mat.NewDense(n, 2, design)
	B := mat.NewDense(n, 2, rhs)

	var x mat.Dense
	if err := x.Solve(A, B); err != nil {
		return linear, 0, &SingularMatrixError{}
	}
	linear = [2][2]float64{
		{x.At(0, 0), x.At(1, 0)},
		{x.At(0, 1), x.At(1, 1)},
	}

	var sum float64
	for i := 0; i < n; i++ {
		ax, ay := a[i].X-ca.X, a[i].Y-ca.Y
		dx := linear[0][0]*ax + linear[0][1]*ay - (b[i].X - cb.X)
		dy := linear[1][0]*ax + linear[1][1]*ay - (b[i].Y - cb.Y)
		sum += dx*dx + dy*dy
	}
	return linear, math.Sqrt(sum / float64(n)), nil
}

// FitTranslation estimates only the translation given an already-fixed
// linear part, from an independent marker pair set. One pair suffices.
func FitTranslation(a, b Points, linear [2][2]float64) (d [2]float64, rms float64, err error) {
	if err := checkPaired(a, b); err != nil {
		return d, 0, err
	}
	n := len(a)
	if n < 1 {
		return d, 0, &InsufficientPointsError{Model: "translation-only", Got: n, Need: 1}
	}

	var sx, sy float64
	for i := 0; i < n; i++ {
		sx += b[i].X - (linear[0][0]*a[i].X + linear[0][1]*a[i].Y)
		sy += b[i].Y - (linear[1][0]*a[i].X + linear[1][1]*a[i].Y)
	}
	d = [2]float64{sx / float64(n), sy / float64(n)}

	var sum float64
	for i := 0; i < n; i++ {
		dx := linear[0][0]*a[i].X + linear[0][1]*a[i].Y + d[0] - b[i].X
		dy := linear[1][0]*a[i].X + linear[1][1]*a[i].Y + d[1] - b[i].Y
		sum += dx*dx + dy*dy
	}
	return d, math.Sqrt(sum / float64(n)), nil
}

// FitSplit runs the separate linear + translation strategy: the linear
// part comes from one marker pair set (shape-matched, possibly
// displaced), the translation from a second, independent set. The
// headline error is an estimate taken from the translation-stage
// residuals; both stage residuals are retained for reporting.
func FitSplit(aGl, bGl, aD, bD Points) (*Affine, error) {
	linear, linRMS, err := FitLinear(aGl, bGl)
	if err != nil {
		return nil, err
	}
	d, dRMS, err := FitTranslation(aD, bD, linear)
	if err != nil {
		return nil, err
	}
	return &Affine{
		M:              linear,
		D:              d,
		ErrKind:        ErrorEstimated,
		RMS:            dRMS,
		HasStageErrors: true,
		LinearRMS:      linRMS,
		TranslationRMS: dRMS,
	}, nil
}

func rmsResidual(a, b Points, t *Affine) float64 {
	if len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		p := t.Apply(a[i])
		dx := p.X - b[i].X
		dy := p.Y - b[i].Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(len(a)))
}
