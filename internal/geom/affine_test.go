package geom

import (
	"errors"
	"math"
	"testing"
)

const tol = 1e-9

func pointsClose(t *testing.T, got, want Points, eps float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i].X-want[i].X) > eps || math.Abs(got[i].Y-want[i].Y) > eps {
			t.Errorf("point %d: got (%g, %g), want (%g, %g)", i, got[i].X, got[i].Y, want[i].X, want[i].Y)
		}
	}
}

func TestFitGeneral_ExactThreePointFit(t *testing.T) {
	a := Points{{0, 0}, {1, 0}, {0, 1}}
	b := Points{{0, 0}, {2, 0}, {0, 2}}

	tr, err := FitGeneral(a, b)
	if err != nil {
		t.Fatalf("FitGeneral: %v", err)
	}

	want := [2][2]float64{{2, 0}, {0, 2}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(tr.M[i][j]-want[i][j]) > tol {
				t.Errorf("M[%d][%d] = %g, want %g", i, j, tr.M[i][j], want[i][j])
			}
		}
	}
	if math.Abs(tr.D[0]) > tol || math.Abs(tr.D[1]) > tol {
		t.Errorf("translation = %v, want zero", tr.D)
	}
	if tr.ErrKind != ErrorEstimated {
		t.Errorf("ErrKind = %s, want estimated for an exactly determined fit", tr.ErrKind)
	}
	if tr.RMS != 0 {
		t.Errorf("RMS = %g, want 0", tr.RMS)
	}

	dec, err := tr.Decompose()
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if math.Abs(dec.Scale[0]-2) > tol || math.Abs(dec.Scale[1]-2) > tol {
		t.Errorf("scale = %v, want [2 2]", dec.Scale)
	}
	if math.Abs(dec.Rotation) > tol {
		t.Errorf("rotation = %g, want 0", dec.Rotation)
	}
	if dec.Parity {
		t.Error("parity = true, want false")
	}
	if math.Abs(dec.Shear) > tol {
		t.Errorf("shear = %g, want 0", dec.Shear)
	}

	// The fitted map must reproduce the three pairs exactly.
	pointsClose(t, tr.Transform(a), b, tol)
}

func TestFitGeneral_Overdetermined(t *testing.T) {
	truth := &Affine{M: [2][2]float64{{1.4, -0.3}, {0.2, 1.1}}, D: [2]float64{5, -7}}
	a := Points{{0, 0}, {10, 0}, {0, 10}, {10, 10}, {5, 3}, {-2, 8}}
	b := truth.Transform(a)

	tr, err := FitGeneral(a, b)
	if err != nil {
		t.Fatalf("FitGeneral: %v", err)
	}
	if tr.ErrKind != ErrorExact {
		t.Errorf("ErrKind = %s, want exact for over-determined fit", tr.ErrKind)
	}
	if tr.RMS > 1e-8 {
		t.Errorf("RMS = %g, want ~0 on consistent data", tr.RMS)
	}
	pointsClose(t, tr.Transform(a), b, 1e-8)
}

func TestFitGeneral_InsufficientPoints(t *testing.T) {
	_, err := FitGeneral(Points{{0, 0}, {1, 1}}, Points{{0, 0}, {2, 2}})
	var insufficient *InsufficientPointsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientPointsError", err)
	}
	if insufficient.Need != 3 || insufficient.Got != 2 {
		t.Errorf("got %+v, want Need=3 Got=2", insufficient)
	}
}

func TestFitGeneral_MismatchedLengths(t *testing.T) {
	_, err := FitGeneral(Points{{0, 0}, {1, 0}, {0, 1}}, Points{{0, 0}, {1, 0}})
	var mismatched *MismatchedLengthError
	if !errors.As(err, &mismatched) {
		t.Fatalf("err = %v, want MismatchedLengthError", err)
	}
}

func TestFitGeneral_CollinearMarkers(t *testing.T) {
	a := Points{{0, 0}, {1, 1}, {2, 2}}
	b := Points{{0, 0}, {2, 2}, {4, 4}}
	_, err := FitGeneral(a, b)
	var singular *SingularMatrixError
	if !errors.As(err, &singular) {
		t.Fatalf("err = %v, want SingularMatrixError for collinear markers", err)
	}
}

func TestComposeInverseRoundTrip(t *testing.T) {
	tr := &Affine{M: [2][2]float64{{1.2, 0.4}, {-0.3, 0.9}}, D: [2]float64{12, -3}}
	inv, err := tr.Inverse()
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}

	pts := Points{{0, 0}, {3, 4}, {-10, 7}, {120, -55.5}}
	round := tr.Compose(inv)
	pointsClose(t, round.Transform(pts), pts, 1e-9)
}

func TestDoubleInverse(t *testing.T) {
	tr := &Affine{M: [2][2]float64{{0.5, 1.5}, {2.0, -0.25}}, D: [2]float64{-4, 9}}
	inv, err := tr.Inverse()
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	back, err := inv.Inverse()
	if err != nil {
		t.Fatalf("second Inverse: %v", err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(back.M[i][j]-tr.M[i][j]) > tol {
				t.Errorf("M[%d][%d] = %g, want %g", i, j, back.M[i][j], tr.M[i][j])
			}
		}
		if math.Abs(back.D[i]-tr.D[i]) > tol {
			t.Errorf("D[%d] = %g, want %g", i, back.D[i], tr.D[i])
		}
	}
}

func TestInverse_Singular(t *testing.T) {
	tr := &Affine{M: [2][2]float64{{1, 2}, {2, 4}}}
	if _, err := tr.Inverse(); err == nil {
		t.Fatal("expected error inverting singular linear part")
	}
	if _, err := tr.Decompose(); err == nil {
		t.Fatal("expected error decomposing singular linear part")
	}
}

func TestInverse_ErrorPropagation(t *testing.T) {
	// Uniform scale 2: inverse scales are (0.5, 0.5), so the forward
	// error must be halved and flagged as estimated.
	tr := &Affine{
		M:       [2][2]float64{{2, 0}, {0, 2}},
		ErrKind: ErrorExact,
		RMS:     1.0,
	}
	inv, err := tr.Inverse()
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	if inv.ErrKind != ErrorEstimated {
		t.Errorf("ErrKind = %s, want estimated", inv.ErrKind)
	}
	if math.Abs(inv.RMS-0.5) > tol {
		t.Errorf("RMS = %g, want 0.5", inv.RMS)
	}

	// No forward error: the inverse carries none either.
	plain := &Affine{M: [2][2]float64{{2, 0}, {0, 2}}, ErrKind: ErrorNone}
	pinv, err := plain.Inverse()
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	if pinv.ErrKind != ErrorNone {
		t.Errorf("ErrKind = %s, want none", pinv.ErrKind)
	}
}

func TestDecomposeReconstruct(t *testing.T) {
	cases := []struct {
		name string
		m    [2][2]float64
	}{
		{"rotation", [2][2]float64{{0, -1}, {1, 0}}},
		{"rot_scale_shear", [2][2]float64{{1.8, 0.7}, {-0.4, 1.1}}},
		{"parity", [2][2]float64{{1, 0}, {0, -1}}},
		{"parity_rot_scale", [2][2]float64{{0.3, 2.1}, {1.7, -0.2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &Affine{M: tc.m}
			dec, err := tr.Decompose()
			if err != nil {
				t.Fatalf("Decompose: %v", err)
			}
			if dec.Scale[0] <= 0 || dec.Scale[1] <= 0 {
				t.Errorf("principal scales must be positive, got %v", dec.Scale)
			}
			back := Reconstruct(dec)
			for i := 0; i < 2; i++ {
				for j := 0; j < 2; j++ {
					if math.Abs(back[i][j]-tc.m[i][j]) > 1e-9 {
						t.Errorf("reconstructed M[%d][%d] = %g, want %g", i, j, back[i][j], tc.m[i][j])
					}
				}
			}
			wantParity := tc.m[0][0]*tc.m[1][1]-tc.m[0][1]*tc.m[1][0] < 0
			if dec.Parity != wantParity {
				t.Errorf("parity = %v, want %v", dec.Parity, wantParity)
			}
		})
	}
}

func TestFitSimilarity(t *testing.T) {
	// Rotation by 30 degrees, scale 1.5, translation (3, -2).
	phi := math.Pi / 6
	truth := &Affine{
		M: [2][2]float64{
			{1.5 * math.Cos(phi), -1.5 * math.Sin(phi)},
			{1.5 * math.Sin(phi), 1.5 * math.Cos(phi)},
		},
		D: [2]float64{3, -2},
	}
	a := Points{{0, 0}, {4, 1}, {-2, 5}, {7, 7}}
	b := truth.Transform(a)

	tr, err := FitSimilarity(a, b)
	if err != nil {
		t.Fatalf("FitSimilarity: %v", err)
	}
	pointsClose(t, tr.Transform(a), b, 1e-8)

	dec, err := tr.Decompose()
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if math.Abs(dec.Scale[0]-1.5) > 1e-8 || math.Abs(dec.Scale[1]-1.5) > 1e-8 {
		t.Errorf("scale = %v, want isotropic 1.5", dec.Scale)
	}
	if math.Abs(dec.Rotation-phi) > 1e-8 {
		t.Errorf("rotation = %g, want %g", dec.Rotation, phi)
	}
	if dec.Parity {
		t.Error("parity = true, want false")
	}
	if tr.ErrKind != ErrorExact {
		t.Errorf("ErrKind = %s, want exact for 4-pair fit", tr.ErrKind)
	}
}

func TestFitSimilarity_Parity(t *testing.T) {
	// Axis flip followed by rotation: determinant is negative.
	truth := &Affine{M: [2][2]float64{{1.2, 0}, {0, -1.2}}, D: [2]float64{1, 1}}
	a := Points{{0, 0}, {4, 1}, {-2, 5}}
	b := truth.Transform(a)

	tr, err := FitSimilarity(a, b)
	if err != nil {
		t.Fatalf("FitSimilarity: %v", err)
	}
	pointsClose(t, tr.Transform(a), b, 1e-8)

	dec, err := tr.Decompose()
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if !dec.Parity {
		t.Error("parity = false, want true for a reflecting map")
	}
}

func TestFitSimilarity_TwoPairMinimum(t *testing.T) {
	a := Points{{0, 0}, {1, 0}}
	b := Points{{5, 5}, {5, 7}}
	tr, err := FitSimilarity(a, b)
	if err != nil {
		t.Fatalf("FitSimilarity: %v", err)
	}
	if tr.ErrKind != ErrorEstimated {
		t.Errorf("ErrKind = %s, want estimated for exactly determined fit", tr.ErrKind)
	}
	pointsClose(t, tr.Transform(a), b, 1e-9)

	_, err = FitSimilarity(Points{{0, 0}}, Points{{1, 1}})
	var insufficient *InsufficientPointsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientPointsError", err)
	}
}

func TestFitSplit(t *testing.T) {
	truth := &Affine{M: [2][2]float64{{2, 0.5}, {-0.5, 2}}, D: [2]float64{100, 200}}

	// Shape markers share the linear part but are displaced between the
	// two systems; the displacement must not affect the linear fit.
	aGl := Points{{0, 0}, {10, 0}, {0, 10}, {10, 10}}
	bGl := truth.Transform(aGl).Shift(Point{X: 55, Y: -31})

	// Translation markers correspond directly.
	aD := Points{{3, 4}}
	bD := truth.Transform(aD)

	tr, err := FitSplit(aGl, bGl, aD, bD)
	if err != nil {
		t.Fatalf("FitSplit: %v", err)
	}
	if !tr.HasStageErrors {
		t.Error("expected stage errors on split fit")
	}
	if tr.ErrKind != ErrorEstimated {
		t.Errorf("ErrKind = %s, want estimated", tr.ErrKind)
	}

	pts := Points{{1, 2}, {-5, 9}, {20, 20}}
	pointsClose(t, tr.Transform(pts), truth.Transform(pts), 1e-7)
}

func TestFitSplit_InsufficientShapeMarkers(t *testing.T) {
	_, err := FitSplit(Points{{0, 0}, {1, 1}}, Points{{0, 0}, {1, 1}}, Points{{0, 0}}, Points{{0, 0}})
	var insufficient *InsufficientPointsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientPointsError", err)
	}
}

func TestCompose_ErrorPropagation(t *testing.T) {
	first := &Affine{M: [2][2]float64{{1, 0}, {0, 1}}, ErrKind: ErrorExact, RMS: 3}
	second := &Affine{M: [2][2]float64{{2, 0}, {0, 2}}, ErrKind: ErrorExact, RMS: 4}

	composed := first.Compose(second)
	if composed.ErrKind != ErrorEstimated {
		t.Errorf("ErrKind = %s, want estimated", composed.ErrKind)
	}
	// First-stage error scales by the second stage's mean scale (2),
	// then adds in quadrature: sqrt(6^2 + 4^2).
	want := math.Hypot(6, 4)
	if math.Abs(composed.RMS-want) > tol {
		t.Errorf("RMS = %g, want %g", composed.RMS, want)
	}

	noErr := &Affine{M: [2][2]float64{{1, 0}, {0, 1}}}
	if noErr.Compose(noErr).ErrKind != ErrorNone {
		t.Error("composing error-free transforms must stay error-free")
	}
}
