package particles

import "math"

// CenterOfMass returns the centroid of all voxels carrying the given
// label id, as fractional coordinates. ok is false when the id is
// absent from the label volume.
func CenterOfMass(labels []int32, shape [3]int, id int32) (center [3]float64, ok bool) {
	var sx, sy, sz float64
	count := 0
	i := 0
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				if labels[i] == id {
					sx += float64(x)
					sy += float64(y)
					sz += float64(z)
					count++
				}
				i++
			}
		}
	}
	if count == 0 {
		return center, false
	}
	n := float64(count)
	return [3]float64{sx / n, sy / n, sz / n}, true
}

// RoundCenter converts a fractional centroid to the integer voxel
// center used for box resolution.
func RoundCenter(c [3]float64) [3]int {
	return [3]int{
		int(math.Round(c[0])),
		int(math.Round(c[1])),
		int(math.Round(c[2])),
	}
}
