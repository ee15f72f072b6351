package rectify

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SingularValueThreshold is the cut-off below which singular values are treated
// as zero when inverting P·R.
const SingularValueThreshold = 1e-6

// inverseMap returns pinv(P·R), the map from destination pixels to rectified
// camera-space rays.
func inverseMap(r, p mat.Matrix) [9]float64 {
	checkSquare3("R", r)
	checkSquare3("P", p)

	var pr mat.Dense
	pr.Mul(p, r)
	inv := pseudoInverse(&pr, SingularValueThreshold)

	var m [9]float64
	for i := range 3 {
		for j := range 3 {
			m[i*3+j] = inv.At(i, j)
		}
	}
	return m
}

func checkSquare3(name string, m mat.Matrix) {
	if m == nil {
		panic(fmt.Sprintf("rectify: %s is nil", name))
	}
	if r, c := m.Dims(); r != 3 || c != 3 {
		panic(fmt.Sprintf("rectify: %s must be 3x3, got %dx%d", name, r, c))
	}
}

// pseudoInverse computes the Moore-Penrose inverse V·Σ⁺·Uᵀ. Singular values not
// above eps are dropped. A matrix with none left cannot be inverted and panics.
func pseudoInverse(a mat.Matrix, eps float64) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		panic("rectify: SVD factorization failed")
	}

	values := svd.Values(nil)
	inv := make([]float64, len(values))
	rank := 0
	for i, s := range values {
		if s > eps {
			inv[i] = 1 / s
			rank++
		}
	}
	if rank == 0 {
		panic("rectify: P·R is not invertible")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var vs, out mat.Dense
	vs.Mul(&v, mat.NewDiagDense(len(inv), inv))
	out.Mul(&vs, u.T())
	return &out
}
