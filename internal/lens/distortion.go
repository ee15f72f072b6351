package lens

import "math"

const (
	// NewtonIterations bounds the inverse distortion solver.
	NewtonIterations = 10
	// NewtonEpsilon is both the convergence step and the on-axis threshold.
	NewtonEpsilon = 1e-8
)

// Distortion holds the equidistant fisheye coefficients (k1, k2, k3, k4) of
//
//	theta_d = theta * (1 + k1*theta^2 + k2*theta^4 + k3*theta^6 + k4*theta^8)
type Distortion [4]float64

// Distort maps an incidence angle to its distorted angle.
func (d Distortion) Distort(theta float64) float64 {
	t2 := theta * theta
	t4 := t2 * t2
	t6 := t4 * t2
	t8 := t6 * t2
	return theta * (1 + d[0]*t2 + d[1]*t4 + d[2]*t6 + d[3]*t8)
}

// derivative is d(Distort)/d(theta).
func (d Distortion) derivative(theta float64) float64 {
	t2 := theta * theta
	t4 := t2 * t2
	t6 := t4 * t2
	t8 := t6 * t2
	return 1 + 3*d[0]*t2 + 5*d[1]*t4 + 7*d[2]*t6 + 9*d[3]*t8
}

// Undistort solves Distort(theta) = thetaD for theta with Newton's method, starting
// at theta = thetaD. ok is false when the solver does not converge within
// NewtonIterations steps or when theta ends up on the other side of zero.
func (d Distortion) Undistort(thetaD float64) (theta float64, ok bool) {
	theta = thetaD
	if math.Abs(thetaD) <= NewtonEpsilon {
		return theta, true
	}

	converged := false
	for range NewtonIterations {
		step := (d.Distort(theta) - thetaD) / d.derivative(theta)
		theta -= step
		if math.Abs(step) < NewtonEpsilon {
			converged = true
			break
		}
	}

	flipped := (thetaD < 0 && theta > 0) || (thetaD > 0 && theta < 0)
	return theta, converged && !flipped
}
