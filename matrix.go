package canvaskit

import (
	"fmt"

	"github.com/chewxy/math32"
	"golang.org/x/image/math/f32"
)

// Mat4 is a 4x4 transform in column-major order: element (row r, column c)
// is at index c*4+r, and the translation lives in indices 12..14.
type Mat4 [16]float32

const (
	// minCameraDistance keeps the orbit eye off the target.
	minCameraDistance = 0.01

	// maxCameraPitch is just short of a quarter turn so the view never
	// looks straight along the up vector.
	maxCameraPitch = 1.553343
)

// Identity returns the identity transform.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a translation by (x, y, z).
func Translation(x, y, z float32) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = x, y, z
	return m
}

// Scaling returns a scale by (x, y, z).
func Scaling(x, y, z float32) Mat4 {
	m := Identity()
	m[0], m[5], m[10] = x, y, z
	return m
}

// Mat4FromSlice copies a 16-float column-major transform.
func Mat4FromSlice(s []float32) (Mat4, error) {
	var m Mat4
	if len(s) != len(m) {
		return m, fmt.Errorf("%w: got %d", ErrInvalidTransform, len(s))
	}
	copy(m[:], s)
	return m, nil
}

// Mul returns m * n, so n is applied first.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+r] * n[c*4+k]
			}
			out[c*4+r] = sum
		}
	}
	return out
}

// Perspective returns a right-handed perspective projection mapping depth
// into [0, 1]. fovY is in radians.
func Perspective(fovY, aspect, near, far float32) (Mat4, error) {
	for _, v := range [...]float32{fovY, aspect, near, far} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return Mat4{}, fmt.Errorf("%w: non-finite value", ErrInvalidProjection)
		}
	}
	switch {
	case fovY <= 0 || fovY >= math32.Pi:
		return Mat4{}, fmt.Errorf("%w: fov %v outside (0, pi)", ErrInvalidProjection, fovY)
	case aspect <= 0:
		return Mat4{}, fmt.Errorf("%w: aspect %v", ErrInvalidProjection, aspect)
	case near <= 0 || far <= near:
		return Mat4{}, fmt.Errorf("%w: near %v far %v", ErrInvalidProjection, near, far)
	}
	f := 1 / math32.Tan(fovY/2)
	return Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, far / (near - far), -1,
		0, 0, near * far / (near - far), 0,
	}, nil
}

// LookAt returns a right-handed view transform with the eye at eye looking
// at target. A degenerate setup (eye on target, or up parallel to the view
// direction) yields the identity.
func LookAt(eye, target, up f32.Vec3) Mat4 {
	fwd, ok := normalize(sub(target, eye))
	if !ok {
		return Identity()
	}
	side, ok := normalize(cross(fwd, up))
	if !ok {
		return Identity()
	}
	u := cross(side, fwd)
	return Mat4{
		side[0], u[0], -fwd[0], 0,
		side[1], u[1], -fwd[1], 0,
		side[2], u[2], -fwd[2], 0,
		-dot(side, eye), -dot(u, eye), dot(fwd, eye), 1,
	}
}

// OrbitView returns the view transform of a camera orbiting target. Yaw
// turns around the Y axis, pitch tilts towards it; both are radians.
// Distance is floored at 0.01 and pitch is clamped just short of the poles.
func OrbitView(target f32.Vec3, yaw, pitch, distance float32) Mat4 {
	distance = math32.Max(distance, minCameraDistance)
	pitch = math32.Max(-maxCameraPitch, math32.Min(pitch, maxCameraPitch))
	cp := math32.Cos(pitch)
	eye := f32.Vec3{
		target[0] + distance*cp*math32.Sin(yaw),
		target[1] + distance*math32.Sin(pitch),
		target[2] + distance*cp*math32.Cos(yaw),
	}
	return LookAt(eye, target, f32.Vec3{0, 1, 0})
}

func sub(a, b f32.Vec3) f32.Vec3 { return f32.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func dot(a, b f32.Vec3) float32  { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v f32.Vec3) (f32.Vec3, bool) {
	l := math32.Sqrt(dot(v, v))
	if l < 1e-6 {
		return v, false
	}
	return f32.Vec3{v[0] / l, v[1] / l, v[2] / l}, true
}
