package splatsort

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera carries the per-tick view state the sorter consumes. Positions and
// the camera live in the same stable local space; the sorter never mutates it.
type Camera struct {
	Position mgl32.Vec3
	LookAt   mgl32.Vec3
	Up       mgl32.Vec3
	Fov      float32 // vertical field of view, radians
	Aspect   float32
	Near     float32
	Far      float32
}

// Direction returns the normalized view axis. A degenerate camera (LookAt
// coincides with Position) yields the zero vector; the scheduler treats that
// as "no movement" rather than dividing by zero.
func (c Camera) Direction() mgl32.Vec3 {
	d := c.LookAt.Sub(c.Position)
	if d.LenSqr() == 0 {
		return mgl32.Vec3{}
	}
	return d.Normalize()
}

func (c Camera) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.LookAt, c.Up)
}

func (c Camera) ProjectionMatrix() mgl32.Mat4 {
	return mgl32.Perspective(c.Fov, c.Aspect, c.Near, c.Far)
}

func (c Camera) ViewProjection() mgl32.Mat4 {
	return c.ProjectionMatrix().Mul4(c.ViewMatrix())
}

// frustum holds the six clip planes as (A,B,C,D) with Ax+By+Cz+D = 0,
// normals pointing inward. Order: Left, Right, Bottom, Top, Near, Far.
type frustum [6]mgl32.Vec4

// extractFrustum pulls the planes out of a view-projection matrix
// (Gribb-Hartmann) and normalizes them so plane distances are metric.
func extractFrustum(vp mgl32.Mat4) frustum {
	var planes frustum

	// Left: row 3 + row 0
	planes[0] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(0, 0),
		vp.At(3, 1) + vp.At(0, 1),
		vp.At(3, 2) + vp.At(0, 2),
		vp.At(3, 3) + vp.At(0, 3),
	}
	// Right: row 3 - row 0
	planes[1] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(0, 0),
		vp.At(3, 1) - vp.At(0, 1),
		vp.At(3, 2) - vp.At(0, 2),
		vp.At(3, 3) - vp.At(0, 3),
	}
	// Bottom: row 3 + row 1
	planes[2] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(1, 0),
		vp.At(3, 1) + vp.At(1, 1),
		vp.At(3, 2) + vp.At(1, 2),
		vp.At(3, 3) + vp.At(1, 3),
	}
	// Top: row 3 - row 1
	planes[3] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(1, 0),
		vp.At(3, 1) - vp.At(1, 1),
		vp.At(3, 2) - vp.At(1, 2),
		vp.At(3, 3) - vp.At(1, 3),
	}
	// Near: row 3 + row 2
	planes[4] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(2, 0),
		vp.At(3, 1) + vp.At(2, 1),
		vp.At(3, 2) + vp.At(2, 2),
		vp.At(3, 3) + vp.At(2, 3),
	}
	// Far: row 3 - row 2
	planes[5] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(2, 0),
		vp.At(3, 1) - vp.At(2, 1),
		vp.At(3, 2) - vp.At(2, 2),
		vp.At(3, 3) - vp.At(2, 3),
	}

	for i := 0; i < 6; i++ {
		length := float32(math.Sqrt(float64(planes[i][0]*planes[i][0] +
			planes[i][1]*planes[i][1] + planes[i][2]*planes[i][2])))
		if length > 0 {
			planes[i] = planes[i].Mul(1.0 / length)
		}
	}

	return planes
}

// FrustumPlanes exposes the normalized clip planes of a view-projection
// matrix as (A,B,C,D) rows, normals inward, in Left, Right, Bottom, Top,
// Near, Far order. GPU backends upload these to their culling kernels.
func FrustumPlanes(vp mgl32.Mat4) [6]mgl32.Vec4 {
	return [6]mgl32.Vec4(extractFrustum(vp))
}

// containsPoint reports whether p lies inside the frustum. A positive margin
// widens each plane outward so splats straddling the frustum edge survive
// culling instead of popping in and out as the camera moves.
func (f frustum) containsPoint(p mgl32.Vec3, margin float32) bool {
	for i := 0; i < 6; i++ {
		dist := f[i][0]*p[0] + f[i][1]*p[1] + f[i][2]*p[2] + f[i][3]
		if dist < -margin {
			return false
		}
	}
	return true
}
