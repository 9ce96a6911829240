package shader

import (
	"image"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// TriangleMesh is an indexed triangle mesh with optional per-vertex attributes. Materials hold
// roughness, metallic and ambient occlusion per vertex.
type TriangleMesh struct {
	Vertices  []mgl32.Vec3
	Normals   []mgl32.Vec3
	Colors    []mgl32.Vec3
	Materials []mgl32.Vec3
	UVs       []mgl32.Vec2
	Triangles [][3]uint32
	// Texture is the image the UV coordinates address.
	Texture image.Image
}

// HasNormals reports whether every vertex has a normal.
func (m *TriangleMesh) HasNormals() bool {
	return len(m.Vertices) > 0 && len(m.Normals) == len(m.Vertices)
}

// HasColors reports whether every vertex has a color.
func (m *TriangleMesh) HasColors() bool {
	return len(m.Vertices) > 0 && len(m.Colors) == len(m.Vertices)
}

// HasMaterials reports whether every vertex has material parameters.
func (m *TriangleMesh) HasMaterials() bool {
	return len(m.Vertices) > 0 && len(m.Materials) == len(m.Vertices)
}

// HasUVs reports whether every vertex has texture coordinates.
func (m *TriangleMesh) HasUVs() bool {
	return len(m.Vertices) > 0 && len(m.UVs) == len(m.Vertices)
}

// checkTriangles verifies that the mesh has triangles and that every index addresses a vertex.
func (m *TriangleMesh) checkTriangles() error {
	if len(m.Triangles) == 0 {
		return errors.Wrap(ErrUnsupportedGeometry, "mesh has no triangles")
	}
	for i, tri := range m.Triangles {
		for _, idx := range tri {
			if int(idx) >= len(m.Vertices) {
				return errors.Wrapf(ErrUnsupportedGeometry, "triangle %d uses vertex %d of %d", i, idx, len(m.Vertices))
			}
		}
	}
	return nil
}

func flattenVec3(vs []mgl32.Vec3) []float32 {
	out := make([]float32, 0, 3*len(vs))
	for _, v := range vs {
		out = append(out, v[0], v[1], v[2])
	}
	return out
}

func flattenVec2(vs []mgl32.Vec2) []float32 {
	out := make([]float32, 0, 2*len(vs))
	for _, v := range vs {
		out = append(out, v[0], v[1])
	}
	return out
}

func flattenTriangles(tris [][3]uint32) []uint32 {
	out := make([]uint32, 0, 3*len(tris))
	for _, t := range tris {
		out = append(out, t[0], t[1], t[2])
	}
	return out
}

// RenderOption carries the lighting inputs of a render pass.
type RenderOption struct {
	// Environment holds the prefiltered environment maps sampled by the direct sampling pass,
	// diffuse irradiance first and specular second.
	Environment []image.Image
}

// ViewControl is the camera of a render pass.
type ViewControl struct {
	Model      mgl32.Mat4
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Eye        mgl32.Vec3
}

// NewLookAtView returns a view with an identity model matrix looking from eye at center with a
// perspective projection.
func NewLookAtView(eye, center, up mgl32.Vec3, fovyDeg, aspect, near, far float32) *ViewControl {
	return &ViewControl{
		Model:      mgl32.Ident4(),
		View:       mgl32.LookAtV(eye, center, up),
		Projection: mgl32.Perspective(mgl32.DegToRad(fovyDeg), aspect, near, far),
		Eye:        eye,
	}
}
