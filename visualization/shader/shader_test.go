package shader

import (
	"image"
	"image/color"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/densevo/logging"
)

func quadMesh() *TriangleMesh {
	tex := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range tex.Pix {
		tex.Pix[i] = 200
	}
	return &TriangleMesh{
		Vertices:  []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Colors:    []mgl32.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 1}},
		Materials: []mgl32.Vec3{{0.5, 0, 1}, {0.5, 0, 1}, {0.5, 0, 1}, {0.5, 0, 1}},
		UVs:       []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Triangles: [][3]uint32{{0, 1, 2}, {0, 2, 3}},
		Texture:   tex,
	}
}

func envOption() *RenderOption {
	diffuse := image.NewGray(image.Rect(0, 0, 8, 4))
	specular := image.NewRGBA(image.Rect(0, 0, 16, 8))
	specular.Set(1, 1, color.RGBA{255, 0, 0, 255})
	return &RenderOption{Environment: []image.Image{diffuse, specular}}
}

func testView() *ViewControl {
	return NewLookAtView(mgl32.Vec3{0.5, 0.5, 3}, mgl32.Vec3{0.5, 0.5, 0}, mgl32.Vec3{0, 1, 0}, 60, 1, 0.1, 10)
}

func TestPrepareDirectSamplingBinding(t *testing.T) {
	binding, err := PrepareDirectSamplingBinding(quadMesh())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(binding.Points), test.ShouldEqual, 12)
	test.That(t, len(binding.Materials), test.ShouldEqual, 12)
	test.That(t, binding.Colors[3:6], test.ShouldResemble, []float32{0, 1, 0})
	test.That(t, binding.Triangles, test.ShouldResemble, []uint32{0, 1, 2, 0, 2, 3})

	noNormals := quadMesh()
	noNormals.Normals = nil
	_, err = PrepareDirectSamplingBinding(noNormals)
	test.That(t, errors.Is(err, ErrUnsupportedGeometry), test.ShouldBeTrue)

	badIndex := quadMesh()
	badIndex.Triangles = append(badIndex.Triangles, [3]uint32{0, 1, 9})
	_, err = PrepareDirectSamplingBinding(badIndex)
	test.That(t, errors.Is(err, ErrUnsupportedGeometry), test.ShouldBeTrue)
}

func TestPrepareUVTexAtlasBinding(t *testing.T) {
	binding, err := PrepareUVTexAtlasBinding(quadMesh())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, binding.UVs, test.ShouldResemble, []float32{0, 0, 1, 0, 1, 1, 0, 1})

	noTexture := quadMesh()
	noTexture.Texture = nil
	_, err = PrepareUVTexAtlasBinding(noTexture)
	test.That(t, errors.Is(err, ErrUnsupportedGeometry), test.ShouldBeTrue)

	noUVs := quadMesh()
	noUVs.UVs = noUVs.UVs[:2]
	_, err = PrepareUVTexAtlasBinding(noUVs)
	test.That(t, errors.Is(err, ErrUnsupportedGeometry), test.ShouldBeTrue)
}

func TestDirectSamplingLifecycle(t *testing.T) {
	backend := NewMemoryBackend()
	s := NewDirectSamplingShader(backend, logging.NewTestLogger(t))
	mesh, option, view := quadMesh(), envOption(), testView()

	test.That(t, errors.Is(s.BindGeometry(mesh, option, view), ErrNotCompiled), test.ShouldBeTrue)

	test.That(t, Render(s, mesh, option, view), test.ShouldBeNil)
	test.That(t, s.Compiled(), test.ShouldBeTrue)
	test.That(t, s.Bound(), test.ShouldBeTrue)
	programs, buffers, textures := backend.LiveResources()
	test.That(t, programs, test.ShouldEqual, 1)
	test.That(t, buffers, test.ShouldEqual, 5)
	test.That(t, textures, test.ShouldEqual, NumEnvTextures)

	// a second render reuses the bound geometry
	test.That(t, Render(s, mesh, option, view), test.ShouldBeNil)
	_, buffers, _ = backend.LiveResources()
	test.That(t, buffers, test.ShouldEqual, 5)

	draws := backend.DrawCalls()
	test.That(t, len(draws), test.ShouldEqual, 2)
	test.That(t, draws[0].Program, test.ShouldEqual, "DirectSamplingShader")
	test.That(t, draws[0].Indices, test.ShouldEqual, 6)
	test.That(t, draws[0].Attributes, test.ShouldResemble, map[int]int{0: 3, 1: 3, 2: 3, 3: 3})
	test.That(t, draws[0].Vec3s["camera_position"], test.ShouldResemble, view.Eye)
	test.That(t, draws[0].Mat4s["P"], test.ShouldResemble, view.Projection)
	test.That(t, draws[0].Textures[1], test.ShouldResemble, image.Point{16, 8})

	s.UnbindGeometry()
	test.That(t, s.Bound(), test.ShouldBeFalse)
	test.That(t, errors.Is(s.RenderGeometry(mesh, option, view), ErrNotBound), test.ShouldBeTrue)

	s.Release()
	programs, buffers, textures = backend.LiveResources()
	test.That(t, programs, test.ShouldEqual, 0)
	test.That(t, buffers, test.ShouldEqual, 0)
	test.That(t, textures, test.ShouldEqual, 0)
}

func TestDirectSamplingNeedsEnvironment(t *testing.T) {
	backend := NewMemoryBackend()
	s := NewDirectSamplingShader(backend, logging.NewTestLogger(t))
	err := Render(s, quadMesh(), &RenderOption{}, testView())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, s.Bound(), test.ShouldBeFalse)
	_, buffers, textures := backend.LiveResources()
	test.That(t, buffers, test.ShouldEqual, 0)
	test.That(t, textures, test.ShouldEqual, 0)
	s.Release()
}

func TestUVTexAtlasLifecycle(t *testing.T) {
	backend := NewMemoryBackend()
	s := NewUVTexAtlasShader(backend, logging.NewTestLogger(t))
	mesh, view := quadMesh(), testView()

	test.That(t, Render(s, mesh, nil, view), test.ShouldBeNil)
	draws := backend.DrawCalls()
	test.That(t, len(draws), test.ShouldEqual, 1)
	test.That(t, draws[0].Program, test.ShouldEqual, "UVTexAtlasShader")
	test.That(t, draws[0].Attributes, test.ShouldResemble, map[int]int{0: 3, 1: 2})
	test.That(t, draws[0].Textures[0], test.ShouldResemble, image.Point{4, 4})
	test.That(t, draws[0].Mat4s["M"], test.ShouldResemble, mgl32.Ident4())

	// binding a mesh without uvs fails and leaves nothing bound
	bad := quadMesh()
	bad.UVs = nil
	err := s.BindGeometry(bad, nil, view)
	test.That(t, errors.Is(err, ErrUnsupportedGeometry), test.ShouldBeTrue)
	test.That(t, s.Bound(), test.ShouldBeFalse)

	s.Release()
	programs, buffers, textures := backend.LiveResources()
	test.That(t, programs+buffers+textures, test.ShouldEqual, 0)
}

func TestMemoryBackendValidation(t *testing.T) {
	backend := NewMemoryBackend()
	_, err := backend.CompileProgram("empty", "", "")
	test.That(t, err, test.ShouldNotBeNil)

	program, err := backend.CompileProgram("p", "uniform mat4 M;", "uniform sampler2D tex;")
	test.That(t, err, test.ShouldBeNil)
	_, err = backend.UniformLocation(program, "missing")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = backend.CreateVertexBuffer([]float32{1, 2, 3, 4}, 3)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = backend.CreateIndexBuffer([]uint32{0, 1})
	test.That(t, err, test.ShouldNotBeNil)

	vb, err := backend.CreateVertexBuffer([]float32{0, 0, 0, 1, 0, 0}, 3)
	test.That(t, err, test.ShouldBeNil)
	ib, err := backend.CreateIndexBuffer([]uint32{0, 1, 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, backend.UseProgram(program), test.ShouldBeNil)
	test.That(t, backend.BindVertexBuffer(0, vb), test.ShouldBeNil)
	test.That(t, backend.DrawTriangles(ib), test.ShouldNotBeNil)

	test.That(t, backend.DeleteBuffer(vb), test.ShouldBeNil)
	test.That(t, backend.DeleteBuffer(vb), test.ShouldNotBeNil)
}
