package shader

import (
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/densevo/logging"
)

const (
	attribUVPosition = iota
	attribUV
)

// The atlas pass rasterizes in texture space: every triangle lands at its UV coordinates and
// samples the target image where its 3D position projects.
const uvTexAtlasVertex = `#version 330 core
layout(location = 0) in vec3 vertex_position;
layout(location = 1) in vec2 vertex_uv;
out vec4 projected;
uniform mat4 M;
uniform mat4 V;
uniform mat4 P;
void main() {
    projected = P * V * M * vec4(vertex_position, 1.0);
    gl_Position = vec4(vertex_uv * 2.0 - 1.0, 0.0, 1.0);
}
`

const uvTexAtlasFragment = `#version 330 core
in vec4 projected;
out vec4 frag_color;
uniform sampler2D tex_target;
void main() {
    vec3 ndc = projected.xyz / projected.w;
    if (any(greaterThan(abs(ndc), vec3(1.0)))) {
        discard;
    }
    frag_color = texture(tex_target, ndc.xy * 0.5 + 0.5);
}
`

// UVTexAtlasShader projects a target image onto a mesh and writes the result into the mesh's
// UV texture atlas. One target image is bound at a time.
type UVTexAtlasShader struct {
	base
	logger logging.Logger

	m, v, p   Handle
	texTarget Handle

	positions Handle
	uvs       Handle
	triangles Handle
	target    Handle
}

// NewUVTexAtlasShader returns an uncompiled UV atlas pass on backend.
func NewUVTexAtlasShader(backend Backend, logger logging.Logger) *UVTexAtlasShader {
	return &UVTexAtlasShader{
		base:   base{name: "UVTexAtlasShader", backend: backend},
		logger: logger,
	}
}

// Compile builds the program and resolves its uniforms.
func (s *UVTexAtlasShader) Compile() error {
	return s.compile(uvTexAtlasVertex, uvTexAtlasFragment,
		[]string{"M", "V", "P", "tex_target"},
		&s.m, &s.v, &s.p, &s.texTarget)
}

// UVTexAtlasBinding is the host side data a UV atlas pass uploads.
type UVTexAtlasBinding struct {
	Points    []float32
	UVs       []float32
	Triangles []uint32
}

// PrepareUVTexAtlasBinding flattens a mesh for the UV atlas pass. The mesh needs UVs for every
// vertex and a texture to project.
func PrepareUVTexAtlasBinding(mesh *TriangleMesh) (UVTexAtlasBinding, error) {
	if mesh == nil {
		return UVTexAtlasBinding{}, errors.Wrap(ErrUnsupportedGeometry, "nil mesh")
	}
	if !mesh.HasUVs() {
		return UVTexAtlasBinding{}, errors.Wrap(ErrUnsupportedGeometry, "uv atlas needs uvs per vertex")
	}
	if mesh.Texture == nil {
		return UVTexAtlasBinding{}, errors.Wrap(ErrUnsupportedGeometry, "uv atlas needs a target texture")
	}
	if err := mesh.checkTriangles(); err != nil {
		return UVTexAtlasBinding{}, err
	}
	return UVTexAtlasBinding{
		Points:    flattenVec3(mesh.Vertices),
		UVs:       flattenVec2(mesh.UVs),
		Triangles: flattenTriangles(mesh.Triangles),
	}, nil
}

// BindGeometry uploads the mesh positions, UVs and target texture.
func (s *UVTexAtlasShader) BindGeometry(mesh *TriangleMesh, option *RenderOption, view *ViewControl) error {
	if !s.compiled {
		return ErrNotCompiled
	}
	s.UnbindGeometry()

	binding, err := PrepareUVTexAtlasBinding(mesh)
	if err != nil {
		s.logger.Warnw("binding failed", "shader", s.name, "error", err)
		return err
	}
	if s.positions, err = s.backend.CreateVertexBuffer(binding.Points, 3); err != nil {
		return err
	}
	s.buffers = append(s.buffers, s.positions)
	if s.uvs, err = s.backend.CreateVertexBuffer(binding.UVs, 2); err != nil {
		s.UnbindGeometry()
		return err
	}
	s.buffers = append(s.buffers, s.uvs)
	if s.triangles, err = s.backend.CreateIndexBuffer(binding.Triangles); err != nil {
		s.UnbindGeometry()
		return err
	}
	s.buffers = append(s.buffers, s.triangles)
	if s.target, err = s.backend.CreateTexture(imaging.Clone(mesh.Texture)); err != nil {
		s.UnbindGeometry()
		return err
	}
	s.textures = append(s.textures, s.target)
	s.bound = true
	return nil
}

// RenderGeometry draws the bound mesh into texture space.
func (s *UVTexAtlasShader) RenderGeometry(mesh *TriangleMesh, option *RenderOption, view *ViewControl) error {
	if !s.compiled {
		return ErrNotCompiled
	}
	if !s.bound {
		return ErrNotBound
	}
	if view == nil {
		return errors.New("render needs a view")
	}
	if err := s.backend.UseProgram(s.program); err != nil {
		return err
	}
	s.backend.SetUniformMat4(s.m, view.Model)
	s.backend.SetUniformMat4(s.v, view.View)
	s.backend.SetUniformMat4(s.p, view.Projection)
	if err := s.backend.BindTexture(0, s.texTarget, s.target); err != nil {
		return err
	}
	if err := s.backend.BindVertexBuffer(attribUVPosition, s.positions); err != nil {
		return err
	}
	if err := s.backend.BindVertexBuffer(attribUV, s.uvs); err != nil {
		return err
	}
	return s.backend.DrawTriangles(s.triangles)
}

// UnbindGeometry frees the uploaded mesh and texture.
func (s *UVTexAtlasShader) UnbindGeometry() {
	s.unbind()
}

// Release frees the program and any bound geometry.
func (s *UVTexAtlasShader) Release() {
	s.UnbindGeometry()
	s.release()
}
