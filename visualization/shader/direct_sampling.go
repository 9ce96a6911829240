package shader

import (
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/densevo/logging"
)

// NumEnvTextures is the number of environment maps the direct sampling pass samples.
const NumEnvTextures = 2

// Vertex attribute slots of the direct sampling pass.
const (
	attribPosition = iota
	attribNormal
	attribColor
	attribMaterial
)

const directSamplingVertex = `#version 330 core
layout(location = 0) in vec3 vertex_position;
layout(location = 1) in vec3 vertex_normal;
layout(location = 2) in vec3 vertex_color;
layout(location = 3) in vec3 vertex_material;
out vec3 position;
out vec3 normal;
out vec3 albedo;
out vec3 material;
uniform mat4 M;
uniform mat4 V;
uniform mat4 P;
void main() {
    position = vec3(M * vec4(vertex_position, 1.0));
    normal = mat3(transpose(inverse(M))) * vertex_normal;
    albedo = vertex_color;
    material = vertex_material;
    gl_Position = P * V * vec4(position, 1.0);
}
`

const directSamplingFragment = `#version 330 core
in vec3 position;
in vec3 normal;
in vec3 albedo;
in vec3 material;
out vec4 frag_color;
uniform sampler2D tex_env_diffuse;
uniform sampler2D tex_env_specular;
uniform vec3 camera_position;
const float PI = 3.14159265359;
vec2 equirect(vec3 d) {
    return vec2(atan(d.z, d.x) / (2.0 * PI) + 0.5, asin(clamp(d.y, -1.0, 1.0)) / PI + 0.5);
}
void main() {
    vec3 n = normalize(normal);
    vec3 v = normalize(camera_position - position);
    vec3 r = reflect(-v, n);
    float roughness = material.r;
    float metallic = material.g;
    float ao = material.b;
    vec3 f0 = mix(vec3(0.04), albedo, metallic);
    vec3 f = f0 + (max(vec3(1.0 - roughness), f0) - f0) * pow(1.0 - max(dot(n, v), 0.0), 5.0);
    vec3 kd = (1.0 - f) * (1.0 - metallic);
    vec3 diffuse = texture(tex_env_diffuse, equirect(n)).rgb * albedo;
    vec3 specular = texture(tex_env_specular, equirect(r)).rgb * f;
    vec3 color = (kd * diffuse + specular) * ao;
    color = color / (color + vec3(1.0));
    frag_color = vec4(pow(color, vec3(1.0 / 2.2)), 1.0);
}
`

// DirectSamplingShader renders a mesh with physically based shading by sampling prefiltered
// environment maps along the normal and the reflected view direction. Lighting must already be
// baked into the environment maps.
type DirectSamplingShader struct {
	base
	logger logging.Logger

	m, v, p        Handle
	cameraPosition Handle
	texEnv         [NumEnvTextures]Handle

	triangles Handle
	attribs   map[int]Handle
	envTexes  []Handle
}

// NewDirectSamplingShader returns an uncompiled direct sampling pass on backend.
func NewDirectSamplingShader(backend Backend, logger logging.Logger) *DirectSamplingShader {
	return &DirectSamplingShader{
		base:   base{name: "DirectSamplingShader", backend: backend},
		logger: logger,
	}
}

// Compile builds the program and resolves its uniforms.
func (s *DirectSamplingShader) Compile() error {
	return s.compile(directSamplingVertex, directSamplingFragment,
		[]string{"M", "V", "P", "camera_position", "tex_env_diffuse", "tex_env_specular"},
		&s.m, &s.v, &s.p, &s.cameraPosition, &s.texEnv[0], &s.texEnv[1])
}

// DirectSamplingBinding is the host side data a direct sampling pass uploads.
type DirectSamplingBinding struct {
	Points    []float32
	Normals   []float32
	Colors    []float32
	Materials []float32
	Triangles []uint32
}

// PrepareDirectSamplingBinding flattens a mesh for the direct sampling pass. The mesh needs
// normals, colors and materials for every vertex.
func PrepareDirectSamplingBinding(mesh *TriangleMesh) (DirectSamplingBinding, error) {
	if mesh == nil {
		return DirectSamplingBinding{}, errors.Wrap(ErrUnsupportedGeometry, "nil mesh")
	}
	if !mesh.HasNormals() || !mesh.HasColors() || !mesh.HasMaterials() {
		return DirectSamplingBinding{}, errors.Wrap(ErrUnsupportedGeometry,
			"direct sampling needs normals, colors and materials per vertex")
	}
	if err := mesh.checkTriangles(); err != nil {
		return DirectSamplingBinding{}, err
	}
	return DirectSamplingBinding{
		Points:    flattenVec3(mesh.Vertices),
		Normals:   flattenVec3(mesh.Normals),
		Colors:    flattenVec3(mesh.Colors),
		Materials: flattenVec3(mesh.Materials),
		Triangles: flattenTriangles(mesh.Triangles),
	}, nil
}

// BindGeometry uploads the mesh attributes and the environment maps of option.
func (s *DirectSamplingShader) BindGeometry(mesh *TriangleMesh, option *RenderOption, view *ViewControl) error {
	if !s.compiled {
		return ErrNotCompiled
	}
	// rebinding replaces what was there
	s.UnbindGeometry()

	binding, err := PrepareDirectSamplingBinding(mesh)
	if err != nil {
		s.logger.Warnw("binding failed", "shader", s.name, "error", err)
		return err
	}
	if option == nil || len(option.Environment) != NumEnvTextures {
		return errors.Errorf("%s needs %d environment maps", s.name, NumEnvTextures)
	}

	s.attribs = map[int]Handle{}
	for attr, data := range map[int][]float32{
		attribPosition: binding.Points,
		attribNormal:   binding.Normals,
		attribColor:    binding.Colors,
		attribMaterial: binding.Materials,
	} {
		h, err := s.backend.CreateVertexBuffer(data, 3)
		if err != nil {
			s.UnbindGeometry()
			return err
		}
		s.buffers = append(s.buffers, h)
		s.attribs[attr] = h
	}
	if s.triangles, err = s.backend.CreateIndexBuffer(binding.Triangles); err != nil {
		s.UnbindGeometry()
		return err
	}
	s.buffers = append(s.buffers, s.triangles)

	s.envTexes = s.envTexes[:0]
	for _, env := range option.Environment {
		if env == nil {
			s.UnbindGeometry()
			return errors.New("nil environment map")
		}
		h, err := s.backend.CreateTexture(imaging.Clone(env))
		if err != nil {
			s.UnbindGeometry()
			return err
		}
		s.textures = append(s.textures, h)
		s.envTexes = append(s.envTexes, h)
	}
	s.bound = true
	return nil
}

// RenderGeometry draws the bound mesh from view.
func (s *DirectSamplingShader) RenderGeometry(mesh *TriangleMesh, option *RenderOption, view *ViewControl) error {
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
	s.backend.SetUniformVec3(s.cameraPosition, view.Eye)
	for i, tex := range s.envTexes {
		if err := s.backend.BindTexture(i, s.texEnv[i], tex); err != nil {
			return err
		}
	}
	for attr, h := range s.attribs {
		if err := s.backend.BindVertexBuffer(attr, h); err != nil {
			return err
		}
	}
	return s.backend.DrawTriangles(s.triangles)
}

// UnbindGeometry frees the uploaded mesh and environment maps.
func (s *DirectSamplingShader) UnbindGeometry() {
	s.unbind()
	s.attribs = nil
	s.envTexes = s.envTexes[:0]
}

// Release frees the program and any bound geometry.
func (s *DirectSamplingShader) Release() {
	s.UnbindGeometry()
	s.release()
}
