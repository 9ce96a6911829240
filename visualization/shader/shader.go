// Package shader prepares triangle meshes for the physically based direct sampling and UV
// texture atlas render passes and drives them through a compile, bind, render, unbind and
// release lifecycle on a Backend.
package shader

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotCompiled is returned when binding or rendering with a shader that failed to compile.
	ErrNotCompiled = errors.New("shader not compiled")
	// ErrNotBound is returned when rendering before geometry was bound.
	ErrNotBound = errors.New("no geometry bound")
	// ErrUnsupportedGeometry is returned when a mesh lacks the attributes a shader needs.
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
)

// A Shader is one render pass. Compile creates the program, BindGeometry uploads a mesh,
// RenderGeometry draws the bound mesh, UnbindGeometry drops it and Release frees everything.
type Shader interface {
	Name() string
	Compiled() bool
	Bound() bool

	Compile() error
	BindGeometry(mesh *TriangleMesh, option *RenderOption, view *ViewControl) error
	RenderGeometry(mesh *TriangleMesh, option *RenderOption, view *ViewControl) error
	UnbindGeometry()
	Release()
}

// Render compiles the shader and binds the mesh if needed, then draws it. The mesh stays bound
// afterwards so repeated renders skip the upload.
func Render(s Shader, mesh *TriangleMesh, option *RenderOption, view *ViewControl) error {
	if !s.Compiled() {
		if err := s.Compile(); err != nil {
			return errors.Wrapf(err, "compiling %s", s.Name())
		}
	}
	if !s.Bound() {
		if err := s.BindGeometry(mesh, option, view); err != nil {
			return errors.Wrapf(err, "binding geometry for %s", s.Name())
		}
	}
	return s.RenderGeometry(mesh, option, view)
}

// base keeps the lifecycle state and the GPU handles common to every shader.
type base struct {
	name     string
	backend  Backend
	program  Handle
	compiled bool
	bound    bool
	buffers  []Handle
	textures []Handle
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Compiled() bool {
	return b.compiled
}

func (b *base) Bound() bool {
	return b.bound
}

// compile builds the program and resolves the named uniforms into locs, in order.
func (b *base) compile(vertexSrc, fragmentSrc string, names []string, locs ...*Handle) error {
	if len(names) != len(locs) {
		return errors.Errorf("%d uniform names for %d locations", len(names), len(locs))
	}
	program, err := b.backend.CompileProgram(b.name, vertexSrc, fragmentSrc)
	if err != nil {
		return err
	}
	for i, name := range names {
		loc, err := b.backend.UniformLocation(program, name)
		if err != nil {
			//nolint:errcheck
			b.backend.DeleteProgram(program)
			return err
		}
		*locs[i] = loc
	}
	b.program = program
	b.compiled = true
	return nil
}

func (b *base) unbind() {
	for _, h := range b.buffers {
		//nolint:errcheck
		b.backend.DeleteBuffer(h)
	}
	for _, h := range b.textures {
		//nolint:errcheck
		b.backend.DeleteTexture(h)
	}
	b.buffers = b.buffers[:0]
	b.textures = b.textures[:0]
	b.bound = false
}

func (b *base) release() {
	b.unbind()
	if b.compiled {
		//nolint:errcheck
		b.backend.DeleteProgram(b.program)
		b.compiled = false
	}
}

var (
	_ Shader = (*DirectSamplingShader)(nil)
	_ Shader = (*UVTexAtlasShader)(nil)
)
