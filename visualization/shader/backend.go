package shader

import (
	"image"
	"regexp"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
)

// Handle names a program, uniform location, buffer or texture owned by a Backend.
type Handle uint32

// A Backend is the graphics API a shader issues its commands to.
type Backend interface {
	CompileProgram(name, vertexSrc, fragmentSrc string) (Handle, error)
	UniformLocation(program Handle, name string) (Handle, error)
	DeleteProgram(program Handle) error

	CreateVertexBuffer(data []float32, components int) (Handle, error)
	CreateIndexBuffer(indices []uint32) (Handle, error)
	DeleteBuffer(buf Handle) error
	CreateTexture(img *image.NRGBA) (Handle, error)
	DeleteTexture(tex Handle) error

	UseProgram(program Handle) error
	SetUniformMat4(loc Handle, m mgl32.Mat4)
	SetUniformVec3(loc Handle, v mgl32.Vec3)
	BindTexture(unit int, loc, tex Handle) error
	BindVertexBuffer(attribute int, buf Handle) error
	DrawTriangles(indices Handle) error
}

// DrawCall is what a MemoryBackend records for each DrawTriangles.
type DrawCall struct {
	Program    string
	Indices    int
	Attributes map[int]int
	Mat4s      map[string]mgl32.Mat4
	Vec3s      map[string]mgl32.Vec3
	Textures   map[int]image.Point
}

type memProgram struct {
	name     string
	uniforms map[Handle]string
}

type memBuffer struct {
	floats     []float32
	components int
	indices    []uint32
}

// MemoryBackend is a Backend that keeps every resource in host memory and records draw calls
// instead of rasterizing. It checks the same things a driver would: uniform names must be
// declared by the program, indices must be in range and every resource must exist.
type MemoryBackend struct {
	mu       sync.Mutex
	nextID   atomic.Uint32
	programs map[Handle]*memProgram
	buffers  map[Handle]*memBuffer
	textures map[Handle]*image.NRGBA

	current    Handle
	attributes map[int]Handle
	mat4s      map[string]mgl32.Mat4
	vec3s      map[string]mgl32.Vec3
	units      map[int]Handle
	draws      []DrawCall
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		programs: map[Handle]*memProgram{},
		buffers:  map[Handle]*memBuffer{},
		textures: map[Handle]*image.NRGBA{},
	}
}

var uniformDecl = regexp.MustCompile(`uniform\s+\w+\s+(\w+)`)

func (mb *MemoryBackend) newHandle() Handle {
	return Handle(mb.nextID.Inc())
}

// CompileProgram registers a program and the uniforms its sources declare.
func (mb *MemoryBackend) CompileProgram(name, vertexSrc, fragmentSrc string) (Handle, error) {
	if vertexSrc == "" || fragmentSrc == "" {
		return 0, errors.Errorf("program %q needs a vertex and a fragment stage", name)
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	h := mb.newHandle()
	mb.programs[h] = &memProgram{name: name, uniforms: map[Handle]string{}}
	for _, m := range uniformDecl.FindAllStringSubmatch(vertexSrc+"\n"+fragmentSrc, -1) {
		mb.programs[h].uniforms[mb.newHandle()] = m[1]
	}
	return h, nil
}

// UniformLocation returns the location of a declared uniform.
func (mb *MemoryBackend) UniformLocation(program Handle, name string) (Handle, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	p, ok := mb.programs[program]
	if !ok {
		return 0, errors.Errorf("no program %d", program)
	}
	loc, ok := lo.FindKey(p.uniforms, name)
	if !ok {
		return 0, errors.Errorf("program %q declares no uniform %q", p.name, name)
	}
	return loc, nil
}

// DeleteProgram frees a program.
func (mb *MemoryBackend) DeleteProgram(program Handle) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.programs[program]; !ok {
		return errors.Errorf("no program %d", program)
	}
	delete(mb.programs, program)
	if mb.current == program {
		mb.current = 0
	}
	return nil
}

// CreateVertexBuffer stores per-vertex data with the given number of components per vertex.
func (mb *MemoryBackend) CreateVertexBuffer(data []float32, components int) (Handle, error) {
	if components <= 0 || len(data)%components != 0 {
		return 0, errors.Errorf("%d floats do not split into %d components", len(data), components)
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	h := mb.newHandle()
	mb.buffers[h] = &memBuffer{floats: append([]float32(nil), data...), components: components}
	return h, nil
}

// CreateIndexBuffer stores triangle indices.
func (mb *MemoryBackend) CreateIndexBuffer(indices []uint32) (Handle, error) {
	if len(indices)%3 != 0 {
		return 0, errors.Errorf("%d indices do not form triangles", len(indices))
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	h := mb.newHandle()
	mb.buffers[h] = &memBuffer{indices: append([]uint32(nil), indices...)}
	return h, nil
}

// DeleteBuffer frees a buffer.
func (mb *MemoryBackend) DeleteBuffer(buf Handle) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.buffers[buf]; !ok {
		return errors.Errorf("no buffer %d", buf)
	}
	delete(mb.buffers, buf)
	return nil
}

// CreateTexture stores an image as a texture.
func (mb *MemoryBackend) CreateTexture(img *image.NRGBA) (Handle, error) {
	if img == nil || img.Rect.Empty() {
		return 0, errors.New("cannot create an empty texture")
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	h := mb.newHandle()
	mb.textures[h] = img
	return h, nil
}

// DeleteTexture frees a texture.
func (mb *MemoryBackend) DeleteTexture(tex Handle) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.textures[tex]; !ok {
		return errors.Errorf("no texture %d", tex)
	}
	delete(mb.textures, tex)
	return nil
}

// UseProgram makes program current and clears the previous bindings.
func (mb *MemoryBackend) UseProgram(program Handle) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.programs[program]; !ok {
		return errors.Errorf("no program %d", program)
	}
	mb.current = program
	mb.attributes = map[int]Handle{}
	mb.mat4s = map[string]mgl32.Mat4{}
	mb.vec3s = map[string]mgl32.Vec3{}
	mb.units = map[int]Handle{}
	return nil
}

func (mb *MemoryBackend) uniformName(loc Handle) (string, bool) {
	p, ok := mb.programs[mb.current]
	if !ok {
		return "", false
	}
	name, ok := p.uniforms[loc]
	return name, ok
}

// SetUniformMat4 sets a matrix uniform of the current program. Unknown locations are ignored.
func (mb *MemoryBackend) SetUniformMat4(loc Handle, m mgl32.Mat4) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if name, ok := mb.uniformName(loc); ok {
		mb.mat4s[name] = m
	}
}

// SetUniformVec3 sets a vector uniform of the current program. Unknown locations are ignored.
func (mb *MemoryBackend) SetUniformVec3(loc Handle, v mgl32.Vec3) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if name, ok := mb.uniformName(loc); ok {
		mb.vec3s[name] = v
	}
}

// BindTexture binds tex to a texture unit sampled through the uniform at loc.
func (mb *MemoryBackend) BindTexture(unit int, loc, tex Handle) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.uniformName(loc); !ok {
		return errors.Errorf("no sampler uniform %d in the current program", loc)
	}
	if _, ok := mb.textures[tex]; !ok {
		return errors.Errorf("no texture %d", tex)
	}
	mb.units[unit] = tex
	return nil
}

// BindVertexBuffer feeds a vertex buffer to a vertex attribute of the current program.
func (mb *MemoryBackend) BindVertexBuffer(attribute int, buf Handle) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.current == 0 {
		return errors.New("no program in use")
	}
	b, ok := mb.buffers[buf]
	if !ok || b.components == 0 {
		return errors.Errorf("no vertex buffer %d", buf)
	}
	mb.attributes[attribute] = buf
	return nil
}

// DrawTriangles records a draw of the index buffer with the current bindings. Every bound
// attribute must hold the same number of vertices and every index must address one.
func (mb *MemoryBackend) DrawTriangles(indices Handle) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	p, ok := mb.programs[mb.current]
	if !ok {
		return errors.New("no program in use")
	}
	ib, ok := mb.buffers[indices]
	if !ok || ib.components != 0 {
		return errors.Errorf("no index buffer %d", indices)
	}
	call := DrawCall{
		Program:    p.name,
		Indices:    len(ib.indices),
		Attributes: map[int]int{},
		Mat4s:      lo.Assign(mb.mat4s),
		Vec3s:      lo.Assign(mb.vec3s),
		Textures:   map[int]image.Point{},
	}
	numVertices := -1
	for attr, h := range mb.attributes {
		b, ok := mb.buffers[h]
		if !ok {
			return errors.Errorf("attribute %d uses deleted buffer %d", attr, h)
		}
		n := len(b.floats) / b.components
		if numVertices >= 0 && n != numVertices {
			return errors.Errorf("attribute %d has %d vertices, expected %d", attr, n, numVertices)
		}
		numVertices = n
		call.Attributes[attr] = b.components
	}
	if maxIndex := lo.Max(ib.indices); len(ib.indices) > 0 && int(maxIndex) >= numVertices {
		return errors.Errorf("index %d out of range for %d vertices", maxIndex, numVertices)
	}
	for unit, h := range mb.units {
		tex, ok := mb.textures[h]
		if !ok {
			return errors.Errorf("texture unit %d uses deleted texture %d", unit, h)
		}
		call.Textures[unit] = tex.Rect.Size()
	}
	mb.draws = append(mb.draws, call)
	return nil
}

// DrawCalls returns the recorded draw calls.
func (mb *MemoryBackend) DrawCalls() []DrawCall {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]DrawCall(nil), mb.draws...)
}

// LiveResources returns the number of programs, buffers and textures not yet deleted.
func (mb *MemoryBackend) LiveResources() (programs, buffers, textures int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.programs), len(mb.buffers), len(mb.textures)
}
