package rimage

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/densevo/device"
)

// ErrLevelOutOfRange is returned when asking a pyramid for a level it does not have.
var ErrLevelOutOfRange = errors.New("pyramid level out of range")

// PyramidLevelSize returns the size of level i of a pyramid whose level 0 is width x height.
func PyramidLevelSize(width, height, level int) (int, int) {
	return width >> level, height >> level
}

// RGBDPyramid is a fixed number of RGBD levels at halving resolutions. Level 0 is the native
// resolution and level k+1 is floor(w_k/2) x floor(h_k/2).
type RGBDPyramid struct {
	dev     device.Device
	levels  []*RGBDImage
	created bool
}

// NewRGBDPyramid returns an uncreated pyramid with numLevels levels on dev.
func NewRGBDPyramid(numLevels int, dev device.Device) (*RGBDPyramid, error) {
	if numLevels < 1 {
		return nil, errors.Errorf("a pyramid needs at least one level, got %d", numLevels)
	}
	levels := make([]*RGBDImage, numLevels)
	for i := range levels {
		levels[i] = NewEmptyRGBDImage(dev)
	}
	return &RGBDPyramid{dev: dev, levels: levels}, nil
}

// NumLevels returns the number of levels.
func (p *RGBDPyramid) NumLevels() int {
	return len(p.levels)
}

// Created reports whether the pyramid holds storage.
func (p *RGBDPyramid) Created() bool {
	return p.created
}

// Create allocates every level for a level-0 size of width x height.
func (p *RGBDPyramid) Create(width, height int) error {
	if p.created {
		return device.NewAllocationError("pyramid already created (%dx%d), release it first",
			p.levels[0].Width(), p.levels[0].Height())
	}
	if width <= 0 || height <= 0 {
		return device.NewAllocationError("invalid pyramid size (%d, %d)", width, height)
	}
	coarsestW, coarsestH := PyramidLevelSize(width, height, len(p.levels)-1)
	if coarsestW <= 0 || coarsestH <= 0 {
		return device.NewAllocationError("%dx%d is too small for %d pyramid levels", width, height, len(p.levels))
	}
	for i, level := range p.levels {
		w, h := PyramidLevelSize(width, height, i)
		if err := level.Create(w, h); err != nil {
			return multierr.Combine(err, p.release())
		}
	}
	p.created = true
	return nil
}

// Release frees every level. It is idempotent.
func (p *RGBDPyramid) Release() error {
	err := p.release()
	p.created = false
	return err
}

func (p *RGBDPyramid) release() error {
	var err error
	for _, level := range p.levels {
		err = multierr.Combine(err, level.Release())
	}
	return err
}

// Level returns the i-th level.
func (p *RGBDPyramid) Level(i int) (*RGBDImage, error) {
	if i < 0 || i >= len(p.levels) {
		return nil, errors.Wrapf(ErrLevelOutOfRange, "level %d of a %d level pyramid", i, len(p.levels))
	}
	return p.levels[i], nil
}

// Build copies frame into level 0 and fills the remaining levels by downsampling. An uncreated
// pyramid is created at the frame's size; a created one must already match it.
func (p *RGBDPyramid) Build(frame *RGBDImage) error {
	if frame == nil || !frame.Created() {
		return errors.New("cannot build a pyramid from an empty frame")
	}
	if !p.created {
		if err := p.Create(frame.Width(), frame.Height()); err != nil {
			return err
		}
	} else if p.levels[0].Width() != frame.Width() || p.levels[0].Height() != frame.Height() {
		return device.NewAllocationError("pyramid is %dx%d but frame is %dx%d, release it first",
			p.levels[0].Width(), p.levels[0].Height(), frame.Width(), frame.Height())
	}
	if err := p.levels[0].CopyFrom(frame); err != nil {
		return err
	}
	for i := 1; i < len(p.levels); i++ {
		prev, cur := p.levels[i-1], p.levels[i]
		if err := DownsampleDepth(prev.Depth(), cur.Depth()); err != nil {
			return errors.Wrapf(err, "downsampling depth to level %d", i)
		}
		if err := DownsampleIntensity(prev.Intensity(), cur.Intensity()); err != nil {
			return errors.Wrapf(err, "downsampling intensity to level %d", i)
		}
	}
	return nil
}

// Sobel computes per-level x and y gradients of both channels into dx and dy, which must have
// the same number of levels. Uncreated outputs are created with this pyramid's shape. Depth
// gradients next to holes are NaN.
func (p *RGBDPyramid) Sobel(dx, dy *RGBDPyramid, normalize bool) error {
	if !p.created {
		return errors.New("cannot compute gradients of an uncreated pyramid")
	}
	if dx.NumLevels() != p.NumLevels() || dy.NumLevels() != p.NumLevels() {
		return errors.Errorf("gradient pyramids have %d and %d levels, expected %d",
			dx.NumLevels(), dy.NumLevels(), p.NumLevels())
	}
	for _, out := range []*RGBDPyramid{dx, dy} {
		if !out.created {
			if err := out.Create(p.levels[0].Width(), p.levels[0].Height()); err != nil {
				return err
			}
		}
	}
	for i, level := range p.levels {
		if err := SobelWithHoles(level.Depth(), dx.levels[i].Depth(), dy.levels[i].Depth(), normalize); err != nil {
			return errors.Wrapf(err, "depth gradients at level %d", i)
		}
		if err := level.Intensity().Sobel(dx.levels[i].Intensity(), dy.levels[i].Intensity(), normalize); err != nil {
			return errors.Wrapf(err, "intensity gradients at level %d", i)
		}
	}
	return nil
}

// Views returns read-only views of every level, finest first.
func (p *RGBDPyramid) Views() []RGBDView {
	views := make([]RGBDView, len(p.levels))
	for i, level := range p.levels {
		views[i] = level.View()
	}
	return views
}
