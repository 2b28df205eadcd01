package operation

import (
	"context"
	"fmt"

	"voxedit/internal/mask"
	"voxedit/internal/pattern"
	"voxedit/internal/world"
)

type axes struct{ x, y, z bool }

var (
	allAxes        = axes{x: true, y: true, z: true}
	horizontalAxes = axes{x: true, z: true}
)

// shellClassifier decides whether a position lies within thickness cells of
// one of the region faces on the selected axes.
type shellClassifier struct {
	region    world.Region
	thickness int
	axes      axes
}

func newShell(r world.Region, thickness int, a axes) shellClassifier {
	return shellClassifier{region: r, thickness: max(thickness, 1), axes: a}
}

// fits reports whether the region is large enough for a shell on every
// selected axis.
func (s shellClassifier) fits() bool {
	t2 := 2 * s.thickness
	if s.axes.x && s.region.Width() < t2 {
		return false
	}
	if s.axes.y && s.region.Height() < t2 {
		return false
	}
	if s.axes.z && s.region.Length() < t2 {
		return false
	}
	return true
}

func (s shellClassifier) isShell(p world.Position) bool {
	lo, hi := s.region.Min(), s.region.Max()
	near := func(v, a, b int) bool {
		return v-a < s.thickness || b-v < s.thickness
	}
	return (s.axes.x && near(p.X, lo.X, hi.X)) ||
		(s.axes.y && near(p.Y, lo.Y, hi.Y)) ||
		(s.axes.z && near(p.Z, lo.Z, hi.Z))
}

func runShell(ctx context.Context, env Env, s shellClassifier, m *mask.Mask, pat *pattern.Pattern, description string) (*UndoUnit, error) {
	c := newCollector(ctx, env, m, description)
	if !s.fits() {
		return c.finish()
	}
	var err error
	s.region.ForEach(func(p world.Position) bool {
		if s.isShell(p) {
			err = c.apply(p, pat)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return c.finish()
}

// Outline covers the six faces of Region with Pattern.
type Outline struct {
	Region    world.Region
	Pattern   *pattern.Pattern
	Mask      *mask.Mask
	Thickness int
}

func (o *Outline) Bounds() world.Region { return o.Region }
func (o *Outline) VolumeEstimate() int  { return o.Region.Volume() }

func (o *Outline) Describe() string {
	return fmt.Sprintf("outline t=%d %s", max(o.Thickness, 1), o.Pattern)
}

func (o *Outline) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	return runShell(ctx, env, newShell(o.Region, o.Thickness, allAxes), o.Mask, o.Pattern, o.Describe())
}

// Walls covers the four vertical faces of Region with Pattern.
type Walls struct {
	Region    world.Region
	Pattern   *pattern.Pattern
	Mask      *mask.Mask
	Thickness int
}

func (w *Walls) Bounds() world.Region { return w.Region }
func (w *Walls) VolumeEstimate() int  { return w.Region.Volume() }

func (w *Walls) Describe() string {
	return fmt.Sprintf("walls t=%d %s", max(w.Thickness, 1), w.Pattern)
}

func (w *Walls) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	return runShell(ctx, env, newShell(w.Region, w.Thickness, horizontalAxes), w.Mask, w.Pattern, w.Describe())
}

// Hollow clears the interior of Region, leaving a shell of Thickness cells.
// The shell keeps its values unless Shell is set.
type Hollow struct {
	Region    world.Region
	Thickness int
	Shell     *pattern.Pattern
}

func (h *Hollow) Bounds() world.Region { return h.Region }
func (h *Hollow) VolumeEstimate() int  { return h.Region.Volume() }

func (h *Hollow) Describe() string {
	if h.Shell != nil {
		return fmt.Sprintf("hollow t=%d shell=%s", max(h.Thickness, 1), h.Shell)
	}
	return fmt.Sprintf("hollow t=%d", max(h.Thickness, 1))
}

func (h *Hollow) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	s := newShell(h.Region, h.Thickness, allAxes)
	c := newCollector(ctx, env, nil, h.Describe())
	if !s.fits() {
		return c.finish()
	}
	var err error
	h.Region.ForEach(func(p world.Position) bool {
		switch {
		case !s.isShell(p):
			err = c.set(p, world.Air)
		case h.Shell != nil:
			err = c.apply(p, h.Shell)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return c.finish()
}
