package operation

import (
	"context"
	"errors"
	"fmt"

	"voxedit/internal/clipboard"
	"voxedit/internal/mask"
	"voxedit/internal/pattern"
	"voxedit/internal/world"
)

// ErrMaskRequired is returned when building a replace without a source mask.
var ErrMaskRequired = errors.New("replace requires a mask")

// Fill sets every masked position of Region to Pattern.
type Fill struct {
	Region  world.Region
	Pattern *pattern.Pattern
	Mask    *mask.Mask
}

func (f *Fill) Bounds() world.Region { return f.Region }
func (f *Fill) VolumeEstimate() int  { return f.Region.Volume() }

func (f *Fill) Describe() string {
	if f.Mask != nil {
		return fmt.Sprintf("set %s where %s", f.Pattern, f.Mask)
	}
	return fmt.Sprintf("set %s", f.Pattern)
}

func (f *Fill) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	c := newCollector(ctx, env, f.Mask, f.Describe())
	var err error
	f.Region.ForEach(func(p world.Position) bool {
		err = c.apply(p, f.Pattern)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return c.finish()
}

// Replace is a Fill whose mask selects the values to replace.
type Replace struct {
	Fill
}

func NewReplace(region world.Region, from *mask.Mask, to *pattern.Pattern) (*Replace, error) {
	if from == nil {
		return nil, ErrMaskRequired
	}
	return &Replace{Fill{Region: region, Pattern: to, Mask: from}}, nil
}

func (r *Replace) Describe() string {
	return fmt.Sprintf("replace %s with %s", r.Mask, r.Pattern)
}

func (r *Replace) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	unit, err := r.Fill.Execute(ctx, env)
	if unit != nil {
		unit.description = r.Describe()
	}
	return unit, err
}

// Overlay places Pattern on top of the highest non-air value of every column
// in Region. Columns without a surface are left alone.
type Overlay struct {
	Region  world.Region
	Pattern *pattern.Pattern
}

func (o *Overlay) Bounds() world.Region {
	r := o.Region
	r.Expand(world.Pos(0, 1, 0))
	return r
}

func (o *Overlay) VolumeEstimate() int { return o.Bounds().Volume() }
func (o *Overlay) Describe() string    { return fmt.Sprintf("overlay %s", o.Pattern) }

func (o *Overlay) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	c := newCollector(ctx, env, mask.Air(), o.Describe())
	lo, hi := o.Region.Min(), o.Region.Max()
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			for y := hi.Y; y >= lo.Y; y-- {
				if err := c.tick(); err != nil {
					return nil, err
				}
				b, ok := env.World.Block(world.Pos(x, y, z))
				if !ok || b.IsAir() {
					continue
				}
				if err := c.apply(world.Pos(x, y+1, z), o.Pattern); err != nil {
					return nil, err
				}
				break
			}
		}
	}
	return c.finish()
}

// Paste writes a clipboard with its first cell at At.
type Paste struct {
	Clipboard *clipboard.Buffer
	At        world.Position
	SkipAir   bool
}

func (p *Paste) Bounds() world.Region {
	w, h, l := p.Clipboard.Size()
	return world.RegionAt(p.At, max(w, 1), max(h, 1), max(l, 1))
}

func (p *Paste) VolumeEstimate() int { return p.Clipboard.Len() }

func (p *Paste) Describe() string {
	w, h, l := p.Clipboard.Size()
	return fmt.Sprintf("paste %dx%dx%d at %v", w, h, l, p.At)
}

func (p *Paste) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	c := newCollector(ctx, env, nil, p.Describe())
	var err error
	p.Clipboard.Each(func(rel world.Position, b world.Block) bool {
		if p.SkipAir && b.IsAir() {
			return true
		}
		err = c.set(p.At.Add(rel), b)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return c.finish()
}
