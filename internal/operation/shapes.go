package operation

import (
	"context"
	"fmt"
	"math"

	"voxedit/internal/mask"
	"voxedit/internal/pattern"
	"voxedit/internal/world"
)

// shape runs a membership test over a bounding box. Hollow shapes keep only
// members with at least one face neighbour outside the shape.
func shape(ctx context.Context, env Env, bounds world.Region, m *mask.Mask, pat *pattern.Pattern,
	description string, hollow bool, inside func(world.Position) bool, neighbors []world.Position) (*UndoUnit, error) {
	c := newCollector(ctx, env, m, description)
	var err error
	bounds.ForEach(func(p world.Position) bool {
		if !inside(p) {
			return true
		}
		if hollow {
			edge := false
			for _, offset := range neighbors {
				if !inside(p.Add(offset)) {
					edge = true
					break
				}
			}
			if !edge {
				return true
			}
		}
		err = c.apply(p, pat)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return c.finish()
}

var horizontalNeighbors = []world.Position{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}

// Sphere fills an ellipsoid around Center. RadiusY and RadiusZ default to
// RadiusX when zero.
type Sphere struct {
	Center                    world.Position
	RadiusX, RadiusY, RadiusZ float64
	Pattern                   *pattern.Pattern
	Mask                      *mask.Mask
	Hollow                    bool
}

func (s *Sphere) radii() (float64, float64, float64) {
	rx := math.Max(s.RadiusX, 0.5)
	ry, rz := s.RadiusY, s.RadiusZ
	if ry <= 0 {
		ry = rx
	}
	if rz <= 0 {
		rz = rx
	}
	return rx, ry, rz
}

func (s *Sphere) Bounds() world.Region {
	rx, ry, rz := s.radii()
	ext := world.Pos(int(math.Ceil(rx)), int(math.Ceil(ry)), int(math.Ceil(rz)))
	return world.NewRegion(s.Center.Sub(ext), s.Center.Add(ext))
}

func (s *Sphere) VolumeEstimate() int { return s.Bounds().Volume() }

func (s *Sphere) Describe() string {
	kind := "sphere"
	if s.Hollow {
		kind = "hollow sphere"
	}
	return fmt.Sprintf("%s r=%g %s", kind, s.RadiusX, s.Pattern)
}

func (s *Sphere) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	rx, ry, rz := s.radii()
	inside := func(p world.Position) bool {
		dx := float64(p.X-s.Center.X) / rx
		dy := float64(p.Y-s.Center.Y) / ry
		dz := float64(p.Z-s.Center.Z) / rz
		return dx*dx+dy*dy+dz*dz <= 1
	}
	return shape(ctx, env, s.Bounds(), s.Mask, s.Pattern, s.Describe(), s.Hollow, inside, world.Neighbors6[:])
}

// Cylinder is a vertical elliptic cylinder whose bottom centre is Base.
type Cylinder struct {
	Base             world.Position
	RadiusX, RadiusZ float64
	Height           int
	Pattern          *pattern.Pattern
	Mask             *mask.Mask
	Hollow           bool
}

func (c *Cylinder) radii() (float64, float64) {
	rx := math.Max(c.RadiusX, 0.5)
	rz := c.RadiusZ
	if rz <= 0 {
		rz = rx
	}
	return rx, rz
}

func (c *Cylinder) Bounds() world.Region {
	rx, rz := c.radii()
	ex, ez := int(math.Ceil(rx)), int(math.Ceil(rz))
	height := max(c.Height, 1)
	return world.NewRegion(c.Base.Sub(world.Pos(ex, 0, ez)), c.Base.Add(world.Pos(ex, height-1, ez)))
}

func (c *Cylinder) VolumeEstimate() int { return c.Bounds().Volume() }

func (c *Cylinder) Describe() string {
	kind := "cylinder"
	if c.Hollow {
		kind = "hollow cylinder"
	}
	return fmt.Sprintf("%s r=%g h=%d %s", kind, c.RadiusX, max(c.Height, 1), c.Pattern)
}

func (c *Cylinder) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	rx, rz := c.radii()
	bounds := c.Bounds()
	inside := func(p world.Position) bool {
		if p.Y < bounds.Min().Y || p.Y > bounds.Max().Y {
			return false
		}
		dx := float64(p.X-c.Base.X) / rx
		dz := float64(p.Z-c.Base.Z) / rz
		return dx*dx+dz*dz <= 1
	}
	return shape(ctx, env, bounds, c.Mask, c.Pattern, c.Describe(), c.Hollow, inside, horizontalNeighbors)
}

// Pyramid is a stepped square pyramid Size layers tall standing on Base.
type Pyramid struct {
	Base    world.Position
	Size    int
	Pattern *pattern.Pattern
	Mask    *mask.Mask
	Hollow  bool
}

func (p *Pyramid) Bounds() world.Region {
	size := max(p.Size, 1)
	half := size - 1
	return world.NewRegion(p.Base.Sub(world.Pos(half, 0, half)), p.Base.Add(world.Pos(half, size-1, half)))
}

func (p *Pyramid) VolumeEstimate() int { return p.Bounds().Volume() }

func (p *Pyramid) Describe() string {
	kind := "pyramid"
	if p.Hollow {
		kind = "hollow pyramid"
	}
	return fmt.Sprintf("%s size=%d %s", kind, max(p.Size, 1), p.Pattern)
}

func (p *Pyramid) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	size := max(p.Size, 1)
	inside := func(q world.Position) bool {
		level := q.Y - p.Base.Y
		if level < 0 || level >= size {
			return false
		}
		half := size - 1 - level
		return abs(q.X-p.Base.X) <= half && abs(q.Z-p.Base.Z) <= half
	}
	return shape(ctx, env, p.Bounds(), p.Mask, p.Pattern, p.Describe(), p.Hollow, inside, world.Neighbors6[:])
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
