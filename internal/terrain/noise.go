package terrain

import "math"

// Noise is seeded coherent value noise. Samples are in [-1, 1] and are a pure
// function of the seed and coordinates, so workers may share one value.
type Noise struct {
	seed int64
}

func NewNoise(seed int64) Noise {
	return Noise{seed: seed}
}

func (n Noise) Seed() int64 { return n.seed }

// Octaves configures fractal summation.
type Octaves struct {
	Count       int
	Frequency   float64
	Persistence float64
	Lacunarity  float64
}

// DefaultOctaves is a single octave at unit frequency.
var DefaultOctaves = Octaves{Count: 1, Frequency: 1, Persistence: 0.5, Lacunarity: 2}

func (o Octaves) normalized() Octaves {
	if o.Count <= 0 {
		o.Count = 1
	}
	if o.Frequency == 0 {
		o.Frequency = 1
	}
	if o.Persistence == 0 {
		o.Persistence = 0.5
	}
	if o.Lacunarity == 0 {
		o.Lacunarity = 2
	}
	return o
}

func (n Noise) Value2D(x, z float64) float64 {
	x0 := int(math.Floor(x))
	z0 := int(math.Floor(z))
	sx := smooth(x - float64(x0))
	sz := smooth(z - float64(z0))

	ix0 := lerp(n.lattice(x0, 0, z0), n.lattice(x0+1, 0, z0), sx)
	ix1 := lerp(n.lattice(x0, 0, z0+1), n.lattice(x0+1, 0, z0+1), sx)
	return lerp(ix0, ix1, sz)
}

func (n Noise) Value3D(x, y, z float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	z0 := int(math.Floor(z))
	sx := smooth(x - float64(x0))
	sy := smooth(y - float64(y0))
	sz := smooth(z - float64(z0))

	plane := func(y int) float64 {
		a := lerp(n.lattice(x0, y, z0), n.lattice(x0+1, y, z0), sx)
		b := lerp(n.lattice(x0, y, z0+1), n.lattice(x0+1, y, z0+1), sx)
		return lerp(a, b, sz)
	}
	return lerp(plane(y0), plane(y0+1), sy)
}

func (n Noise) Fractal2D(x, z float64, o Octaves) float64 {
	o = o.normalized()
	frequency := o.Frequency
	amplitude := 1.0
	sum, total := 0.0, 0.0
	for i := 0; i < o.Count; i++ {
		sum += n.Value2D(x*frequency, z*frequency) * amplitude
		total += amplitude
		amplitude *= o.Persistence
		frequency *= o.Lacunarity
	}
	return sum / total
}

func (n Noise) Fractal3D(x, y, z float64, o Octaves) float64 {
	o = o.normalized()
	frequency := o.Frequency
	amplitude := 1.0
	sum, total := 0.0, 0.0
	for i := 0; i < o.Count; i++ {
		sum += n.Value3D(x*frequency, y*frequency, z*frequency) * amplitude
		total += amplitude
		amplitude *= o.Persistence
		frequency *= o.Lacunarity
	}
	return sum / total
}

// Unit returns a uniform value in [0, 1) for a lattice cell.
func (n Noise) Unit(x, y, z int) float64 {
	return float64(n.hash(x, y, z)&0xFFFF) / 0x10000
}

func (n Noise) lattice(x, y, z int) float64 {
	return float64(n.hash(x, y, z)&0xFFFF)/0x8000 - 1.0
}

func (n Noise) hash(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*1440662683 + int(n.seed)*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}
