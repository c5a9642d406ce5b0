package sim

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
)

// densityField is a Perlin-noise contrast field used to cluster particles
// so that trees get uneven depth.
type densityField struct {
	perm     [512]int
	scale    float64 // noise cells per box edge
	contrast float64 // 0 = uniform, 1 = voids allowed
}

func newDensityField(rng *rand.Rand, scale, contrast float64) *densityField {
	f := &densityField{scale: scale, contrast: contrast}
	base := rng.Perm(256)
	for i := 0; i < 256; i++ {
		f.perm[i] = base[i]
		f.perm[i+256] = base[i]
	}
	return f
}

// at returns the acceptance probability in [0,1] at u, with u in box units
// [0,1)^3.
func (f *densityField) at(u r3.Vec) float64 {
	n := 0.0
	amp, freq, norm := 1.0, f.scale, 0.0
	for octave := 0; octave < 3; octave++ {
		n += amp * f.noise(u.X*freq, u.Y*freq, u.Z*freq)
		norm += amp
		amp /= 2
		freq *= 2
	}
	n /= norm // roughly [-1,1]
	d := 0.5 + 0.5*n
	return math.Max(0, math.Min(1, 1-f.contrast+f.contrast*d))
}

// sample draws a position in [0,box)^3 from the field by rejection.
func (f *densityField) sample(rng *rand.Rand, box float64) r3.Vec {
	for {
		u := r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
		if f.contrast <= 0 || rng.Float64() < f.at(u) {
			return r3.Scale(box, u)
		}
	}
}

func (f *densityField) noise(x, y, z float64) float64 {
	xi := int(math.Floor(x)) & 255
	yi := int(math.Floor(y)) & 255
	zi := int(math.Floor(z)) & 255
	x -= math.Floor(x)
	y -= math.Floor(y)
	z -= math.Floor(z)
	u, v, w := smooth(x), smooth(y), smooth(z)

	p := &f.perm
	a := p[xi] + yi
	aa, ab := p[a]+zi, p[a+1]+zi
	b := p[xi+1] + yi
	ba, bb := p[b]+zi, p[b+1]+zi

	return mix(w,
		mix(v,
			mix(u, grad(p[aa], x, y, z), grad(p[ba], x-1, y, z)),
			mix(u, grad(p[ab], x, y-1, z), grad(p[bb], x-1, y-1, z))),
		mix(v,
			mix(u, grad(p[aa+1], x, y, z-1), grad(p[ba+1], x-1, y, z-1)),
			mix(u, grad(p[ab+1], x, y-1, z-1), grad(p[bb+1], x-1, y-1, z-1))))
}

func smooth(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func mix(t, a, b float64) float64 {
	return a + t*(b-a)
}

func grad(hash int, x, y, z float64) float64 {
	h := hash & 15
	u, v := x, y
	if h >= 8 {
		u = y
	}
	if h >= 4 {
		if h == 12 || h == 14 {
			v = x
		} else {
			v = z
		}
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}
