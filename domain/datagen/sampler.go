package datagen

import (
	"fmt"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/geom"
)

// Box is an axis-aligned sampling range.
type Box struct {
	Min r3.Vector
	Max r3.Vector
}

// Contains reports whether v lies in the box, bounds included.
func (b Box) Contains(v r3.Vector) bool {
	return v.X >= b.Min.X && v.X <= b.Max.X &&
		v.Y >= b.Min.Y && v.Y <= b.Max.Y &&
		v.Z >= b.Min.Z && v.Z <= b.Max.Z
}

func boxFromConfig(name string, r config.RangeConfig, dims int) (Box, error) {
	if len(r.Min) != dims || len(r.Max) != dims {
		return Box{}, fmt.Errorf("datagen bounds %s: min and max need %d values", name, dims)
	}
	b := Box{Min: geom.Vec(r.Min), Max: geom.Vec(r.Max)}
	if b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z {
		return Box{}, fmt.Errorf("datagen bounds %s: min exceeds max", name)
	}
	return b, nil
}

// Sample is the randomized setup of one capture.
type Sample struct {
	Index  int
	Light  r3.Vector
	Eye    r3.Vector
	Target r3.Vector
	// Object is the position the object is reset to before settling.
	Object r3.Vector
}

type uniform3 struct {
	x, y, z distuv.Uniform
}

func newUniform3(b Box, src rand.Source) uniform3 {
	return uniform3{
		x: distuv.Uniform{Min: b.Min.X, Max: b.Max.X, Src: src},
		y: distuv.Uniform{Min: b.Min.Y, Max: b.Max.Y, Src: src},
		z: distuv.Uniform{Min: b.Min.Z, Max: b.Max.Z, Src: src},
	}
}

func (u uniform3) rand() r3.Vector {
	return r3.Vector{X: u.x.Rand(), Y: u.y.Rand(), Z: u.z.Rand()}
}

// Sampler draws light, camera and object placements from their boxes.
type Sampler struct {
	Light  Box
	Eye    Box
	Target Box
	// Object has a fixed Z equal to the configured object height.
	Object Box

	light, eye, target, object uniform3
}

// NewSampler validates the configured bounds. Object bounds carry x and y only.
func NewSampler(cfg config.DataGenConfig, src rand.Source) (*Sampler, error) {
	if src == nil {
		return nil, fmt.Errorf("datagen sampler needs a random source")
	}
	light, err := boxFromConfig("light", cfg.Bounds.Light, 3)
	if err != nil {
		return nil, err
	}
	eye, err := boxFromConfig("eye", cfg.Bounds.Eye, 3)
	if err != nil {
		return nil, err
	}
	target, err := boxFromConfig("target", cfg.Bounds.Target, 3)
	if err != nil {
		return nil, err
	}
	object, err := boxFromConfig("object", cfg.Bounds.Object, 2)
	if err != nil {
		return nil, err
	}
	object.Min.Z, object.Max.Z = cfg.ObjectZ, cfg.ObjectZ

	return &Sampler{
		Light:  light,
		Eye:    eye,
		Target: target,
		Object: object,
		light:  newUniform3(light, src),
		eye:    newUniform3(eye, src),
		target: newUniform3(target, src),
		object: newUniform3(object, src),
	}, nil
}

// Next draws sample i. Draw order is light, eye, target, object.
func (s *Sampler) Next(i int) Sample {
	return Sample{
		Index:  i,
		Light:  s.light.rand(),
		Eye:    s.eye.rand(),
		Target: s.target.rand(),
		Object: s.object.rand(),
	}
}
