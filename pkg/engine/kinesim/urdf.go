package kinesim

import (
	"encoding/xml"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/open-teleop/simcontroller/pkg/engine"
)

const defaultRadius = 0.05

var defaultColor = color.RGBA{R: 180, G: 40, B: 40, A: 255}

type urdfRobot struct {
	XMLName xml.Name    `xml:"robot"`
	Name    string      `xml:"name,attr"`
	Links   []urdfLink  `xml:"link"`
	Joints  []urdfJoint `xml:"joint"`
}

type urdfLink struct {
	Name   string       `xml:"name,attr"`
	Visual []urdfVisual `xml:"visual"`
}

type urdfVisual struct {
	Geometry urdfGeometry `xml:"geometry"`
	Material struct {
		Color *struct {
			RGBA string `xml:"rgba,attr"`
		} `xml:"color"`
	} `xml:"material"`
}

type urdfGeometry struct {
	Box *struct {
		Size string `xml:"size,attr"`
	} `xml:"box"`
	Cylinder *struct {
		Radius float64 `xml:"radius,attr"`
		Length float64 `xml:"length,attr"`
	} `xml:"cylinder"`
	Sphere *struct {
		Radius float64 `xml:"radius,attr"`
	} `xml:"sphere"`
}

type urdfJoint struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// model is what the backend keeps from a URDF file.
type model struct {
	name   string
	links  []string
	joints []string
	radius float64
	color  color.RGBA
}

func loadModel(path string) (*model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", engine.ErrAssetNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc urdfRobot
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed URDF %s: %w", path, err)
	}
	if len(doc.Links) == 0 {
		return nil, fmt.Errorf("malformed URDF %s: no links", path)
	}

	m := &model{name: doc.Name, color: defaultColor}
	for _, l := range doc.Links {
		m.links = append(m.links, l.Name)
		for _, v := range l.Visual {
			m.radius = math.Max(m.radius, v.Geometry.boundingRadius())
			if v.Material.Color != nil {
				if c, ok := parseRGBA(v.Material.Color.RGBA); ok {
					m.color = c
				}
			}
		}
	}
	for _, j := range doc.Joints {
		m.joints = append(m.joints, j.Name)
	}
	if m.radius == 0 {
		m.radius = defaultRadius
	}
	return m, nil
}

func (g urdfGeometry) boundingRadius() float64 {
	switch {
	case g.Sphere != nil:
		return g.Sphere.Radius
	case g.Cylinder != nil:
		return math.Max(g.Cylinder.Radius, g.Cylinder.Length/2)
	case g.Box != nil:
		var r float64
		for _, f := range strings.Fields(g.Box.Size) {
			if v, err := strconv.ParseFloat(f, 64); err == nil {
				r = math.Max(r, v/2)
			}
		}
		return r
	}
	return 0
}

func parseRGBA(s string) (color.RGBA, bool) {
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return color.RGBA{}, false
	}
	var out [4]uint8
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return color.RGBA{}, false
		}
		out[i] = channel(v)
	}
	return color.RGBA{R: out[0], G: out[1], B: out[2], A: out[3]}, true
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
