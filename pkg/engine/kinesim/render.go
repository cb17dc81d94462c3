package kinesim

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"github.com/open-teleop/simcontroller/pkg/engine"
)

// Background segmentation value, matching the simulator convention.
const segBackground = -1

// CaptureImage renders every free body (non-fixed URDFs and spheres) as a disc.
// Depth holds the non-linear [0,1] depth buffer, 1 where nothing was drawn.
func (s *Sim) CaptureImage(ctx context.Context, cam engine.Camera) (*engine.Frame, error) {
	if err := validateCamera(cam); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, engine.ErrClosed
	}
	type splat struct {
		id     engine.BodyID
		center r3.Vector
		radius float64
		color  color.RGBA
	}
	var splats []splat
	for _, b := range s.bodies {
		if b.fixed || b.kind == KindRobot {
			continue
		}
		splats = append(splats, splat{id: b.id, center: b.pose.Point, radius: b.radius, color: b.color})
	}
	light := s.light
	s.mu.Unlock()

	w, h := cam.Width, cam.Height
	frame := &engine.Frame{
		Width:  w,
		Height: h,
		RGB:    image.NewRGBA(image.Rect(0, 0, w, h)),
		Depth:  make([]float32, w*h),
		Seg:    make([]int32, w*h),
	}
	shade := brightness(light)
	bg := scale(color.RGBA{R: 200, G: 200, B: 205, A: 255}, shade)
	for i := range frame.Depth {
		frame.Depth[i] = 1
		frame.Seg[i] = segBackground
		frame.RGB.Pix[4*i+0] = bg.R
		frame.RGB.Pix[4*i+1] = bg.G
		frame.RGB.Pix[4*i+2] = bg.B
		frame.RGB.Pix[4*i+3] = bg.A
	}

	view := newView(cam)
	for _, sp := range splats {
		px, py, depth, ok := view.project(sp.center)
		if !ok {
			continue
		}
		pr := math.Max(1, view.focal*sp.radius/depth)
		zb := float32(view.depthBuffer(depth))
		c := scale(sp.color, shade)

		x0, x1 := clampInt(int(px-pr), 0, w-1), clampInt(int(px+pr), 0, w-1)
		y0, y1 := clampInt(int(py-pr), 0, h-1), clampInt(int(py+pr), 0, h-1)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx, dy := float64(x)+0.5-px, float64(y)+0.5-py
				if dx*dx+dy*dy > pr*pr {
					continue
				}
				i := y*w + x
				if zb >= frame.Depth[i] {
					continue
				}
				frame.Depth[i] = zb
				frame.Seg[i] = int32(sp.id)
				frame.RGB.SetRGBA(x, y, c)
			}
		}
	}
	return frame, nil
}

func validateCamera(cam engine.Camera) error {
	switch {
	case cam.Width <= 0 || cam.Height <= 0:
		return fmt.Errorf("camera size %dx%d must be positive", cam.Width, cam.Height)
	case cam.Near <= 0 || cam.Far <= cam.Near:
		return fmt.Errorf("camera clip planes near=%v far=%v are invalid", cam.Near, cam.Far)
	case cam.FOV <= 0 || cam.FOV >= 180:
		return fmt.Errorf("camera fov %v must be in (0, 180)", cam.FOV)
	case cam.Target.Sub(cam.Eye).Norm() == 0:
		return fmt.Errorf("camera eye and target coincide")
	}
	return nil
}

type view struct {
	eye            r3.Vector
	forward, right r3.Vector
	up             r3.Vector
	focal          float64
	cx, cy         float64
	near, far      float64
}

func newView(cam engine.Camera) view {
	forward := cam.Target.Sub(cam.Eye).Normalize()
	upHint := cam.Up
	if upHint.Norm() == 0 || math.Abs(forward.Dot(upHint.Normalize())) > 0.999 {
		upHint = r3.Vector{Z: 1}
	}
	right := forward.Cross(upHint).Normalize()
	return view{
		eye:     cam.Eye,
		forward: forward,
		right:   right,
		up:      right.Cross(forward),
		focal:   float64(cam.Height) / 2 / math.Tan(cam.FOV*math.Pi/360),
		cx:      float64(cam.Width) / 2,
		cy:      float64(cam.Height) / 2,
		near:    cam.Near,
		far:     cam.Far,
	}
}

// project returns pixel coordinates and view depth of p, or false when p is clipped.
func (v view) project(p r3.Vector) (x, y, depth float64, ok bool) {
	d := p.Sub(v.eye)
	depth = d.Dot(v.forward)
	if depth < v.near || depth > v.far {
		return 0, 0, 0, false
	}
	x = v.cx + v.focal*d.Dot(v.right)/depth
	y = v.cy - v.focal*d.Dot(v.up)/depth
	return x, y, depth, true
}

func (v view) depthBuffer(depth float64) float64 {
	return (1/v.near - 1/depth) / (1/v.near - 1/v.far)
}

func brightness(light r3.Vector) float64 {
	return math.Max(0.3, math.Min(1, 0.5+0.1*light.Z))
}

func scale(c color.RGBA, f float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
		A: c.A,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
