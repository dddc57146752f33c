// Command canvasdemo renders a scene of instanced meshes and live line
// charts headlessly on the noop GPU backend and reports what it did.
//
// Usage:
//
//	canvasdemo [--scene scene.yaml] [--frames 300] [--width 1280] [--height 720]
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/jessevdk/go-flags"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/image/math/f32"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/canvaskit"
	"github.com/gogpu/canvaskit/surface"
)

type options struct {
	Scene   string `long:"scene" description:"YAML scene file (built-in scene when empty)"`
	Frames  int    `long:"frames" default:"300" description:"number of frames to render"`
	Width   int    `long:"width" default:"1280" description:"target width in pixels"`
	Height  int    `long:"height" default:"720" description:"target height in pixels"`
	Quiet   bool   `short:"q" long:"quiet" description:"no progress bar or summary"`
	Verbose bool   `short:"v" long:"verbose" description:"debug logging to stderr"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "canvasdemo:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.Verbose {
		canvaskit.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	scene, err := loadScene(opts.Scene)
	if err != nil {
		return err
	}

	device, queue, closeDevice, err := openNoop()
	if err != nil {
		return err
	}
	defer closeDevice()

	id, err := surface.RegisterAnonymous(surface.Drawable{
		Device: device,
		Queue:  queue,
		Width:  opts.Width,
		Height: opts.Height,
	})
	if err != nil {
		return err
	}
	defer surface.Unregister(id)

	c, err := canvaskit.NewComposer(id, canvaskit.WithLabel("demo"))
	if err != nil {
		return err
	}
	defer c.Free()
	if err := c.SetClearColor(scene.Clear[0], scene.Clear[1], scene.Clear[2], scene.Clear[3]); err != nil {
		return err
	}

	d, err := newDemo(c, scene, opts.Width, opts.Height)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !opts.Quiet {
		bar = progressbar.Default(int64(opts.Frames), "rendering")
	}
	for frame := 0; frame < opts.Frames; frame++ {
		if err := d.step(frame); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		if err := c.Render(); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if !opts.Quiet {
		stats, err := c.Stats()
		if err != nil {
			return err
		}
		instances, _ := d.meshes.InstanceCount()
		p := message.NewPrinter(language.English)
		p.Printf("frames:    %d\n", stats.Frames)
		p.Printf("instances: %d\n", instances)
		p.Printf("draws:     %d\n", stats.DrawCalls)
		p.Printf("uploaded:  %d bytes\n", stats.BytesUploaded)
	}
	return nil
}

// openNoop opens the first noop adapter with default limits.
func openNoop() (hal.Device, hal.Queue, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, nil, errors.New("no noop adapter")
	}
	opened, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, fmt.Errorf("open adapter: %w", err)
	}
	return opened.Device, opened.Queue, func() {
		opened.Device.Destroy()
		instance.Destroy()
	}, nil
}

// demo animates the scene between frames.
type demo struct {
	scene  *Scene
	meshes *canvaskit.BatchedRenderer
	chart  *canvaskit.TimeSeriesRenderer
	bobs   []canvaskit.InstanceHandle
	base   []canvaskit.Mat4

	times  []float32
	series []canvaskit.Series
}

func newDemo(c *canvaskit.Composer, scene *Scene, width, height int) (*demo, error) {
	meshes, err := c.AddBatchedPass()
	if err != nil {
		return nil, err
	}
	proj, err := canvaskit.Perspective(scene.Camera.FOV, float32(width)/float32(max(height, 1)), 0.1, 500)
	if err != nil {
		return nil, err
	}
	if err := meshes.SetProjectionMatrix(proj); err != nil {
		return nil, err
	}

	d := &demo{scene: scene, meshes: meshes}
	for _, m := range scene.Meshes {
		h, err := meshes.RegisterMesh(m.Vertices)
		if err != nil {
			return nil, fmt.Errorf("mesh %s: %w", m.Name, err)
		}
		x0 := -float32(m.Columns-1) * m.Spacing / 2
		z0 := -float32(m.Rows-1) * m.Spacing / 2
		for row := 0; row < m.Rows; row++ {
			for col := 0; col < m.Columns; col++ {
				t := canvaskit.Translation(x0+float32(col)*m.Spacing, m.Y, z0+float32(row)*m.Spacing)
				inst, err := meshes.CreateInstance(h, t)
				if err != nil {
					return nil, err
				}
				// Every seventh instance bobs up and down.
				if (row*m.Columns+col)%7 == 0 {
					d.bobs = append(d.bobs, inst)
					d.base = append(d.base, t)
				}
			}
		}
	}

	chart, err := c.AddTimeSeriesPass()
	if err != nil {
		return nil, err
	}
	d.chart = chart
	d.times = make([]float32, scene.Series.Samples)
	for i := range d.times {
		d.times[i] = float32(i)
	}
	d.series = make([]canvaskit.Series, scene.Series.Count)
	for i := range d.series {
		d.series[i] = canvaskit.Series{
			Values:    make([]float32, scene.Series.Samples),
			LineWidth: scene.Series.LineWidth,
		}
		if i < len(scene.Series.Colors) {
			d.series[i].Color = f32.Vec4(scene.Series.Colors[i])
		} else {
			d.series[i].Color = f32.Vec4{1, 1, 1, 1}
		}
	}
	return d, nil
}

func (d *demo) step(frame int) error {
	cam := d.scene.Camera
	view := canvaskit.OrbitView(f32.Vec3{}, float32(frame)*cam.Spin, cam.Pitch, cam.Distance)
	if err := d.meshes.SetViewMatrix(view); err != nil {
		return err
	}

	phase := float32(frame) * 0.05
	for i, h := range d.bobs {
		lift := math32.Sin(phase + float32(i)*0.3)
		if err := d.meshes.SetInstanceTransform(h, canvaskit.Translation(0, lift, 0).Mul(d.base[i])); err != nil {
			return err
		}
	}

	for s := range d.series {
		values := d.series[s].Values
		for i := range values {
			values[i] = math32.Sin(float32(i)*0.05+phase+float32(s)) * float32(s+1)
		}
	}
	if len(d.series) == 0 {
		return d.chart.SetSeries(nil, nil)
	}
	return d.chart.SetSeries(d.times, d.series)
}
