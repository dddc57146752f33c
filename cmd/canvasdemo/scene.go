package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scene describes what the demo draws.
type Scene struct {
	Clear  [4]float64   `yaml:"clear"`
	Camera CameraConfig `yaml:"camera"`
	Meshes []MeshConfig `yaml:"meshes"`
	Series SeriesConfig `yaml:"series"`
}

// CameraConfig places the orbit camera. Angles are radians.
type CameraConfig struct {
	FOV      float32 `yaml:"fov"`
	Distance float32 `yaml:"distance"`
	Pitch    float32 `yaml:"pitch"`
	Spin     float32 `yaml:"spin"` // yaw added per frame
}

// MeshConfig is one mesh and the grid of instances placed from it.
type MeshConfig struct {
	Name     string    `yaml:"name"`
	Vertices []float32 `yaml:"vertices"` // x, y, z, r, g, b, a per vertex
	Columns  int       `yaml:"columns"`
	Rows     int       `yaml:"rows"`
	Spacing  float32   `yaml:"spacing"`
	Y        float32   `yaml:"y"`
}

// SeriesConfig generates phase-shifted sine series.
type SeriesConfig struct {
	Count     int          `yaml:"count"`
	Samples   int          `yaml:"samples"`
	LineWidth float32      `yaml:"line_width"`
	Colors    [][4]float32 `yaml:"colors"`
}

const defaultScene = `
clear: [0.02, 0.02, 0.05, 1]
camera:
  fov: 1.0
  distance: 30
  pitch: 0.4
  spin: 0.01
meshes:
  - name: pyramid
    vertices: [
       0, 1,  0,  1.0, 0.3, 0.3, 1,
      -1, 0,  1,  0.3, 1.0, 0.3, 1,
       1, 0,  1,  0.3, 0.3, 1.0, 1,
       0, 1,  0,  1.0, 0.3, 0.3, 1,
       1, 0,  1,  0.3, 0.3, 1.0, 1,
       0, 0, -1,  1.0, 1.0, 0.3, 1,
       0, 1,  0,  1.0, 0.3, 0.3, 1,
       0, 0, -1,  1.0, 1.0, 0.3, 1,
      -1, 0,  1,  0.3, 1.0, 0.3, 1,
    ]
    columns: 40
    rows: 30
    spacing: 2.5
  - name: quad
    vertices: [
      -1, 0, -1,  0.4, 0.4, 0.5, 1,
       1, 0,  1,  0.4, 0.4, 0.5, 1,
       1, 0, -1,  0.4, 0.4, 0.5, 1,
      -1, 0, -1,  0.4, 0.4, 0.5, 1,
      -1, 0,  1,  0.4, 0.4, 0.5, 1,
       1, 0,  1,  0.4, 0.4, 0.5, 1,
    ]
    columns: 4
    rows: 4
    spacing: 20
    y: -0.5
series:
  count: 3
  samples: 512
  line_width: 1
  colors:
    - [0.2, 0.9, 0.3, 1]
    - [0.9, 0.6, 0.2, 1]
    - [0.3, 0.5, 1.0, 1]
`

// loadScene reads a scene file, or the built-in scene when path is empty.
func loadScene(path string) (*Scene, error) {
	data := []byte(defaultScene)
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read scene: %w", err)
		}
	}
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scene %q: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scene %q: %w", path, err)
	}
	return &s, nil
}

func (s *Scene) validate() error {
	if s.Camera.FOV <= 0 {
		s.Camera.FOV = 1
	}
	if s.Camera.Distance <= 0 {
		s.Camera.Distance = 10
	}
	for i, m := range s.Meshes {
		if m.Columns < 0 || m.Rows < 0 {
			return fmt.Errorf("mesh %d (%s): negative grid", i, m.Name)
		}
	}
	if s.Series.Count < 0 || s.Series.Samples < 0 {
		return fmt.Errorf("series: negative count")
	}
	return nil
}
