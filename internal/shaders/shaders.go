// Package shaders embeds the WGSL sources of the mesh and line pipelines
// and turns them into HAL shader modules.
package shaders

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/canvaskit/internal/gpures"
)

// Mesh is the instanced mesh shader.
//
//go:embed mesh.wgsl
var Mesh string

// Line is the time-series line shader.
//
//go:embed line.wgsl
var Line string

// CompileSPIRV compiles WGSL source to SPIR-V words.
func CompileSPIRV(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

// Module creates a guarded shader module. With spirv set the source is
// compiled by naga and handed to the device as SPIR-V, otherwise the
// device receives WGSL.
func Module(device hal.Device, label, src string, spirv bool) (*gpures.Guard[hal.ShaderModule], error) {
	source := hal.ShaderSource{WGSL: src}
	if spirv {
		code, err := CompileSPIRV(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		source = hal.ShaderSource{SPIRV: code}
	}
	return gpures.NewShaderModule(device, &hal.ShaderModuleDescriptor{
		Label:  label,
		Source: source,
	})
}
