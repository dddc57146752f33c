package shaders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/canvaskit/internal/gputest"
)

func TestEmbeddedSources(t *testing.T) {
	for name, src := range map[string]string{"mesh": Mesh, "line": Line} {
		assert.Contains(t, src, "fn vs_main", name)
		assert.Contains(t, src, "fn fs_main", name)
	}
}

func TestCompileSPIRV(t *testing.T) {
	for name, src := range map[string]string{"mesh": Mesh, "line": Line} {
		t.Run(name, func(t *testing.T) {
			code, err := CompileSPIRV(src)
			if err != nil {
				msg := err.Error()
				if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
					t.Skipf("naga limitation: %v", err)
				}
				t.Fatalf("compile %s: %v", name, err)
			}
			require.NotEmpty(t, code)
			assert.Equal(t, uint32(0x07230203), code[0], "SPIR-V magic")
		})
	}
}

func TestModuleWGSL(t *testing.T) {
	dev, _, _ := gputest.Open(t)
	g, err := Module(dev, "mesh_shader", Mesh, false)
	require.NoError(t, err)
	assert.Equal(t, "mesh_shader", g.Label())
	assert.NotNil(t, g.Get())
	g.Release()
	assert.True(t, g.Released())
}
