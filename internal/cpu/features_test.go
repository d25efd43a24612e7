package cpu

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFeaturesArchitecture(t *testing.T) {
	f := DetectFeatures()
	assert.Equal(t, runtime.GOARCH, f.Architecture)
	assert.True(t, strings.HasPrefix(f.String(), runtime.GOARCH+"/"))
}

func TestFeaturesBest(t *testing.T) {
	tests := []struct {
		name string
		f    Features
		want string
	}{
		{"none", Features{}, "generic"},
		{"sse2", Features{HasSSE2: true}, "sse2"},
		{"avx2 wins over sse2", Features{HasSSE2: true, HasAVX: true, HasAVX2: true}, "avx2"},
		{"avx512", Features{HasAVX2: true, HasAVX512: true}, "avx512"},
		{"neon", Features{HasNEON: true}, "neon"},
		{"sve", Features{HasNEON: true, HasSVE: true}, "sve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.Best())
		})
	}
}

func TestFeaturesString(t *testing.T) {
	f := Features{Architecture: "amd64", HasAVX2: true, HasFMA: true}
	assert.Equal(t, "amd64/avx2+fma", f.String())
}
