package reflector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type point struct {
	X, Y int32
}

type named struct {
	Label string
}

func TestTypeInfoFor(t *testing.T) {
	tests := []struct {
		name     string
		ti       TypeInfo
		wantName string
		wantSize int
	}{
		{"uint32", TypeInfoFor[uint32](), "uint32", 4},
		{"struct", TypeInfoFor[point](), "github.com/codewandler/notify-go/internal/reflector.point", 8},
		{"array", TypeInfoFor[[3]uint16](), "[3]uint16", 6},
		{"string field", TypeInfoFor[named](), "github.com/codewandler/notify-go/internal/reflector.named", -1},
		{"slice", TypeInfoFor[[]byte](), "[]uint8", -1},
		{"interface", TypeInfoFor[any](), "interface {}", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantName, tt.ti.Name)
			assert.Equal(t, tt.wantSize, tt.ti.Size)
			assert.Equal(t, tt.wantSize >= 0, tt.ti.Fixed())
		})
	}
}

func TestTypeInfoFor_Cached(t *testing.T) {
	a := TypeInfoFor[point]()
	b := TypeInfoFor[point]()
	assert.Equal(t, a, b)

	muCache.RLock()
	_, ok := cache[a.Type]
	muCache.RUnlock()
	assert.True(t, ok)
}

func TestTypeInfoForType_Nil(t *testing.T) {
	ti := TypeInfoForType(nil)
	assert.False(t, ti.Fixed())
	assert.Empty(t, ti.Name)
}
