package vision

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexface/internal/tracking"
)

func TestSelectBest(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok := SelectBest(nil)
		assert.False(t, ok)
	})

	t.Run("single", func(t *testing.T) {
		f, ok := SelectBest([]Face{{Score: 0.2}})
		require.True(t, ok)
		assert.Equal(t, float32(0.2), f.Score)
	})

	t.Run("confidence outweighs area", func(t *testing.T) {
		faces := []Face{
			{W: 100, H: 100, Score: 0.6},
			{W: 80, H: 80, Score: 0.95},
		}
		f, ok := SelectBest(faces)
		require.True(t, ok)
		assert.Equal(t, float32(0.95), f.Score)
	})

	t.Run("area breaks a tie", func(t *testing.T) {
		faces := []Face{
			{W: 10, H: 10, Score: 0.9},
			{W: 50, H: 50, Score: 0.9},
		}
		f, _ := SelectBest(faces)
		assert.Equal(t, float32(50), f.W)
	})
}

func TestParseRow(t *testing.T) {
	row := []float32{10, 20, 100, 120, 40, 60, 80, 60, 60, 90, 45, 110, 75, 110, 0.93}
	f := parseRow(func(col int) float32 { return row[col] })

	assert.Equal(t, float32(10), f.X)
	assert.Equal(t, float32(120), f.H)
	assert.Equal(t, float32(0.93), f.Score)
	require.Len(t, f.Landmarks, 5)
	assert.Equal(t, mgl32.Vec3{40, 60, 0}, f.Landmarks[0])
	assert.Equal(t, mgl32.Vec3{75, 110, 0}, f.Landmarks[4])
}

func TestErrCameraNotAvailable(t *testing.T) {
	assert.True(t, errors.Is(ErrCameraNotAvailable, tracking.ErrSensorUnavailable))
}

type dropCounter struct{ n int }

func (d *dropCounter) CameraFrameDropped() { d.n++ }

func TestCamera_DropIsRecorded(t *testing.T) {
	rec := &dropCounter{}
	c := &Camera{rec: rec}

	c.drop()
	c.drop()

	assert.Equal(t, uint64(2), c.Dropped())
	assert.Equal(t, 2, rec.n)

	// no recorder installed
	(&Camera{}).drop()
}
