package templatebank

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestLoadBuildsPyramidPerConfiguredScale(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "confirm.png", 20, 10)

	bank := New(nil, []float64{0.5, 1.0, 2.0}, false, true)
	id, err := bank.Load(path)
	require.NoError(t, err)

	tpl, ok := bank.Get(id)
	require.True(t, ok)
	assert.Equal(t, 20, tpl.Width)
	assert.Equal(t, 10, tpl.Height)
	require.Len(t, tpl.Pyramid, 3)

	byScale := map[float64]int{}
	for _, v := range tpl.Pyramid {
		byScale[v.Scale] = v.Gray.Bounds().Dx()
	}
	assert.Equal(t, 10, byScale[0.5])
	assert.Equal(t, 20, byScale[1.0])
	assert.Equal(t, 40, byScale[2.0])
}

func TestLoadDefaultsToNativeScaleOnly(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "confirm.png", 16, 16)

	bank := New(nil, nil, false, false)
	id, err := bank.Load(path)
	require.NoError(t, err)

	tpl, _ := bank.Get(id)
	require.Len(t, tpl.Pyramid, 1)
	assert.Equal(t, 1.0, tpl.Pyramid[0].Scale)
}

func TestLoadMultiScaleFalseForcesNativeOnly(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "confirm.png", 20, 10)

	bank := New(nil, []float64{0.5, 1.0, 2.0}, false, false)
	id, err := bank.Load(path)
	require.NoError(t, err)

	tpl, _ := bank.Get(id)
	require.Len(t, tpl.Pyramid, 1)
	assert.Equal(t, 1.0, tpl.Pyramid[0].Scale)
}

func TestLoadDuplicateContentReturnsSameID(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "confirm.png", 12, 12)
	dup := writePNG(t, dir, "confirm-copy.png", 12, 12)

	bank := New(nil, nil, false, false)
	id1, err := bank.Load(path)
	require.NoError(t, err)
	id2, err := bank.Load(dup)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, bank.All(), 1)
}

func TestLoadRejectsUndecodableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-an-image.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0644))

	bank := New(nil, nil, false, false)
	_, err := bank.Load(path)
	assert.ErrorIs(t, err, ErrBadTemplate)
}

func TestAllPreservesLoadOrder(t *testing.T) {
	dir := t.TempDir()
	pathA := writePNG(t, dir, "a.png", 8, 8)
	pathB := writePNG(t, dir, "b.png", 9, 9)

	bank := New(nil, nil, false, false)
	idA, err := bank.Load(pathA)
	require.NoError(t, err)
	idB, err := bank.Load(pathB)
	require.NoError(t, err)

	all := bank.All()
	require.Len(t, all, 2)
	assert.Equal(t, idA, all[0].ID)
	assert.Equal(t, idB, all[1].ID)
}

func TestReloadAllDropsFailingPathButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	good := writePNG(t, dir, "good.png", 8, 8)
	bank := New(nil, nil, false, false)
	_, err := bank.Load(good)
	require.NoError(t, err)

	// Remove the backing file so the next reload fails for it.
	require.NoError(t, os.Remove(good))

	err = bank.ReloadAll()
	assert.Error(t, err)
	assert.Empty(t, bank.All())
}
