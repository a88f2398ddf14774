package knowledge

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// 对任意单位向量 a,b：1 − d²/2 与点积余弦一致
func TestL2ToCosineIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		dims := 8 + rng.Intn(120)
		a := make([]float32, dims)
		b := make([]float32, dims)
		for i := 0; i < dims; i++ {
			a[i] = float32(rng.NormFloat64())
			b[i] = float32(rng.NormFloat64())
		}
		a = NormalizeVector(a)
		b = NormalizeVector(b)

		sim := L2ToCosine(l2Distance(a, b))
		assert.InDelta(t, dotProduct(a, b), sim, 1e-5)
	}
}

func TestL2ToCosineBounds(t *testing.T) {
	// 距离0 → 相似度1；单位向量最大距离2 → 相似度-1
	assert.InDelta(t, 1.0, L2ToCosine(0), 1e-12)
	assert.InDelta(t, -1.0, L2ToCosine(2), 1e-12)
	assert.InDelta(t, 0.0, L2ToCosine(math.Sqrt2), 1e-12)
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)

	// 零向量原样返回，不产生NaN
	zero := NormalizeVector([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)

	// 已归一化的向量再归一化结果不变
	again := NormalizeVector(v)
	for i := range v {
		assert.InDelta(t, float64(v[i]), float64(again[i]), 1e-6)
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.75, 0, math.MaxFloat32}

	decoded, err := DecodeVector(EncodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	_, err = DecodeVector([]byte{1, 2, 3})
	require.Error(t, err)

	empty, err := DecodeVector(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
