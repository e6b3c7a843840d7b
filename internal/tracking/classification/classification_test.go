package classification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustData(t *testing.T, classes ...string) *Data {
	t.Helper()
	d, err := NewData(classes)
	require.NoError(t, err)
	return d
}

func TestData_Classification(t *testing.T) {
	t.Parallel()

	d := mustData(t, "Car", "Bike", "Person")

	v, err := d.Classification("Car", 0.8)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, 0.1, 0.1}, v, 1e-12)

	v, err = d.Classification("Person", 0.5)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.5}, v, 1e-12)

	_, err = d.Classification("Truck", 0.9)
	assert.ErrorIs(t, err, ErrUnknownClass)

	_, err = d.Classification("Car", 1.5)
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestData_Defaults(t *testing.T) {
	t.Parallel()

	d := mustData(t)
	assert.Equal(t, []string{"Unknown"}, d.Classes())

	v, err := d.Classification("Unknown", 0.3)
	require.NoError(t, err)
	assert.Equal(t, Vector{1}, v)
}

func TestData_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewData([]string{"Car", "Car"})
	assert.Error(t, err)
	_, err = NewData([]string{"Car", " "})
	assert.Error(t, err)
}

func TestData_GetClass(t *testing.T) {
	t.Parallel()

	d := mustData(t, "Car", "Bike", "Person")

	tests := []struct {
		name string
		v    Vector
		want string
	}{
		{"argmax", Vector{0.1, 0.7, 0.2}, "Bike"},
		{"tie resolves to first", Vector{0.4, 0.2, 0.4}, "Car"},
		{"all equal", Vector{1.0 / 3, 1.0 / 3, 1.0 / 3}, "Car"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.GetClass(tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := d.GetClass(Vector{1, 0})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestData_ClassIndexAndPriors(t *testing.T) {
	t.Parallel()

	d := mustData(t, "Car", "Bike", "Person", "Truck")
	i, err := d.ClassIndex("Person")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, d.Prior(), 1e-12)
	assert.Equal(t, Vector{0.6, 0.6, 0.6, 0.6}, d.UniformPrior(0.6))
}

func TestCombine(t *testing.T) {
	t.Parallel()

	t.Run("normalized product", func(t *testing.T) {
		got, err := Combine(Vector{0.8, 0.1, 0.1}, Vector{0.5, 0.25, 0.25})
		require.NoError(t, err)
		// 0.4, 0.025, 0.025 normalised by 0.45
		assert.InDeltaSlice(t, []float64{0.4 / 0.45, 0.025 / 0.45, 0.025 / 0.45}, got, 1e-12)
	})

	t.Run("commutative", func(t *testing.T) {
		a := Vector{0.6, 0.3, 0.1}
		b := Vector{0.2, 0.5, 0.3}
		ab, err := Combine(a, b)
		require.NoError(t, err)
		ba, err := Combine(b, a)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64(ab), []float64(ba), 1e-15)
	})

	t.Run("uniform is identity", func(t *testing.T) {
		a := Vector{0.7, 0.2, 0.1}
		got, err := Combine(a, Vector{1.0 / 3, 1.0 / 3, 1.0 / 3})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64(a), got, 1e-12)
	})

	t.Run("disjoint one-hot vectors are degenerate", func(t *testing.T) {
		_, err := Combine(Vector{1, 0, 0}, Vector{0, 1, 0})
		assert.ErrorIs(t, err, ErrDegenerate)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := Combine(Vector{1, 0}, Vector{1, 0, 0})
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("inputs untouched", func(t *testing.T) {
		a := Vector{0.5, 0.5}
		b := Vector{0.9, 0.1}
		_, err := Combine(a, b)
		require.NoError(t, err)
		assert.Equal(t, Vector{0.5, 0.5}, a)
		assert.Equal(t, Vector{0.9, 0.1}, b)
	})
}

func TestSimilarityAndDistance(t *testing.T) {
	t.Parallel()

	s, err := Similarity(Vector{1, 0, 0}, Vector{1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-12)

	s, err = Similarity(Vector{1, 0, 0}, Vector{0, 0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-12)

	d, err := Distance(Vector{0.8, 0.1, 0.1}, Vector{0.8, 0.1, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-6)

	d, err = Distance(Vector{1, 0, 0}, Vector{0, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-12)

	// closer distributions have smaller distance and larger similarity
	ref := Vector{0.8, 0.1, 0.1}
	near := Vector{0.7, 0.2, 0.1}
	far := Vector{0.2, 0.7, 0.1}
	dNear, _ := Distance(ref, near)
	dFar, _ := Distance(ref, far)
	sNear, _ := Similarity(ref, near)
	sFar, _ := Similarity(ref, far)
	assert.Less(t, dNear, dFar)
	assert.Greater(t, sNear, sFar)

	_, err = Similarity(Vector{1}, Vector{0.5, 0.5})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestVector_ValidateAndMax(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Vector{0.2, 0.8}.Validate())
	assert.ErrorIs(t, Vector{}.Validate(), ErrInvalidVector)
	assert.ErrorIs(t, Vector{-0.1, 1.1}.Validate(), ErrInvalidVector)

	p, i := Vector{0.3, 0.5, 0.5}.Max()
	assert.Equal(t, 0.5, p)
	assert.Equal(t, 1, i)

	_, i = Vector(nil).Max()
	assert.Equal(t, -1, i)
}
