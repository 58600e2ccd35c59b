package golden

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFibTable(t *testing.T) {
	assert.Equal(t, 0.0, Fib(0))
	assert.Equal(t, 1.0, Fib(1))
	assert.Equal(t, 1.0, Fib(2))
	assert.Equal(t, 55.0, Fib(10))
	assert.Equal(t, 139583862445.0, Fib(55))
	assert.Equal(t, Fib(55), Fib(200), "indices above the cap reuse F(55)")
}

func TestGoldenConstants(t *testing.T) {
	assert.InDelta(t, 1.6180339887, Phi, 1e-9)
	assert.InDelta(t, Phi-1, InvPhi, 1e-12)
	assert.InDelta(t, 0.236, InvPow(3), 1e-3)
	assert.InDelta(t, 0.382, InvPow(2), 1e-3)
	assert.InDelta(t, 0.786, InvPow(0.5), 1e-3)
	assert.InDelta(t, 137.507764*math.Pi/180, Angle, 1e-6)
}
