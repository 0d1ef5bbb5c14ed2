package crypto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeConversions(t *testing.T) {
	v, err := safeUint64ToInt64(42)
	assert.NoError(t, err)
	assert.EqualValues(t, 42, v)

	_, err = safeUint64ToInt64(math.MaxInt64 + 1)
	assert.Error(t, err)

	u, err := safeInt64ToUint64(math.MaxInt64)
	assert.NoError(t, err)
	assert.EqualValues(t, uint64(math.MaxInt64), u)

	_, err = safeInt64ToUint64(-1)
	assert.Error(t, err)
}
