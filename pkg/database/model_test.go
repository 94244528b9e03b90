package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListValueScan(t *testing.T) {
	in := StringList{"address", "undefined"}
	v, err := in.Value()
	require.NoError(t, err)

	var out StringList
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)

	require.NoError(t, out.Scan(`["memory"]`))
	assert.Equal(t, StringList{"memory"}, out)

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)

	assert.Error(t, out.Scan(42))

	v, err = StringList(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
