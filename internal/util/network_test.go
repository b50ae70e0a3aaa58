package util

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPortAvailable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	assert.False(t, IsPortAvailable("127.0.0.1", port))

	listener.Close()
	assert.True(t, IsPortAvailable("127.0.0.1", port))
}

func TestParseIDList(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, ParseIDList("1,2,3"))
	assert.Equal(t, []int64{7}, ParseIDList(" 7 "))
	assert.Equal(t, []int64{1, 3}, ParseIDList("1,,3"))

	// any malformed token drops the whole list
	assert.Nil(t, ParseIDList("1,garbage,3"))
	assert.Nil(t, ParseIDList("abc"))
	assert.Nil(t, ParseIDList(""))
	assert.Nil(t, ParseIDList("   "))
	assert.Nil(t, ParseIDList(","))
}
