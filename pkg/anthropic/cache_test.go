package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedSystem(t *testing.T) {
	blocks := CachedSystem("Extract the services offered by this business.", "", "Sector: Kuaför")

	require.Len(t, blocks, 2)
	assert.Nil(t, blocks[0].CacheControl)
	assert.Equal(t, "Sector: Kuaför", blocks[1].Text)
	require.NotNil(t, blocks[1].CacheControl)
	assert.Equal(t, DefaultCacheTTL, blocks[1].CacheControl.TTL)
}

func TestCachedSystem_Single(t *testing.T) {
	blocks := CachedSystem("instructions")

	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].CacheControl)
}

func TestCachedSystem_Empty(t *testing.T) {
	assert.Empty(t, CachedSystem())
	assert.Empty(t, CachedSystem("", ""))
}
