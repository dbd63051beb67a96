package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTraceLineGeneric(t *testing.T) {
	rec, skip, err := ParseTraceLine("12,app1,read,user:1001,512", DialectGeneric)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, OpGet, rec.Op)
	assert.Equal(t, "user:1001", rec.Key)
	assert.Equal(t, 512, rec.ValueLen)

	rec, _, err = ParseTraceLine("12,app1,write,user:1001,512", DialectGeneric)
	require.NoError(t, err)
	assert.Equal(t, OpSet, rec.Op)
}

func TestParseTraceLineTwitter(t *testing.T) {
	rec, skip, err := ParseTraceLine("100,mykey,8,256,app2,get", DialectTwitter)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, OpGet, rec.Op)
	assert.Equal(t, "mykey", rec.Key)
	assert.Equal(t, 256, rec.ValueLen)

	rec, _, err = ParseTraceLine("100,mykey,8,256,app2,set", DialectTwitter)
	require.NoError(t, err)
	assert.Equal(t, OpSet, rec.Op)
}

func TestParseTraceLineTwitterSkipsOtherOps(t *testing.T) {
	_, skip, err := ParseTraceLine("100,mykey,8,256,app2,add", DialectTwitter)
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestParseTraceLineCompact(t *testing.T) {
	// Op 1 is GET, 0 is SET; the value field carries the item footprint,
	// so 76 plus the key length comes off before the clamp.
	rec, skip, err := ParseTraceLine("5,app,1,abcde,1000", DialectCompact)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, OpGet, rec.Op)
	assert.Equal(t, 1000-76-5, rec.ValueLen)

	rec, _, err = ParseTraceLine("5,app,0,abcde,1000", DialectCompact)
	require.NoError(t, err)
	assert.Equal(t, OpSet, rec.Op)
}

func TestParseTraceLineClamps(t *testing.T) {
	rec, _, err := ParseTraceLine("1,app,read,k,0", DialectGeneric)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ValueLen, "value length floors at 1")

	rec, _, err = ParseTraceLine("1,app,read,k,9999999", DialectGeneric)
	require.NoError(t, err)
	assert.Equal(t, MaxTraceValueLen, rec.ValueLen)

	// The compact adjustment can push small footprints below the floor.
	rec, _, err = ParseTraceLine("1,app,1,k,50", DialectCompact)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ValueLen)
}

func TestParseTraceLineErrors(t *testing.T) {
	_, _, err := ParseTraceLine("too,short", DialectGeneric)
	assert.Error(t, err)

	_, _, err = ParseTraceLine("1,2,3", DialectTwitter)
	assert.Error(t, err)

	_, _, err = ParseTraceLine("1,app,notanop,k,10", DialectCompact)
	assert.Error(t, err)
}
