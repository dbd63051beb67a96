package netbuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLineNeedsFullCRLF(t *testing.T) {
	b := New()
	b.WriteString("hello")

	_, ok := b.ReadLine()
	assert.False(t, ok)

	b.WriteString("\r")
	_, ok = b.ReadLine()
	assert.False(t, ok)

	b.WriteString("\n")
	line, ok := b.ReadLine()
	require.True(t, ok)
	assert.Equal(t, "hello", string(line))
	assert.Equal(t, 0, b.Len())
}

func TestReadLineLeavesTrailingBytes(t *testing.T) {
	b := New()
	b.WriteString("one\r\ntwo")

	line, ok := b.ReadLine()
	require.True(t, ok)
	assert.Equal(t, "one", string(line))
	assert.Equal(t, 3, b.Len())
}

func TestPeekAndDiscard(t *testing.T) {
	b := New()
	b.WriteString("abcdef")

	assert.Nil(t, b.Peek(7))
	assert.Equal(t, "abc", string(b.Peek(3)))
	assert.Equal(t, 6, b.Len(), "peek must not consume")

	b.Discard(4)
	assert.Equal(t, "ef", string(b.Bytes()))

	b.Discard(100)
	assert.Equal(t, 0, b.Len())
}

func TestWriteAfterConsume(t *testing.T) {
	b := New()
	b.WriteString("head\r\n")
	_, ok := b.ReadLine()
	require.True(t, ok)

	b.WriteString("tail\r\n")
	line, ok := b.ReadLine()
	require.True(t, ok)
	assert.Equal(t, "tail", string(line))
}

func TestCompactionPreservesContent(t *testing.T) {
	b := New()
	big := strings.Repeat("x", 10000)
	b.WriteString(big + "\r\n")
	b.Discard(9000)

	b.WriteString("more")
	assert.Equal(t, big[9000:]+"\r\nmore", string(b.Bytes()))
}

func TestReset(t *testing.T) {
	b := New()
	b.WriteString("data")
	b.Reset()
	assert.Equal(t, 0, b.Len())
}
