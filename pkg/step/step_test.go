package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNarrowIsIdempotentPerLabel(t *testing.T) {
	a1 := Root.Narrow("mul")
	a2 := Root.Narrow("mul")
	assert.Same(t, a1, a2, "narrowing the same label twice must return the same interned node")
}

func TestNarrowDistinctLabelsAreDistinctNodes(t *testing.T) {
	a := Root.Narrow("left")
	b := Root.Narrow("right")
	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.String(), b.String())
}

func TestStringRendersFullPath(t *testing.T) {
	p := Root.Narrow("round0").Narrow("mul").Narrow("send")
	assert.Equal(t, "/round0/mul/send", p.String())
}

func TestRootStringIsSlash(t *testing.T) {
	assert.Equal(t, "/", Root.String())
}

func TestURLEncodeRoundTrip(t *testing.T) {
	p := Root.Narrow("attribution").Narrow("breakdown/9").Narrow("step 3")
	encoded := p.URLEncode()

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, p.String(), decoded.String())
	assert.Same(t, p, decoded, "decoding must re-intern to the same node")
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, Root.Depth())
	assert.Equal(t, 1, Root.Narrow("a").Depth())
	assert.Equal(t, 2, Root.Narrow("a").Narrow("b").Depth())
}

func TestNarrowEmptyLabelPanics(t *testing.T) {
	assert.Panics(t, func() {
		Root.Narrow("")
	})
}
