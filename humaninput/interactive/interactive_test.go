package interactive

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAskReturnsAnswer(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("blue\n"), &out)
	answer, cancelled, err := c.Ask("favorite color?")
	assert.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "blue", answer)
	assert.Contains(t, out.String(), "favorite color?")
}

func TestAskEmptyLineCancels(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("\n"), &out)
	_, cancelled, err := c.Ask("q?")
	assert.NoError(t, err)
	assert.True(t, cancelled)
}

func TestAskEOFCancels(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)
	_, cancelled, err := c.Ask("q?")
	assert.NoError(t, err)
	assert.True(t, cancelled)
}
