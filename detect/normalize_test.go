package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"dont", "tell", "your", "parents"}, Tokenize("Don't TELL your parents!"))
	assert.Equal([]string{"naive", "cafe"}, Tokenize("naïve   café"))
	assert.Equal([]string{"share", "now"}, Tokenize("share...now"))
	assert.Empty(Tokenize("!!! ..."))
}

func TestNormalize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("don't tell, ok?", Normalize("  Don't\tTELL,\n\nok? "))
}

func TestTokenTextMatches(t *testing.T) {
	assert := assert.New(t)

	tt := newTokenText("Act NOW, before it's too late! Bananas.")
	assert.True(tt.has("now"))
	assert.True(tt.has("before its too late"))
	// token boundaries only
	assert.False(tt.has("ban"))
	assert.Equal([]string{"now", "act"}, tt.matches([]string{"now", "ban", "act"}))
}
