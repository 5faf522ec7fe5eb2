package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeDisambiguated(t *testing.T) {
	assert.Equal(t, "/out/IMG_1-2097152.HEIC", SizeDisambiguated("/out/IMG_1.HEIC", 2097152))
	assert.Equal(t, "/out/clip-512.MOV", SizeDisambiguated("/out/clip.MOV", 512))
	assert.Equal(t, "/out/noext-99", SizeDisambiguated("/out/noext", 99))
}

func TestID7Token(t *testing.T) {
	assert.Equal(t, "QWJDZEV", id7Token("AbCdEfGhIj"))
	assert.Equal(t, "QTE=", id7Token("A1"))

	// Base64 can emit path separators; tokens must stay filename-safe.
	for _, id := range []string{"\xfb\xff\xfe", "??>>??"} {
		tok := id7Token(id)
		assert.NotContains(t, tok, "/")
		assert.NotContains(t, tok, "\\")
	}
}

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "a_b_c_d_e_f_g_h_i_j", CleanFilename(`a<b>c:d"e/f\g|h?i*j`))
	assert.Equal(t, "plain.JPG", CleanFilename("plain.JPG"))
	assert.Equal(t, "nul_byte", CleanFilename("nul\x00byte"))
}

func TestStripNonASCII(t *testing.T) {
	assert.Equal(t, "Fe 2018.JPG", stripNonASCII("Füße 2018.JPG"))
	assert.Equal(t, "ascii", stripNonASCII("ascii"))
	assert.Equal(t, ".JPG", stripNonASCII("фото.JPG"))
}
