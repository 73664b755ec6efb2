package enhance

import (
	"testing"

	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestUploadValidator(t *testing.T) {
	t.Parallel()
	v := NewUploadValidator(1024*1024, []string{"wav", "mp3", "flac"})

	t.Run("name", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, v.ValidateName("talk.WAV"))
		assert.NoError(t, v.ValidateName("a.b.flac"))

		err := v.ValidateName("notes.txt")
		assert.ErrorIs(t, err, ErrExtensionNotAllowed)
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve)

		assert.ErrorIs(t, v.ValidateName("noext"), ErrExtensionNotAllowed)
	})

	t.Run("size", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, v.ValidateSize(1024))
		assert.ErrorIs(t, v.ValidateSize(0), ErrEmptyFile)
		assert.ErrorIs(t, v.ValidateSize(2*1024*1024), ErrFileTooLarge)
	})

	t.Run("content", func(t *testing.T) {
		t.Parallel()
		wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
		mp3 := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 32)...)
		flac := append([]byte("fLaC\x00\x00\x00\x22"), make([]byte, 32)...)

		assert.NoError(t, v.ValidateContent(wav))
		assert.NoError(t, v.ValidateContent(mp3))
		assert.NoError(t, v.ValidateContent(flac), "unrecognized binary passes")

		assert.ErrorIs(t, v.ValidateContent([]byte("<html><body>hi</body></html>")), ErrNotAudio)
		assert.ErrorIs(t, v.ValidateContent([]byte("%PDF-1.7\n")), ErrNotAudio)
		assert.ErrorIs(t, v.ValidateContent([]byte("just some plain text")), ErrNotAudio)
		assert.ErrorIs(t, v.ValidateContent(nil), ErrEmptyFile)
	})
}
