package broker

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tfsbroker/internal/tfs"
)

func TestMessage_RoundTripInFile(t *testing.T) {
	t.Parallel()

	fs, err := tfs.New(tfs.DefaultParams())
	require.NoError(t, err)

	h, err := fs.Open("/box", tfs.OCreate)
	require.NoError(t, err)
	for _, s := range []string{"one", "", "three"} {
		n, err := WriteMessage(fs, h, s)
		require.NoError(t, err)
		assert.Equal(t, len(s)+1, n)
	}
	require.NoError(t, fs.Close(h))

	h, err = fs.Open("/box", 0)
	require.NoError(t, err)
	defer fs.Close(h)

	var got []string
	for {
		text, _, err := ReadMessage(fs, h)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, text)
	}
	assert.Equal(t, []string{"one", "", "three"}, got)
}

func TestMessage_RejectsNUL(t *testing.T) {
	t.Parallel()

	fs, err := tfs.New(tfs.DefaultParams())
	require.NoError(t, err)
	h, err := fs.Open("/box", tfs.OCreate)
	require.NoError(t, err)
	defer fs.Close(h)

	_, err = WriteMessage(fs, h, "a\x00b")
	assert.Error(t, err)
}

func TestMessage_Unterminated(t *testing.T) {
	t.Parallel()

	fs, err := tfs.New(tfs.DefaultParams())
	require.NoError(t, err)
	h, err := fs.Open("/box", tfs.OCreate)
	require.NoError(t, err)
	_, err = fs.Write(h, []byte("tail"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(h))

	h, err = fs.Open("/box", 0)
	require.NoError(t, err)
	defer fs.Close(h)
	_, _, err = ReadMessage(fs, h)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
