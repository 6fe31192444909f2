package fdfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextCodecDefaultsToUTF8(t *testing.T) {
	codec, err := NewTextCodec("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTextEncoding, codec.Name())

	data, err := codec.Encode("组1")
	require.NoError(t, err)
	assert.Equal(t, []byte("组1"), data)
}

func TestNewTextCodecUnknown(t *testing.T) {
	codec, err := NewTextCodec("klingon")
	assert.Nil(t, codec)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestGBKCodecRoundTrip(t *testing.T) {
	codec, err := NewTextCodec("gbk")
	require.NoError(t, err)

	data, err := codec.Encode("中文")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD6, 0xD0, 0xCE, 0xC4}, data)

	text, err := codec.Decode(append(data, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "中文", text)
}

func TestCodecRejectsUnrepresentableText(t *testing.T) {
	codec, err := NewTextCodec("latin1")
	require.NoError(t, err)

	_, err = codec.Encode("中")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestFixedFieldPadsWithNul(t *testing.T) {
	field, err := UTF8Codec().fixedField("group1", GroupNameMaxLen)
	require.NoError(t, err)

	assert.Len(t, field, GroupNameMaxLen)
	assert.Equal(t, []byte("group1"), field[:6])
	assert.Equal(t, make([]byte, 10), field[6:])
}

func TestFixedFieldExactWidth(t *testing.T) {
	field, err := UTF8Codec().fixedField("0123456789abcdef", GroupNameMaxLen)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), field)
}

func TestFixedFieldTooLong(t *testing.T) {
	// Width counts encoded bytes, not characters.
	_, err := UTF8Codec().fixedField("组组组", 8)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
