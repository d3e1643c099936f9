package core

import (
	"bytes"
	"testing"

	"filepool/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha1("hello world")
const helloSHA1 = types.Hash("2aae6c35c94fcfb415dbe95f408b9ce91ee846ed")

func TestCalculateBlobHash(t *testing.T) {
	assert.Equal(t, helloSHA1, CalculateBlobHash([]byte("hello world")))
	// 空内容的 SHA-1 也是合法 Hash
	assert.Equal(t, types.Hash("da39a3ee5e6b4b0d3255bfef95601890afd80709"), CalculateBlobHash(nil))
}

func TestCalculateReaderHash(t *testing.T) {
	h, n, err := CalculateReaderHash(bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	assert.Equal(t, helloSHA1, h)
	assert.Equal(t, int64(11), n)
}

func TestCalculateFileHash(t *testing.T) {
	path := writeTempFile(t, "data.txt", []byte("hello world"))

	h, err := CalculateFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, helloSHA1, h)

	_, err = CalculateFileHash(path + ".missing")
	assert.Error(t, err)
}

func TestCBOR_Canonical(t *testing.T) {
	type sample struct {
		Version float64  `cbor:"version"`
		Systems []string `cbor:"systems"`
	}

	a, err := EncodeObject(map[string]any{"systems": []string{"a"}, "version": 1.0})
	require.NoError(t, err)
	b, err := EncodeObject(sample{Version: 1.0, Systems: []string{"a"}})
	require.NoError(t, err)

	// Key 排序后两种写法字节完全一致
	assert.Equal(t, a, b)

	var out sample
	require.NoError(t, DecodeObject(b, &out))
	assert.Equal(t, 1.0, out.Version)
	assert.Equal(t, []string{"a"}, out.Systems)
}
