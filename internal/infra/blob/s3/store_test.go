package s3

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantlab/internal/blob/blobtest"
	"plantlab/internal/blob/core"
)

func TestStoreContract(t *testing.T) {
	blobtest.Run(t, NewMockForTests(""))
}

func TestStoreContractWithPrefix(t *testing.T) {
	blobtest.Run(t, NewMockForTests("/plantlab/"))
}

func TestListPaginates(t *testing.T) {
	s := NewMockForTests("")
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Put(ctx, "p/"+k, strings.NewReader(k), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := s.List(ctx, "p/")
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestPresign(t *testing.T) {
	s := NewMockForTests("")
	url, err := s.PresignURL(context.Background(), "reports/x.csv", core.SignedURLOptions{Expiry: time.Minute})
	require.NoError(t, err)
	assert.True(t, strings.Contains(url, "reports/x.csv"), url)
	assert.Contains(t, url, "X-Amz-Expires=60")

	_, err = s.PresignURL(context.Background(), "reports/x.csv", core.SignedURLOptions{Method: "DELETE"})
	require.ErrorIs(t, err, core.ErrUnsupported)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	s, err := New(context.Background(), Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret", Endpoint: "http://localhost:9000", PathStyle: true})
	require.NoError(t, err)
	assert.Equal(t, "b", s.Bucket())
	assert.Equal(t, core.DriverS3, s.Driver())
}

func TestDecodeChunked(t *testing.T) {
	out, ok := decodeChunked([]byte("5;chunk-signature=abc\r\nhello\r\n0\r\n\r\n"))
	require.True(t, ok)
	assert.Equal(t, "hello", string(out))
	_, ok = decodeChunked([]byte("plain body"))
	assert.False(t, ok)
}
