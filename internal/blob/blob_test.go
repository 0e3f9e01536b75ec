package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantlab/internal/blob/core"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	fsStore, err := Open(ctx, Config{FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fsStore.Driver())

	mem, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, mem.Driver())

	s3Store, err := Open(ctx, Config{Driver: DriverS3, S3: S3Config{Bucket: "reports", AccessKeyID: "a", SecretAccessKey: "b"}})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, s3Store.Driver())

	_, err = Open(ctx, Config{Driver: DriverS3})
	require.Error(t, err)
	_, err = Open(ctx, Config{Driver: "gcs"})
	require.ErrorContains(t, err, "unknown blob driver")
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"", "   ", "../up", "reports/../../etc"} {
		assert.ErrorIs(t, core.ValidateKey(key), core.ErrInvalidKey, key)
	}
	for _, key := range []string{"reports/plan/a..b.csv", "x"} {
		assert.NoError(t, core.ValidateKey(key), key)
	}
	assert.Nil(t, core.CloneMetadata(nil))
}
