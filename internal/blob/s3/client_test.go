package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	_, err = New(ctx, ClientConfig{Bucket: "archives"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "", withScheme(""))
	assert.Equal(t, "https://minio.local:9000", withScheme("minio.local:9000"))
	assert.Equal(t, "http://minio.local:9000", withScheme("http://minio.local:9000"))
	assert.Equal(t, "https://e2.example.com", withScheme("https://e2.example.com"))
}
