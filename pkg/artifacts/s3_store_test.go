package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	puts    int
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_PutIsContentAddressed(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "bucket", "mint/")
	ctx := context.Background()

	id, err := store.Put(ctx, []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	_, digest := ContentID([]byte("png-bytes"))
	assert.Equal(t, "sha256:"+digest, id)
	assert.Contains(t, fake.objects, "mint/"+digest+".blob")
	assert.Equal(t, "image/png", fake.types["mint/"+digest+".blob"])

	again, err := store.Put(ctx, []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, fake.puts, "existing object is not re-uploaded")
}

func TestS3Store_GetExistsDelete(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "bucket", "")
	ctx := context.Background()

	id, err := store.Put(ctx, []byte("doc"), "")
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), got)

	ok, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_HeadErrorIsReported(t *testing.T) {
	fake := newFakeS3()
	fake.headErr = errors.New("access denied")
	store := NewS3StoreWithClient(fake, "bucket", "")

	_, err := store.Put(context.Background(), []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Zero(t, fake.puts)
}
