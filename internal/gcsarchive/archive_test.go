package gcsarchive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeStorage) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.objects[bucket+"/"+object] = data
	f.types[bucket+"/"+object] = contentType
	return nil
}

func (f *fakeStorage) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	data, ok := f.objects[bucket+"/"+object]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func TestArchiver_ArchivePage(t *testing.T) {
	fs := newFakeStorage()
	a := New(fs, "bucket", "")

	require.NoError(t, a.ArchivePage(context.Background(), "run-1", 50, []byte(`[{"id":1}]`)))

	key := "bucket/advbox/financial/run-1/000050.json"
	assert.Equal(t, []byte(`[{"id":1}]`), fs.objects[key])
	assert.Equal(t, "application/json", fs.types[key])
	assert.Equal(t, "gs://bucket/advbox/financial/run-1/000050.json", a.URI("run-1", 50))

	data, err := a.Fetch(context.Background(), a.URI("run-1", 50))
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"id":1}]`), data)
}

func TestArchiver_CustomPrefix(t *testing.T) {
	a := New(newFakeStorage(), "b", "/raw/advbox/")
	assert.Equal(t, "raw/advbox/r/000000.json", a.ObjectName("r", 0))
}

func TestArchiver_Errors(t *testing.T) {
	fs := newFakeStorage()
	a := New(fs, "bucket", "")

	assert.Error(t, a.ArchivePage(context.Background(), "", 0, []byte("x")))

	fs.err = errors.New("boom")
	err := a.ArchivePage(context.Background(), "run", 0, []byte("x"))
	assert.ErrorContains(t, err, "boom")

	_, err = a.Fetch(context.Background(), "http://nope")
	assert.Error(t, err)
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		object string
		ok     bool
	}{
		{"gs://b/a/c.json", "b", "a/c.json", true},
		{"gs://b/c.json", "b", "c.json", true},
		{"gs://b", "", "", false},
		{"gs://b/", "", "", false},
		{"s3://b/c", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}
