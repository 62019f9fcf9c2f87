package s3store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyNaming(t *testing.T) {
	b := &bucket{name: "backups"}

	dir := &s3Dir{bucket: b, prefix: "nightly/photos/"}
	assert.Equal(t, "photos", dir.Name())
	assert.Equal(t, "s3://backups/nightly/photos/", dir.FullPath())

	file := &s3File{bucket: b, key: "nightly/photos/cat.jpg", size: 42, modTime: time.Unix(0, 0).UTC()}
	assert.Equal(t, "cat.jpg", file.Name())
	assert.Equal(t, int64(42), file.Size())
	assert.Equal(t, "s3://backups/nightly/photos/cat.jpg", file.FullPath())
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"f.txt", "with space", "dotted.name.gz"} {
		assert.True(t, validName(name), name)
	}
	for _, name := range []string{"", ".", "..", "a/b"} {
		assert.False(t, validName(name), name)
	}
}
