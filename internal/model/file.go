package model

import "time"

// File represents a row in the `files` table: the metadata of one object
// held by the storage backend. The object itself lives at StoragePath.
type File struct {
	ID          uint64    // files.id
	OwnerID     uint64    // files.owner_id (references users.id)
	Filename    string    // files.filename, the user-facing name
	StoragePath string    // files.storage_path, unique key in the bucket
	ContentType string    // files.content_type
	Size        int64     // files.size in bytes
	UploadedAt  time.Time // files.uploaded_at
}
