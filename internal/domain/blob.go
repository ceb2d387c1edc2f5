package domain

import "time"

// Blob is one named object in the durable store.
// ContentType mirrors the object metadata most object stores keep next to the bytes.
type Blob struct {
	Data        []byte
	ContentType string
	UpdatedAt   time.Time
}
