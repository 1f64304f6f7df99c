package model

import "time"

// User is an account that owns files.
type User struct {
	ID           string    `json:"id"`    // UUID
	Email        string    `json:"email"` // always lowercase
	PasswordHash string    `json:"-"`     // bcrypt hash, never serialized
	FullName     string    `json:"fullName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// File is a named, owned document with one or more versions.
type File struct {
	ID         string    `json:"id"`   // UUID
	Name       string    `json:"name"` // sanitized
	Size       int64     `json:"size"`
	Type       string    `json:"type"` // MIME type
	Path       string    `json:"path"` // logical storage path
	OwnerID    string    `json:"ownerId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Shared     bool      `json:"shared"`
	SharedWith []string  `json:"sharedWith"`
	Favorite   bool      `json:"favorite"`
	Tags       []string  `json:"tags"`
	Encrypted  bool      `json:"encrypted"`
}

// Clone returns a deep copy so callers can mutate slices safely.
func (f *File) Clone() *File {
	c := *f
	c.SharedWith = append([]string{}, f.SharedWith...)
	c.Tags = append([]string{}, f.Tags...)
	return &c
}

// VisibleTo reports whether userID owns the file or is a collaborator on it.
func (f *File) VisibleTo(userID string) bool {
	if f.OwnerID == userID {
		return true
	}
	for _, id := range f.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// Version is an immutable, numbered snapshot of a file's content.
type Version struct {
	ID          string    `json:"id"` // UUID
	FileID      string    `json:"fileId"`
	Number      int       `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy"`
	Changes     string    `json:"changes"`
	StoragePath string    `json:"storagePath"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum,omitempty"` // hex SHA-256 of plaintext, empty if no content
}
