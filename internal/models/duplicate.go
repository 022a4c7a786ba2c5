package models

import "time"

// Group represents one set of byte-identical files in the catalog.
type Group struct {
	GroupKey            string `json:"group_key"`
	HashAlgorithm       string `json:"hash_algorithm,omitempty"`
	ContentHashHex      string `json:"content_hash_hex,omitempty"`
	FileCount           int    `json:"file_count"`
	TotalSizeBytes      int64  `json:"total_size_bytes"`
	DuplicateWasteBytes int64  `json:"duplicate_waste_bytes"`
	SampleFileID        int64  `json:"sample_file_id,omitempty"`
}

// FileEntry is a member file of a duplicate group.
type FileEntry struct {
	FileID       int64      `json:"file_id"`
	LibraryID    int64      `json:"library_id,omitempty"`
	LibraryName  string     `json:"library_name"`
	RelativePath string     `json:"relative_path"`
	SizeBytes    int64      `json:"size_bytes"`
	MtimeNs      int64      `json:"mtime_ns,omitempty"`
	HashedAt     *time.Time `json:"hashed_at,omitempty"`
}

// Page is one keyset-paginated response.
// A nil NextCursor means there are no more pages.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
}

// HasMore reports whether the server issued a cursor for another page.
func (p Page[T]) HasMore() bool {
	return p.NextCursor != nil && *p.NextCursor != ""
}

// GroupPage is the response of the group listing endpoint.
type GroupPage = Page[Group]

// FilePage is the response of the group files listing endpoint.
type FilePage = Page[FileEntry]
