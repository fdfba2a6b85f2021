package remote

import (
	"errors"
	"fmt"
)

// DocumentFile is the name of the file inside the remote document that
// holds the serialized snapshot.
const DocumentFile = "family_data.json"

// DocumentDescription labels documents created by Create.
const DocumentDescription = "Casa Mocholí Data - Sync"

var (
	// ErrNotFound means the document does not exist or has no data file.
	// Callers fall back to uploading their local snapshot.
	ErrNotFound = errors.New("remote document not found")

	// ErrTransport covers network failures and unexpected HTTP statuses.
	ErrTransport = errors.New("remote transport failure")

	// ErrAuth is returned for rejected credentials. It wraps ErrTransport
	// so callers that do not care about the difference treat it the same.
	ErrAuth = fmt.Errorf("%w: credential rejected", ErrTransport)

	// ErrSerialization means the document content is not a snapshot.
	ErrSerialization = errors.New("malformed remote content")

	// ErrCreateFailed wraps every Create failure.
	ErrCreateFailed = errors.New("failed to create remote document")

	// ErrFetchFailed wraps every Fetch failure other than ErrNotFound.
	ErrFetchFailed = errors.New("failed to fetch remote document")
)

// Result reports the outcome of Replace.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// gistFile is one file of a document.
type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

// gist is the subset of the document resource this client reads and writes.
type gist struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      *bool               `json:"public,omitempty"`
	Files       map[string]gistFile `json:"files"`
}
