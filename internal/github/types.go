package github

import "time"

// User represents the authenticated GitHub identity.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	HTMLURL   string `json:"html_url,omitempty"`
}

// Repository represents a GitHub repository as returned by the REST API.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	Language      string    `json:"language"`
	Private       bool      `json:"private"`
	HTMLURL       string    `json:"html_url"`
	DefaultBranch string    `json:"default_branch"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EntryType distinguishes files from directories in a contents listing.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "dir"
)

// FileEntry is one item of a repository directory listing.
type FileEntry struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Type EntryType `json:"type"`
	Size int64     `json:"size"`
	SHA  string    `json:"sha,omitempty"`
}

// FileContent is a decoded file fetched from a repository.
type FileContent struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
	SHA     string `json:"-"`
}

// PutFileRequest holds parameters for creating or updating a file on a branch.
type PutFileRequest struct {
	Path    string
	Content string // plain text; encoded on the wire
	Message string
	Branch  string
}

// FileCommit is the result of a file create/update.
type FileCommit struct {
	Path      string `json:"path"`
	SHA       string `json:"sha"`
	CommitSHA string `json:"commit_sha"`
	HTMLURL   string `json:"html_url,omitempty"`
}

// CreatePRRequest holds parameters for creating a pull request.
type CreatePRRequest struct {
	Title string
	Body  string
	Base  string
	Head  string
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	URL     string `json:"html_url"`
	HeadRef string `json:"head_ref"`
	BaseRef string `json:"base_ref"`
}
