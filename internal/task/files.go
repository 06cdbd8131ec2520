package task

import (
	"strings"
	"unicode/utf8"
)

// File is a named blob destined for the repository. Content is text for
// generated files and arbitrary bytes for decoded attachments.
type File struct {
	Name      string
	Content   []byte
	MediaType string
}

// TextFile builds a File from string content.
func TextFile(name, content string) File {
	return File{Name: name, Content: []byte(content)}
}

// IsText reports whether the content is valid UTF-8.
func (f File) IsText() bool {
	return utf8.Valid(f.Content)
}

// CleanFiles drops files with an empty name or empty content, normalizes
// names, and keeps only the first occurrence of each path. Earlier groups
// win, so generated files take precedence over attachments of the same name.
func CleanFiles(files ...[]File) []File {
	seen := make(map[string]bool)
	var out []File
	for _, group := range files {
		for _, f := range group {
			name := cleanName(f.Name)
			if name == "" || len(f.Content) == 0 || seen[name] {
				continue
			}
			seen[name] = true
			f.Name = name
			out = append(out, f)
		}
	}
	return out
}

// Collisions returns the paths in later that CleanFiles(earlier, later)
// would drop because earlier already holds them.
func Collisions(earlier, later []File) []string {
	held := make(map[string]bool, len(earlier))
	for _, f := range earlier {
		if name := cleanName(f.Name); name != "" && len(f.Content) > 0 {
			held[name] = true
		}
	}
	var out []string
	for _, f := range later {
		name := cleanName(f.Name)
		if held[name] && len(f.Content) > 0 {
			out = append(out, name)
		}
	}
	return out
}

func cleanName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "/")
}

// Repository is a handle to a remotely hosted repository.
type Repository struct {
	Owner         string
	Name          string
	HTMLURL       string
	DefaultBranch string
}

// FullName returns owner/name.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// PagesURL returns the repository's derived pages address.
func (r Repository) PagesURL() string {
	return PagesURL(r.Owner, r.Name)
}
