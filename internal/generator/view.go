package generator

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// AttachmentView is an attachment as seen by templates and prompts.
type AttachmentView struct {
	Name      string
	Href      string
	MediaType string
	Inline    bool
	Image     bool
}

// View is the data rendered into templates.
type View struct {
	Title        string
	Task         string
	Round        int
	Brief        string
	Checks       []string
	Attachments  []AttachmentView
	ExistingCode string
	PrimaryFile  string
	RepoURL      string
	PagesURL     string
	Holder       string
}

// ViewFor derives template data from an Input.
func ViewFor(in Input) View {
	v := View{
		Title:        Title(in.Task),
		Task:         in.Task,
		Round:        in.Round,
		Brief:        in.Brief,
		Checks:       in.Checks,
		ExistingCode: in.ExistingCode,
		PrimaryFile:  in.PrimaryFile,
		RepoURL:      in.Repository.HTMLURL,
		Holder:       in.Repository.Owner,
	}
	if v.PrimaryFile == "" {
		v.PrimaryFile = DefaultPrimaryFile
	}
	if in.Repository.Owner != "" && in.Repository.Name != "" {
		v.PagesURL = in.Repository.PagesURL()
	}
	for _, a := range in.Attachments {
		v.Attachments = append(v.Attachments, attachmentView(a))
	}
	return v
}

func attachmentView(a task.Attachment) AttachmentView {
	av := AttachmentView{Name: a.Name, Href: a.Name, Inline: a.IsDataURI()}
	if av.Inline {
		header, _, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(a.URL), "data:"), ",")
		mediaType, _, _ := strings.Cut(header, ";")
		av.MediaType = mediaType
	} else {
		av.Href = a.URL
	}
	av.Image = strings.HasPrefix(av.MediaType, "image/") || hasImageExt(a.Name)
	return av
}

func hasImageExt(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Title turns a task identifier into a heading: "captcha-solver" becomes
// "Captcha Solver".
func Title(taskID string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(taskID))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
