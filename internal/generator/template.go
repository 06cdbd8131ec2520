package generator

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/fyrsmithlabs/pagesmith/internal/task"
)

// Well-known file names.
const (
	ReadmeFile  = "README.md"
	LicenseFile = "LICENSE"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	pageTemplate = htmltemplate.Must(htmltemplate.New("index.html.tmpl").
			Funcs(sprig.FuncMap()).
			ParseFS(templateFS, "templates/index.html.tmpl"))

	textTemplates = template.Must(template.New("text").
			Funcs(sprig.TxtFuncMap()).
			ParseFS(templateFS, "templates/README.md.tmpl", "templates/LICENSE.tmpl", "templates/prompt.tmpl"))
)

// TemplateCapability renders a deterministic page from the brief, checks and
// attachments. It needs no external service.
type TemplateCapability struct{}

// NewTemplateCapability creates the template backend.
func NewTemplateCapability() *TemplateCapability {
	return &TemplateCapability{}
}

func (*TemplateCapability) Name() string { return "template" }

// pageView is the entry point template data. Previous is empty on round 1.
type pageView struct {
	View
	Previous Revision
}

// Generate renders the entry point, README and LICENSE. Later rounds carry
// the published page forward as the previous revision.
func (*TemplateCapability) Generate(ctx context.Context, in Input) ([]task.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := ViewFor(in)
	pv := pageView{View: v}
	if v.Round > task.FirstRound {
		pv.Previous = PriorRevision(v.ExistingCode, v.Round)
	}

	var page bytes.Buffer
	if err := pageTemplate.Execute(&page, pv); err != nil {
		return nil, fmt.Errorf("render %s: %w", v.PrimaryFile, err)
	}
	readme, err := RenderReadme(v)
	if err != nil {
		return nil, err
	}
	license, err := RenderLicense(v.Holder)
	if err != nil {
		return nil, err
	}

	return []task.File{
		{Name: v.PrimaryFile, Content: page.Bytes(), MediaType: "text/html"},
		readme,
		license,
	}, nil
}

// RenderReadme renders README.md.
func RenderReadme(v View) (task.File, error) {
	out, err := renderText("README.md.tmpl", v)
	if err != nil {
		return task.File{}, err
	}
	return task.File{Name: ReadmeFile, Content: out, MediaType: "text/markdown"}, nil
}

// RenderLicense renders an MIT LICENSE for holder.
func RenderLicense(holder string) (task.File, error) {
	out, err := renderText("LICENSE.tmpl", View{Holder: holder})
	if err != nil {
		return task.File{}, err
	}
	return task.File{Name: LicenseFile, Content: out, MediaType: "text/plain"}, nil
}

func renderText(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
