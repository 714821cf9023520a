package fb2

import (
	"bytes"
	"fmt"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"

	"fbm/config"
)

// TemplateValues holds variables we make available for template expansion.
// Not every field is meaningful in every context.
type TemplateValues struct {
	Context string
	Index   int      // 1-based position of the document, notices only
	Title   string   // collective title or document title for notices
	Count   int      // number of merged documents
	Titles  []string // titles of merged documents in order
	Date    string
}

// ExpandTemplate expands template field with provided values.
func ExpandTemplate(name config.TemplateFieldName, field string, values TemplateValues) (string, error) {
	tmpl, err := template.New(string(name)).Funcs(sprig.FuncMap()).Option("missingkey=error").Parse(field)
	if err != nil {
		return "", fmt.Errorf("unable to parse template field %s: %w", name, err)
	}

	values.Context = string(name)

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, &values); err != nil {
		return "", fmt.Errorf("unable to expand template field %s: %w", name, err)
	}
	return buf.String(), nil
}
