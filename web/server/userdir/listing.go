package userdir

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"slices"
	"strings"
)

// Entry is a single member of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

type listingLink struct {
	Href string
	Text string
}

var listingTmpl = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Index of /{{.Label}}</title>
</head>
<body>
<h1>Index of /{{.Label}}</h1>
<hr>
<ul>
{{- range .Links}}
<li><a href="{{.Href}}">{{.Text}}</a></li>
{{- end}}
</ul>
</body>
</html>
`))

// RenderListing renders an HTML index of entries, titled after label. Entries
// are sorted by name, and directory names are suffixed with "/". Links are
// relative to the listed directory.
func RenderListing(label string, entries []Entry) ([]byte, error) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		return strings.Compare(a.Name, b.Name)
	})

	links := make([]listingLink, 0, len(sorted))
	for _, e := range sorted {
		text := e.Name
		// The "./" prefix stops names like "javascript:x" being parsed as a scheme.
		href := "./" + url.PathEscape(e.Name)
		if e.IsDir {
			text += "/"
			href += "/"
		}
		links = append(links, listingLink{Href: href, Text: text})
	}

	var buf bytes.Buffer
	err := listingTmpl.Execute(&buf, struct {
		Label string
		Links []listingLink
	}{Label: label, Links: links})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	return buf.Bytes(), nil
}
