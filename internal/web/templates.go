package web

import (
	"embed"
	"html/template"

	"coffee.mini/bmc/internal/ledger"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"native": func(minimal string) string {
		v, err := ledger.ParseAmount(minimal)
		if err != nil {
			return minimal
		}
		return ledger.FormatNative(v)
	},
}

// parseTemplates parses the page and fragment templates embedded in the binary.
func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}
