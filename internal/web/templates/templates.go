// Package templates renders the HTMX fragments returned to browser clients.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/crmport/internal/core"
)

// ErrorAlert renders a dismissible error toast.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert">`)
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, templ.EscapeString(message))
		if action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, templ.EscapeString(action))
		}
		fmt.Fprintf(&b, `<span class="alert-code">%s</span>`, templ.EscapeString(code))
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// ImportSummary renders the outcome of an import run: the four counters,
// warnings, and the first maxErrors row errors.
func ImportSummary(r *core.ProcessingResult, maxErrors int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder

		class := "import-summary"
		switch {
		case r.Error != "":
			class += " failed"
		case r.Cancelled:
			class += " cancelled"
		case r.ErrorCount > 0:
			class += " partial"
		}

		fmt.Fprintf(&b, `<div class="%s" data-entity="%s">`, class, templ.EscapeString(r.Entity))
		if r.DryRun {
			b.WriteString(`<p class="badge">Dry run: nothing was saved</p>`)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, `<p class="import-error">%s</p>`, templ.EscapeString(r.Error))
		}

		b.WriteString(`<dl class="counters">`)
		counter(&b, "Inserted", r.SuccessCount)
		counter(&b, "Updated", r.UpdateCount)
		counter(&b, "Duplicates", r.DuplicateCount)
		counter(&b, "Errors", r.ErrorCount)
		b.WriteString(`</dl>`)

		if len(r.Warnings) > 0 {
			b.WriteString(`<ul class="warnings">`)
			for _, warn := range r.Warnings {
				fmt.Fprintf(&b, `<li>%s</li>`, templ.EscapeString(warn))
			}
			b.WriteString(`</ul>`)
		}

		if len(r.Errors) > 0 {
			b.WriteString(`<ul class="row-errors">`)
			for i, e := range r.Errors {
				if maxErrors > 0 && i == maxErrors {
					fmt.Fprintf(&b, `<li class="more">and %d more</li>`, len(r.Errors)-maxErrors)
					break
				}
				fmt.Fprintf(&b, `<li>%s</li>`, templ.EscapeString(e.String()))
			}
			b.WriteString(`</ul>`)
		}

		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func counter(b *strings.Builder, label string, n int) {
	fmt.Fprintf(b, `<dt>%s</dt><dd>%d</dd>`, label, n)
}

// ImportStarted renders the progress bar wired to the SSE endpoint.
func ImportStarted(importID string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		id := templ.EscapeString(importID)
		_, err := fmt.Fprintf(w,
			`<div class="import-progress" hx-ext="sse" sse-connect="/api/import/%s/progress" sse-swap="progress" hx-target="this">`+
				`<progress max="100" value="0"></progress>`+
				`<div hx-get="/api/import/%s/result?wait=true" hx-trigger="sse:complete" hx-swap="outerHTML"></div>`+
				`</div>`,
			id, id)
		return err
	})
}

// ExportLink renders a download link for an archived export.
func ExportLink(fileName, url string, rows int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<a class="export-link" href="%s" download>%s</a> <span class="rows">%d rows</span>`,
			templ.EscapeString(url), templ.EscapeString(fileName), rows)
		return err
	})
}
