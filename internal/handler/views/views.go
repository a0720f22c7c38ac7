// Package views renders the HTML pages of the risk assessment service.
// Pages are written as templ components; run `templ generate` after editing
// a .templ file.
package views

import (
	"context"
	"fmt"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/preflight/internal/i18n"
	"github.com/pavelanni/preflight/internal/model"
)

func scoreOf(total, maxAllowed int) string {
	return fmt.Sprintf("%d / %d", total, maxAllowed)
}

// assessmentURL links to an assessment's breakdown below the base path.
func assessmentURL(ctx context.Context, id string) templ.SafeURL {
	return templ.URL(model.BasePathFromContext(ctx) + "/risk-assessments/" + id)
}

func overrideNote(ctx context.Context, o *model.Override) string {
	return appI18n.Td(ctx, "OverriddenBy", map[string]any{
		"Instructor": o.InstructorID, "Reason": o.Reason,
	})
}
