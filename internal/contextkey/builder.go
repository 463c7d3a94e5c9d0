// Package contextkey derives the composite bucket key that conditions
// transition learning on (dayType, timeBucket, location).
package contextkey

import (
	"strings"

	"github.com/Andriy31193/aipatterner/internal/events"
)

// DefaultTemplate is the bucket key layout used when none is configured.
const DefaultTemplate = "{dayType}*{timeBucket}*{location}"

// Builder renders a configured template into a context bucket key.
// It is a pure value; the zero Builder uses DefaultTemplate.
type Builder struct {
	template string
}

// New returns a Builder for the given template. An empty template falls back
// to DefaultTemplate.
func New(template string) Builder {
	if template == "" {
		template = DefaultTemplate
	}
	return Builder{template: template}
}

// Build substitutes the event context fields into the template. Missing
// fields substitute as empty strings; there is no failure mode.
func (b Builder) Build(ctx events.EventContext) string {
	template := b.template
	if template == "" {
		template = DefaultTemplate
	}
	r := strings.NewReplacer(
		"{dayType}", ctx.DayType,
		"{timeBucket}", ctx.TimeBucket,
		"{location}", ctx.Location,
	)
	return r.Replace(template)
}
