// Package frontend renders the server's HTML pages.
package frontend

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/calsync/project/internal/contracts"
)

type IndexData struct {
	RootPath    string
	Month       string
	Timezone    string
	OnlineUsers int
	Events      []contracts.Event
}

// IndexPage lists the events of the current month and points at the live endpoints.
func IndexPage(data IndexData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		root := strings.TrimRight(data.RootPath, "/")
		var b strings.Builder
		b.WriteString("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\">")
		b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		b.WriteString("<title>Calendar</title>")
		fmt.Fprintf(&b, "<link rel=\"stylesheet\" href=\"%s/static/styles.css\">", templ.EscapeString(root))
		b.WriteString("</head><body><main class=\"page\">")
		fmt.Fprintf(&b, "<header><h1>%s</h1>", templ.EscapeString(data.Month))
		fmt.Fprintf(&b, "<p class=\"meta\">%d online &middot; %s</p></header>",
			data.OnlineUsers, templ.EscapeString(data.Timezone))

		if len(data.Events) == 0 {
			b.WriteString("<p class=\"empty\">No events this month.</p>")
		} else {
			b.WriteString("<ul class=\"events\">")
			for _, ev := range data.Events {
				writeEvent(&b, ev)
			}
			b.WriteString("</ul>")
		}

		b.WriteString("<footer><ul class=\"links\">")
		for _, link := range []struct{ href, label string }{
			{root + "/api/events", "JSON"},
			{root + "/api/events.ics", "iCalendar"},
			{root + "/api/health", "Health"},
		} {
			fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>", templ.EscapeString(link.href), link.label)
		}
		fmt.Fprintf(&b, "</ul><p class=\"meta\">Live updates: <code>%s/ws</code></p></footer>",
			templ.EscapeString(root))
		b.WriteString("</main></body></html>")

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeEvent(b *strings.Builder, ev contracts.Event) {
	color := ev.Color
	if !contracts.ValidColor(color) {
		color = contracts.DefaultColor
	}
	fmt.Fprintf(b, "<li class=\"event event-%s\" data-event-id=\"%s\">", color, templ.EscapeString(ev.ID))
	fmt.Fprintf(b, "<span class=\"date\">%s</span>", templ.EscapeString(ev.Date))
	if ev.Time != "" {
		fmt.Fprintf(b, "<span class=\"time\">%s</span>", templ.EscapeString(ev.Time))
	}
	fmt.Fprintf(b, "<span class=\"title\">%s</span>", templ.EscapeString(ev.Title))
	if ev.Description != "" {
		fmt.Fprintf(b, "<p class=\"description\">%s</p>", templ.EscapeString(ev.Description))
	}
	b.WriteString("</li>")
}
