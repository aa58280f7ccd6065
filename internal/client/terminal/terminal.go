// Package terminal renders connection status, notices and event lists for the command
// line client.
package terminal

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/calsync/project/internal/client/notice"
	"github.com/calsync/project/internal/client/session"
	"github.com/calsync/project/internal/contracts"
)

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	colorMuted   = ac("240", "245")
	colorInfo    = ac("27", "75")
	colorSuccess = ac("28", "78")
	colorError   = ac("160", "203")
	colorWarn    = ac("136", "221")
)

// eventColors maps palette tags to terminal colours.
var eventColors = map[string]lipgloss.TerminalColor{
	"blue":   ac("27", "75"),
	"red":    ac("160", "203"),
	"green":  ac("28", "78"),
	"yellow": ac("136", "221"),
	"purple": ac("91", "141"),
	"pink":   ac("162", "211"),
	"indigo": ac("54", "105"),
	"gray":   ac("240", "245"),
}

// Printer writes one line per status change, notice or list update. It is safe for
// concurrent use and never calls back into the components feeding it.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	muted    lipgloss.Style
	badge    map[notice.Level]lipgloss.Style
	status   map[session.Status]lipgloss.Style
	title    lipgloss.Style
	renderer *lipgloss.Renderer
}

func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	p := &Printer{
		out:      out,
		now:      time.Now,
		renderer: r,
		muted:    r.NewStyle().Foreground(colorMuted),
		title:    r.NewStyle().Bold(true),
		badge: map[notice.Level]lipgloss.Style{
			notice.LevelInfo:    r.NewStyle().Foreground(colorInfo).Bold(true),
			notice.LevelSuccess: r.NewStyle().Foreground(colorSuccess).Bold(true),
			notice.LevelError:   r.NewStyle().Foreground(colorError).Bold(true),
		},
		status: map[session.Status]lipgloss.Style{
			session.StatusConnected:    r.NewStyle().Foreground(colorSuccess),
			session.StatusConnecting:   r.NewStyle().Foreground(colorWarn),
			session.StatusDisconnected: r.NewStyle().Foreground(colorError),
		},
	}
	return p
}

func (p *Printer) stamp() string {
	return p.muted.Render(p.now().Format("15:04:05"))
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

// Notify implements notice.Sink.
func (p *Printer) Notify(n notice.Notice) {
	style, ok := p.badge[n.Level]
	if !ok {
		style = p.muted
	}
	p.println(fmt.Sprintf("%s %s %s", p.stamp(), style.Render(strings.ToUpper(string(n.Level))), n.Text))
}

// SetStatus implements session.StatusSink.
func (p *Printer) SetStatus(s session.Status) {
	style, ok := p.status[s]
	if !ok {
		style = p.muted
	}
	p.println(fmt.Sprintf("%s %s %s", p.stamp(), style.Render("●"), style.Render(string(s))))
}

// OnlineUsers implements eventstore.PresenceSink.
func (p *Printer) OnlineUsers(count int) {
	p.println(fmt.Sprintf("%s %s", p.stamp(), p.muted.Render(fmt.Sprintf("online users: %d", count))))
}

// EventsChanged implements eventstore.Renderer.
func (p *Printer) EventsChanged(events []contracts.Event) {
	p.println(p.FormatEvents(events))
}

// FormatEvents renders events grouped by day, days ascending. All-day events lead each day.
func (p *Printer) FormatEvents(events []contracts.Event) string {
	if len(events) == 0 {
		return p.muted.Render("no events")
	}
	byDay := map[string][]contracts.Event{}
	var days []string
	for _, ev := range events {
		if _, ok := byDay[ev.Date]; !ok {
			days = append(days, ev.Date)
		}
		byDay[ev.Date] = append(byDay[ev.Date], ev)
	}
	sort.Strings(days)

	var sb strings.Builder
	for i, d := range days {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.title.Render(dayHeading(d)))
		list := byDay[d]
		sort.SliceStable(list, func(a, b int) bool { return list[a].Time < list[b].Time })
		for _, ev := range list {
			sb.WriteString("\n  ")
			sb.WriteString(p.FormatEvent(ev))
		}
	}
	return sb.String()
}

// FormatEvent renders one event on one line.
func (p *Printer) FormatEvent(ev contracts.Event) string {
	color, ok := eventColors[ev.Color]
	if !ok {
		color = eventColors[contracts.DefaultColor]
	}
	dot := p.renderer.NewStyle().Foreground(color).Render("■")
	when := ev.Time
	if when == "" {
		when = "all-day"
	}
	line := fmt.Sprintf("%s %-7s %s", dot, when, ev.Title)
	if ev.Description != "" {
		line += " " + p.muted.Render("- "+ev.Description)
	}
	if ev.ID != "" {
		line += " " + p.muted.Render("["+ev.ID+"]")
	}
	return line
}

func dayHeading(date string) string {
	d, err := time.Parse(contracts.DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Mon 2006-01-02")
}
