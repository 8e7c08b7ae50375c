package content

import (
	"fmt"
	"html"
	"strings"
	"time"
)

var motivations = []string{
	"Remember your why: you started this journey to reduce stress and improve focus for your studies.",
	"Small steps lead to big changes: just 5 minutes today builds the foundation for lifelong well-being.",
	"You're building a new identity: each session makes you someone who prioritizes mental health.",
	"Progress tracking: every day you show up, the habit gets a little stronger.",
	"Social accountability: thousands of students are transforming their days through mindfulness.",
	"Environmental restructuring: find your quiet space and make it your daily sanctuary.",
	"Implementation intention: 'When I feel stressed about exams, I will meditate for 10 minutes.'",
	"Self-reward: after this week's sessions, treat yourself to something you enjoy.",
}

// Motivation returns the motivational line for a program day.
func Motivation(day int) string {
	if day < 0 {
		day = -day
	}
	return motivations[day%len(motivations)]
}

// Greeting names the part of day of local.
func Greeting(local time.Time) string {
	switch h := local.Hour(); {
	case h < 12:
		return "morning"
	case h < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// Reminder is the input for the daily reminder text.
type Reminder struct {
	FirstName string
	Day       int
	Duration  string
	Local     time.Time // now in the user's zone
}

// ReminderHTML renders the daily reminder in Telegram HTML.
func ReminderHTML(r Reminder) string {
	v := VideoFor(r.Duration, r.Day)
	d, _ := NormalizeDuration(r.Duration)
	name := strings.TrimSpace(r.FirstName)
	if name != "" {
		name = ", " + html.EscapeString(name)
	}

	var b strings.Builder
	b.WriteString("🔔 <b>Daily Meditation Reminder</b>\n\n")
	fmt.Fprintf(&b, "Good %s%s! Time for your daily meditation. 🧘\n\n", Greeting(r.Local), name)
	fmt.Fprintf(&b, "🎯 <b>Today's motivation (day %d):</b>\n<i>%s</i>\n\n", r.Day, html.EscapeString(Motivation(r.Day)))
	fmt.Fprintf(&b, "📺 <b>Today's %s meditation:</b>\n", html.EscapeString(d))
	fmt.Fprintf(&b, "<a href=\"%s\">%s</a> (%s)", html.EscapeString(v.URL), html.EscapeString(v.Title), html.EscapeString(v.Duration))
	return b.String()
}
