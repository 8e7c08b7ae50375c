package bot

import (
	"strconv"

	"mindfulbot/internal/content"
	"mindfulbot/internal/transport"
)

const (
	scopeOnboard  = "onboard"
	scopeSettings = "settings"
	scopeRate     = "rate"
)

var ratingLabels = [5]string{
	"Not helpful at all",
	"Slightly helpful",
	"Moderately helpful",
	"Very helpful",
	"Extremely helpful",
}

var quickTimes = []string{"06:00", "07:00", "08:00", "09:00", "12:00", "18:00", "20:00", "21:00"}

var quickZones = []string{
	"UTC",
	"America/New_York",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Berlin",
	"Asia/Jerusalem",
	"Asia/Tokyo",
	"Australia/Sydney",
}

func durationKeyboard(scope string) [][]transport.Button {
	rows := make([][]transport.Button, 0, len(content.Durations))
	for _, d := range content.Durations {
		rows = append(rows, []transport.Button{{Text: d, Data: scope + ":duration:" + d}})
	}
	return rows
}

func timeKeyboard() [][]transport.Button {
	var rows [][]transport.Button
	for i := 0; i < len(quickTimes); i += 4 {
		row := make([]transport.Button, 0, 4)
		for _, t := range quickTimes[i:min(i+4, len(quickTimes))] {
			row = append(row, transport.Button{Text: t, Data: scopeSettings + ":time:" + t})
		}
		rows = append(rows, row)
	}
	return append(rows, []transport.Button{{Text: "✏️ Custom time", Data: scopeSettings + ":time:custom"}})
}

func zoneKeyboard() [][]transport.Button {
	rows := make([][]transport.Button, 0, len(quickZones))
	for _, z := range quickZones {
		rows = append(rows, []transport.Button{{Text: z, Data: scopeSettings + ":tz:" + z}})
	}
	return rows
}

func settingsKeyboard() [][]transport.Button {
	return [][]transport.Button{
		{{Text: "⏱️ Change duration", Data: scopeSettings + ":pick:duration"}},
		{{Text: "🕐 Change reminder time", Data: scopeSettings + ":pick:time"}},
		{{Text: "🌍 Change timezone", Data: scopeSettings + ":pick:tz"}},
		{{Text: "🧪 Test reminder now", Data: "reminder:test"}},
	}
}

// ratingKeyboard offers 1..5 for kind. The local date rides along so a late
// tap still rates the right day.
func ratingKeyboard(kind, localDate string) [][]transport.Button {
	rows := make([][]transport.Button, 0, 3)
	for i := 0; i < len(ratingLabels); i += 2 {
		row := make([]transport.Button, 0, 2)
		for n := i + 1; n <= min(i+2, len(ratingLabels)); n++ {
			row = append(row, transport.Button{
				Text: strconv.Itoa(n) + " - " + ratingLabels[n-1],
				Data: scopeRate + ":" + kind + ":" + localDate + ":" + strconv.Itoa(n),
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func htmlOpts(kb [][]transport.Button) *transport.SendOptions {
	return &transport.SendOptions{ParseMode: transport.ParseModeHTML, DisablePreview: true, Keyboard: kb}
}
