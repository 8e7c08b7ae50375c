// Package content holds the static meditation catalog and builds the text of
// the daily reminder.
package content

import (
	"strings"
)

// Video is one catalog entry.
type Video struct {
	Title    string
	URL      string
	Duration string
}

// Preferred session lengths a user can pick, in menu order.
var Durations = []string{"<5 min", "5-10 min", "10 min", "15 min", "20 min", "30 min"}

// FallbackDuration is used when a stored preference is not in the catalog.
const FallbackDuration = "10 min"

var videos = map[string][]Video{
	"<5 min": {
		{Title: "Quick Breathing Exercise", URL: "https://youtube.com/watch?v=aAVPDYhW_nE", Duration: "3 min"},
		{Title: "Mindful Moment", URL: "https://youtube.com/watch?v=ZToicYcHIOU", Duration: "4 min"},
	},
	"5-10 min": {
		{Title: "Body Scan for Students", URL: "https://youtube.com/watch?v=15q-N-_kkrU", Duration: "8:42"},
		{Title: "Focus Meditation", URL: "https://youtube.com/watch?v=6p_yaNFSYao", Duration: "10:00"},
		{Title: "Guided Calm", URL: "https://www.youtube.com/watch?v=wE292vsJcBY", Duration: "11:42"},
		{Title: "Breath Anchor", URL: "https://www.youtube.com/watch?v=lS0kcSNlULw", Duration: "10:15"},
		{Title: "Steady Mind", URL: "https://www.youtube.com/watch?v=Hvs_49dikDQ", Duration: "9:30"},
	},
	"10 min": {
		{Title: "Morning Clarity", URL: "https://youtube.com/watch?v=jPpUNAFHgxM", Duration: "10 min"},
		{Title: "Stress Relief Session", URL: "https://youtube.com/watch?v=YRPh_GaiL8s", Duration: "10 min"},
	},
	"15 min": {
		{Title: "Deep Relaxation", URL: "https://youtube.com/watch?v=1vx8iUvfyCY", Duration: "15 min"},
		{Title: "Academic Anxiety Relief", URL: "https://youtube.com/watch?v=64ZU2UCBpHI", Duration: "15 min"},
	},
	"20 min": {
		{Title: "Extended Mindfulness", URL: "https://youtube.com/watch?v=Jyy0ra2WcQQ", Duration: "20 min"},
		{Title: "Concentration Building", URL: "https://youtube.com/watch?v=inpok4MKVLM", Duration: "20 min"},
	},
	"30 min": {
		{Title: "Complete Wellness Session", URL: "https://youtube.com/watch?v=H3dKLHC3fCs", Duration: "30 min"},
		{Title: "Deep Meditation Practice", URL: "https://youtube.com/watch?v=mfzaFbk3I2s", Duration: "30 min"},
	},
}

// NormalizeDuration maps a stored or typed preference onto a catalog key.
// ok is false when nothing matched and FallbackDuration was returned.
func NormalizeDuration(raw string) (d string, ok bool) {
	s := strings.TrimSpace(strings.TrimPrefix(raw, "change_"))
	if _, hit := videos[s]; hit {
		return s, true
	}
	for _, k := range Durations {
		if strings.EqualFold(k, s) {
			return k, true
		}
	}
	return FallbackDuration, false
}

// VideoFor picks the video for a program day; the list rotates by day.
func VideoFor(duration string, day int) Video {
	d, _ := NormalizeDuration(duration)
	list := videos[d]
	if day < 0 {
		day = -day
	}
	return list[day%len(list)]
}
