package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	"mindfulbot/internal/transport/telegram/router"
	logx "mindfulbot/pkg/logx"
)

const recentSessions = 7

// progress summarizes a user's reported sessions.
type progress struct {
	Total      int
	Completed  int
	Streak     int // consecutive completed local days ending today or yesterday
	AvgVideo   float64
	VideoN     int
	AvgMessage float64
	MessageN   int
}

func summarize(sessions []storage.Session, today string) progress {
	var (
		p          progress
		vSum, mSum int
	)
	done := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		p.Total++
		if s.Completed {
			p.Completed++
			done[s.LocalDate] = true
		}
		if s.VideoRating > 0 {
			vSum += s.VideoRating
			p.VideoN++
		}
		if s.MessageRating > 0 {
			mSum += s.MessageRating
			p.MessageN++
		}
	}
	if p.VideoN > 0 {
		p.AvgVideo = float64(vSum) / float64(p.VideoN)
	}
	if p.MessageN > 0 {
		p.AvgMessage = float64(mSum) / float64(p.MessageN)
	}

	d, err := time.Parse(reminder.DateLayout, today)
	if err != nil {
		return p
	}
	// Today's session may simply not have happened yet.
	if !done[today] {
		d = d.AddDate(0, 0, -1)
	}
	for done[d.Format(reminder.DateLayout)] {
		p.Streak++
		d = d.AddDate(0, 0, -1)
	}
	return p
}

// localDate is today's date in the user's zone.
func (b *Bot) localDate(u storage.User) string {
	def := b.rem.DefaultLocation()
	loc, err := reminder.ResolveLocation(u.Timezone, def)
	if err != nil {
		loc = def
	}
	return b.now().In(loc).Format(reminder.DateLayout)
}

// cbDone records today's session from the reminder buttons and asks for the
// video rating. payload is "yes", "no" or empty (older reminders).
func (b *Bot) cbDone(ctx context.Context, req *router.Request, payload string) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	completed := payload != "no"
	date := b.localDate(u)
	// The reminder already advanced the program day.
	sess, err := b.users.RecordSession(ctx, storage.Session{
		UserID:    u.TelegramID,
		LocalDate: date,
		Day:       max(u.CurrentDay-1, 1),
		Duration:  u.PreferredDuration,
		Completed: completed,
	})
	if err != nil {
		return b.fail(ctx, req, err)
	}
	req.Logger.Info("session recorded",
		logx.Int64("user_id", u.TelegramID),
		logx.String("local_date", sess.LocalDate),
		logx.Bool("completed", sess.Completed),
	)

	head := "🎉 Great job completing your meditation!"
	if !completed {
		head = "No worries! Even a few minutes of mindfulness counts. 😊"
	}
	return req.Reply(ctx, head+"\n\n📊 How helpful was today's meditation video? Rate it from 1 to 5:",
		htmlOpts(ratingKeyboard(storage.RatingVideo, date)))
}

// cbRate stores one rating. payload is "<local date>:<1..5>".
func (b *Bot) cbRate(kind string) router.CallbackHandlerFunc {
	return func(ctx context.Context, req *router.Request, payload string) error {
		date, raw, _ := strings.Cut(payload, ":")
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req.Reply(ctx, "Please pick a rating from 1 to 5.", nil)
		}
		err = b.users.RateSession(ctx, req.FromID, date, kind, n)
		switch {
		case errors.Is(err, storage.ErrInvalidRating):
			return req.Reply(ctx, "Please pick a rating from 1 to 5.", nil)
		case errors.Is(err, storage.ErrNotFound):
			return req.Reply(ctx, "Session not found. Tap ✅ on today's reminder first.", nil)
		case err != nil:
			return b.fail(ctx, req, err)
		}

		if kind == storage.RatingVideo {
			return req.Reply(ctx, "Thanks for the feedback! 👍\n\n💭 How helpful was today's motivational message? Rate it from 1 to 5:",
				htmlOpts(ratingKeyboard(storage.RatingMessage, date)))
		}
		return req.Reply(ctx, "🙏 Thank you! Your ratings help shape better sessions. Send /progress to see your streak.", nil)
	}
}

func (b *Bot) cmdProgress(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	sessions, err := b.users.ListSessions(ctx, u.TelegramID, 0)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	p := summarize(sessions, b.localDate(u))

	var sb strings.Builder
	sb.WriteString("<b>📊 Your meditation progress</b>\n")
	fmt.Fprintf(&sb, "✅ Completed sessions: %d of %d\n", p.Completed, p.Total)
	fmt.Fprintf(&sb, "🔥 Current streak: %s\n", plural(p.Streak, "day"))
	fmt.Fprintf(&sb, "📅 Program day: %d\n", u.CurrentDay)
	fmt.Fprintf(&sb, "🎬 Avg video rating: %s\n", avg(p.AvgVideo, p.VideoN))
	fmt.Fprintf(&sb, "💬 Avg message rating: %s", avg(p.AvgMessage, p.MessageN))

	if len(sessions) == 0 {
		sb.WriteString("\n\nNo sessions yet. Tap ✅ on your next reminder to start tracking.")
		return req.Reply(ctx, sb.String(), htmlOpts(nil))
	}
	sb.WriteString("\n\n<b>Recent sessions</b>")
	for _, s := range sessions[:min(recentSessions, len(sessions))] {
		status := "⏸️ Partial"
		if s.Completed {
			status = "✅ Completed"
		}
		fmt.Fprintf(&sb, "\n%s - Day %d (%s) - %s", status, s.Day, s.LocalDate, escape(s.Duration))
	}
	if n := len(sessions) - recentSessions; n > 0 {
		fmt.Fprintf(&sb, "\n... and %d more", n)
	}
	return req.Reply(ctx, sb.String(), htmlOpts(nil))
}

func avg(v float64, n int) string {
	if n == 0 {
		return "no ratings yet"
	}
	return fmt.Sprintf("%.1f/5 (%s)", v, plural(n, "rating"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
