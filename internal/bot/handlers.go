package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"mindfulbot/internal/content"
	"mindfulbot/internal/profiles"
	"mindfulbot/internal/reminder"
	"mindfulbot/internal/storage"
	"mindfulbot/internal/transport/telegram/router"
	logx "mindfulbot/pkg/logx"
)

const (
	msgNeedStart   = "Please send /start first to set up your reminder."
	msgNeedOnboard = "Please finish setting up with /start first."
	msgOops        = "Sorry, something went wrong. Please try again."
)

// user loads the sender. ok is false when a reply has already been sent.
func (b *Bot) user(ctx context.Context, req *router.Request) (storage.User, bool, error) {
	u, err := b.users.GetUser(ctx, req.FromID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return u, false, req.Reply(ctx, msgNeedStart, nil)
	case err != nil:
		_ = req.Reply(ctx, msgOops, nil)
		return u, false, err
	}
	return u, true, nil
}

func (b *Bot) fail(ctx context.Context, req *router.Request, err error) error {
	_ = req.Reply(ctx, msgOops, nil)
	return err
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	u, created, err := b.users.EnsureUser(ctx, storage.User{
		TelegramID:   req.FromID,
		ChatID:       req.Chat.ChatID,
		Username:     req.FromUsername,
		FirstName:    req.FromFirstName,
		ReminderTime: b.defaultTime,
	})
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if created {
		req.Logger.Info("user registered", logx.Int64("user_id", u.TelegramID))
	}
	if u.Onboarded {
		return b.replySettings(ctx, req, u, fmt.Sprintf("Welcome back, %s! 🧘", name(u)))
	}

	if err := b.users.SetOnboardingStep(ctx, req.FromID, storage.StepTime); err != nil {
		return b.fail(ctx, req, err)
	}
	text := fmt.Sprintf("Hi %s! 🧘 I'll send you one short guided meditation every day.\n\n"+
		"What time should I remind you? Reply with <b>HH:MM</b> (24h), for example <code>07:30</code>.", escape(name(u)))
	return req.Reply(ctx, text, htmlOpts(nil))
}

// handleText consumes free text. Only the reminder-time step expects any.
func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	u, err := b.users.GetUser(ctx, req.FromID)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, msgNeedStart, nil)
	}
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if u.OnboardingStep != storage.StepTime {
		return req.Reply(ctx, "I didn't catch that. Use /help to see what I can do.", nil)
	}

	c, err := reminder.ParseClock(req.Text)
	if err != nil {
		return req.Reply(ctx, "❌ Invalid time. Please use HH:MM, for example 08:30 or 21:15.", nil)
	}
	if err := b.users.SetReminderTime(ctx, u.TelegramID, c.String()); err != nil {
		return b.fail(ctx, req, err)
	}

	if !u.Onboarded {
		if err := b.users.SetOnboardingStep(ctx, u.TelegramID, storage.StepDuration); err != nil {
			return b.fail(ctx, req, err)
		}
		return req.Reply(ctx, fmt.Sprintf("Great, %s it is. How long should your daily sessions be?", c), htmlOpts(durationKeyboard(scopeOnboard)))
	}
	if err := b.users.SetOnboardingStep(ctx, u.TelegramID, storage.StepDone); err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Reminder time set to %s.", c), nil)
}

func (b *Bot) cbOnboardDuration(ctx context.Context, req *router.Request, payload string) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	d, _ := content.NormalizeDuration(payload)
	if err := b.users.SetPreferredDuration(ctx, u.TelegramID, d); err != nil {
		return b.fail(ctx, req, err)
	}
	if err := b.users.CompleteOnboarding(ctx, u.TelegramID); err != nil {
		return b.fail(ctx, req, err)
	}
	u.PreferredDuration, u.Onboarded, u.Active = d, true, true
	req.Logger.Info("onboarding complete", logx.Int64("user_id", u.TelegramID))
	return b.replySettings(ctx, req, u, "🎉 You're all set! Your first reminder arrives at your chosen time.")
}

func (b *Bot) cmdSettings(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if !u.Onboarded {
		return req.Reply(ctx, msgNeedOnboard, nil)
	}
	return b.replySettings(ctx, req, u, "")
}

func (b *Bot) replySettings(ctx context.Context, req *router.Request, u storage.User, header string) error {
	var sb strings.Builder
	if header != "" {
		sb.WriteString(escape(header) + "\n\n")
	}
	status := "active"
	if !u.Active {
		status = "paused (/resume to turn back on)"
	}
	fmt.Fprintf(&sb, "<b>Your settings</b>\n⏱️ Duration: %s\n🕐 Reminder: %s\n🌍 Timezone: %s\n📅 Program day: %d\n🔔 Status: %s",
		escape(u.PreferredDuration), escape(u.ReminderTime), escape(b.zoneName(u)), u.CurrentDay, status)
	return req.Reply(ctx, sb.String(), htmlOpts(settingsKeyboard()))
}

func (b *Bot) cbPick(ctx context.Context, req *router.Request, payload string) error {
	switch payload {
	case "duration":
		return req.Reply(ctx, "Choose your session length:", htmlOpts(durationKeyboard(scopeSettings)))
	case "time":
		return req.Reply(ctx, "Choose a reminder time:", htmlOpts(timeKeyboard()))
	case "tz":
		return req.Reply(ctx, "Choose your timezone, or send /timezone Area/City:", htmlOpts(zoneKeyboard()))
	}
	return nil
}

func (b *Bot) cmdTime(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if req.Text == "" {
		return req.Reply(ctx, fmt.Sprintf("Your reminder is at %s. Pick a new time or send /time HH:MM.", u.ReminderTime), htmlOpts(timeKeyboard()))
	}
	return b.setTime(ctx, req, u, req.Text)
}

func (b *Bot) cbSetTime(ctx context.Context, req *router.Request, payload string) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if payload == "custom" {
		if err := b.users.SetOnboardingStep(ctx, u.TelegramID, storage.StepTime); err != nil {
			return b.fail(ctx, req, err)
		}
		return req.Reply(ctx, "Send the time as HH:MM (24h), for example 06:45.", nil)
	}
	return b.setTime(ctx, req, u, payload)
}

func (b *Bot) setTime(ctx context.Context, req *router.Request, u storage.User, raw string) error {
	c, err := reminder.ParseClock(raw)
	if err != nil {
		return req.Reply(ctx, "❌ Invalid time. Please use HH:MM, for example 08:30 or 21:15.", nil)
	}
	if err := b.users.SetReminderTime(ctx, u.TelegramID, c.String()); err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Reminder time set to %s (%s).", c, b.zoneName(u)), nil)
}

func (b *Bot) cmdTimezone(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if req.Text == "" {
		return req.Reply(ctx, fmt.Sprintf("Your timezone is %s. Pick one or send /timezone Area/City.", b.zoneName(u)), htmlOpts(zoneKeyboard()))
	}
	return b.setTimezone(ctx, req, u, req.Text)
}

func (b *Bot) cbSetTimezone(ctx context.Context, req *router.Request, payload string) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	return b.setTimezone(ctx, req, u, payload)
}

func (b *Bot) setTimezone(ctx context.Context, req *router.Request, u storage.User, raw string) error {
	raw = strings.TrimSpace(raw)
	loc, err := reminder.ResolveLocation(raw, nil)
	if err != nil {
		return req.Reply(ctx, fmt.Sprintf("❌ Unknown timezone %q. Use an IANA name such as Europe/Berlin or America/New_York.", raw), nil)
	}
	if err := b.users.SetTimezone(ctx, u.TelegramID, loc.String()); err != nil {
		return b.fail(ctx, req, err)
	}
	local := b.now().In(loc).Format("15:04")
	return req.Reply(ctx, fmt.Sprintf("✅ Timezone set to %s (local time now %s).", loc, local), nil)
}

func (b *Bot) cmdDuration(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if req.Text == "" {
		return req.Reply(ctx, fmt.Sprintf("Your sessions are %s. Choose a new length:", u.PreferredDuration), htmlOpts(durationKeyboard(scopeSettings)))
	}
	d, hit := content.NormalizeDuration(req.Text)
	if !hit {
		d, hit = content.NormalizeDuration(req.Text + " min")
	}
	if !hit {
		return req.Reply(ctx, "❌ Unknown length. Options: "+strings.Join(content.Durations, ", "), nil)
	}
	return b.setDuration(ctx, req, u, d)
}

func (b *Bot) cbSetDuration(ctx context.Context, req *router.Request, payload string) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	d, _ := content.NormalizeDuration(payload)
	return b.setDuration(ctx, req, u, d)
}

func (b *Bot) setDuration(ctx context.Context, req *router.Request, u storage.User, d string) error {
	if err := b.users.SetPreferredDuration(ctx, u.TelegramID, d); err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Session length set to %s.", d), nil)
}

func (b *Bot) cmdNext(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if !u.Onboarded {
		return req.Reply(ctx, msgNeedOnboard, nil)
	}
	if !u.Active {
		return req.Reply(ctx, "Reminders are paused. Send /resume to turn them back on.", nil)
	}
	next, err := reminder.Next(b.now(), profiles.FromUser(u), b.rem.DefaultLocation())
	if err != nil {
		return req.Reply(ctx, "❌ Your reminder settings look broken ("+err.Error()+"). Please set /time and /timezone again.", nil)
	}
	in := next.Sub(b.now()).Round(time.Minute)
	return req.Reply(ctx, fmt.Sprintf("🔔 Next reminder: %s (in %s).", next.Format("Mon 15:04 MST"), in), nil)
}

func (b *Bot) cmdPause(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if err := b.users.SetActive(ctx, u.TelegramID, false); err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, "⏸️ Daily reminders paused. Send /resume whenever you're ready.", nil)
}

func (b *Bot) cmdResume(ctx context.Context, req *router.Request) error {
	u, ok, err := b.user(ctx, req)
	if !ok {
		return err
	}
	if !u.Onboarded {
		return req.Reply(ctx, msgNeedOnboard, nil)
	}
	if err := b.users.SetActive(ctx, u.TelegramID, true); err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("▶️ Reminders are back on. See you at %s.", u.ReminderTime), nil)
}

func (b *Bot) cmdTest(ctx context.Context, req *router.Request) error {
	err := b.rem.ForceDispatch(ctx, req.FromID)
	switch {
	case err == nil:
		return req.Reply(ctx, "✅ Test reminder sent! It counts as today's reminder.", nil)
	case errors.Is(err, reminder.ErrUnknownUser):
		return req.Reply(ctx, msgNeedStart, nil)
	case errors.Is(err, reminder.ErrNotOnboarded):
		return req.Reply(ctx, msgNeedOnboard, nil)
	case errors.Is(err, reminder.ErrInFlight):
		return req.Reply(ctx, "Your reminder is already on its way.", nil)
	}
	return b.fail(ctx, req, err)
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := b.rem.Stats(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	list, err := b.rem.Upcoming(ctx)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	broken := 0
	for _, u := range list {
		if u.Error != "" {
			broken++
		}
	}
	return req.Reply(ctx, fmt.Sprintf("<b>Reminder stats</b>\nEligible users: %d\nDispatched today: %d\nOnboarded users: %d\nInvalid settings: %d",
		st.TotalEligibleUsers, st.DispatchedToday, len(list), broken), htmlOpts(nil))
}

func (b *Bot) zoneName(u storage.User) string {
	if u.Timezone != "" {
		return u.Timezone
	}
	return b.rem.DefaultLocation().String()
}

func escape(s string) string { return html.EscapeString(s) }

func name(u storage.User) string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	}
	return "there"
}
