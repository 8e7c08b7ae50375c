// Package notifier delivers the daily reminder message to one user.
//
// It loads the user's profile, renders the reminder for their local time,
// sends it through a transport.Adapter under a shared rate limit with bounded
// retries and a per-attempt timeout, and advances the user's program day once
// the message is out. It implements reminder.Sender.
package notifier
