package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration // long-poll timeout; 0 means 10s
}
