package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "mindfulbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a handler. Chain applies them outermost first.
type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error so one bad update
// cannot take the dispatcher down.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLog(log, req).Error("handler panic",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// slowRequest promotes successful requests to INFO.
const slowRequest = 750 * time.Millisecond

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := reqLog(log, req)
			fields := []logx.Field{logx.Duration("took", took)}
			if req != nil && req.Command != "" {
				fields = append(fields, logx.String("cmd", req.Command))
			}
			switch {
			case err != nil:
				l.Warn("update handling failed", append(fields, logx.Err(err))...)
			case took >= slowRequest:
				l.Info("update handled (slow)", fields...)
			default:
				l.Debug("update handled", fields...)
			}
			return err
		}
	}
}

func reqLog(def logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return def
}
