package logging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rollbar/rollbar-go"
)

// Reporter receives errors that should leave the process (Rollbar in production).
type Reporter interface {
	Report(err error, extras map[string]interface{})
}

// RollbarReporter sends errors through the global rollbar client.
type RollbarReporter struct{}

// NewRollbarReporter configures the rollbar client. An empty token disables it.
func NewRollbarReporter(token, env, host, version string) *RollbarReporter {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetServerHost(host)
	rollbar.SetCodeVersion(version)
	rollbar.SetEnabled(token != "")
	return &RollbarReporter{}
}

func (RollbarReporter) Report(err error, extras map[string]interface{}) {
	rollbar.ErrorWithExtras(rollbar.ERR, err, extras)
}

// Close flushes pending reports.
func (RollbarReporter) Close() {
	rollbar.Close()
}

// Reporting decorates a Logger so that Error calls are also sent to a Reporter.
type Reporting struct {
	Logger
	reporter Reporter
	fields   []any
}

func NewReporting(next Logger, r Reporter) *Reporting {
	return &Reporting{Logger: next, reporter: r}
}

func (l *Reporting) Error(ctx context.Context, msg string, args ...any) {
	l.Logger.Error(ctx, msg, args...)

	all := append(append([]any{}, l.fields...), args...)
	extras := make(map[string]interface{}, len(all)/2)
	var cause error
	for i := 0; i+1 < len(all); i += 2 {
		key := fmt.Sprint(all[i])
		if e, ok := all[i+1].(error); ok && cause == nil {
			cause = e
		}
		extras[key] = all[i+1]
	}
	if cause == nil {
		cause = errors.New(msg)
	} else {
		cause = fmt.Errorf("%s: %w", msg, cause)
	}
	l.reporter.Report(cause, extras)
}

func (l *Reporting) With(args ...any) Logger {
	return &Reporting{
		Logger:   l.Logger.With(args...),
		reporter: l.reporter,
		fields:   append(append([]any{}, l.fields...), args...),
	}
}
