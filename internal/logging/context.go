// Package logging carries a request-scoped logrus entry on a context.
package logging

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger returns the entry stored on ctx, or an entry on the standard
// logger if there is none.
func GetLogger(ctx context.Context) *logrus.Entry {
	if l, ok := FromContext(ctx); ok {
		return l
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// FromContext reports the entry stored on ctx, if any.
func FromContext(ctx context.Context) (*logrus.Entry, bool) {
	l, ok := ctx.Value(loggerKey{}).(*logrus.Entry)
	return l, ok && l != nil
}

// Scoped returns the request entry from ctx extended with base's fields,
// or base itself when ctx carries no entry.
func Scoped(ctx context.Context, base *logrus.Entry) *logrus.Entry {
	if l, ok := FromContext(ctx); ok {
		return l.WithFields(base.Data)
	}
	return base
}
