// Package report logs captured credentials to the console, once per flow
// and username within a de-duplication window.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"socksmon/internal/models"
)

// Reporter consumes an event stream and logs each new credential.
type Reporter struct {
	seen *cache.Cache
	log  logrus.FieldLogger
}

// New creates a Reporter. A window of zero or less disables de-duplication.
func New(window time.Duration, log logrus.FieldLogger) *Reporter {
	r := &Reporter{log: log}
	if window > 0 {
		r.seen = cache.New(window, 2*window)
	}
	return r
}

// Run reports events until ctx is done or the channel is closed.
func (r *Reporter) Run(ctx context.Context, events <-chan models.AuthEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Report(ev)
		}
	}
}

// Report logs ev unless the same flow and username were reported within
// the window. It returns whether a line was written.
func (r *Reporter) Report(ev models.AuthEvent) bool {
	if r.seen != nil {
		key := fmt.Sprintf("%016x/%s", uint64(ev.Key()), ev.UsernameString())
		if err := r.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			return false
		}
	}

	r.log.WithFields(logrus.Fields{
		"src":      fmt.Sprintf("%s:%d", models.IPv4String(ev.SrcIP), ev.SrcPort),
		"proxy":    fmt.Sprintf("%s:%d", models.IPv4String(ev.DstIP), ev.DstPort),
		"username": ev.UsernameString(),
		"password": ev.PasswordString(),
		"pid":      ev.PID,
		"ts":       ev.Timestamp,
	}).Info("socks5 credentials captured")
	return true
}
