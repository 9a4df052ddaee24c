package logging

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// PayloadLogger records request and response bodies when enabled.
type PayloadLogger struct {
	enabled atomic.Bool
	entry   *logrus.Entry
}

func NewPayloadLogger(enabled bool) *PayloadLogger {
	p := &PayloadLogger{entry: logrus.WithField("component", "payload")}
	p.enabled.Store(enabled)
	return p
}

func (p *PayloadLogger) SetEnabled(enabled bool) {
	if p != nil {
		p.enabled.Store(enabled)
	}
}

func (p *PayloadLogger) Enabled() bool {
	return p != nil && p.enabled.Load()
}

// Log writes one payload under the given direction label ("request", "upstream-request", "response").
func (p *PayloadLogger) Log(requestID, direction string, body []byte) {
	if !p.Enabled() {
		return
	}
	p.entry.WithFields(logrus.Fields{
		"request_id": requestID,
		"direction":  direction,
		"bytes":      len(body),
	}).Info(string(body))
}
