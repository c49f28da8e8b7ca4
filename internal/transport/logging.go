// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	"tapbeat/internal/log"
)

// LoggingTransport implements the Transport interface by logging each event.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

func (lt *LoggingTransport) Name() string { return "log" }

// Send logs onsets at info level and everything else at debug level.
func (lt *LoggingTransport) Send(data any) error {
	switch msg := data.(type) {
	case OnsetMessage:
		log.Infof("Onset: #%d at %.3fs (session %s)", msg.Seq, msg.Timestamp, msg.Session)
	case StatusMessage:
		log.Infof("Status: %s (session %s)", msg.Status, msg.Session)
	default:
		if !log.Enabled(log.LevelDebug) {
			return nil
		}
		raw, err := json.Marshal(data)
		if err != nil {
			log.Debugf("LoggingTransport: received (%T): %+v", data, data)
			return nil
		}
		log.Debugf("LoggingTransport: received %s", raw)
	}
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	log.Debugf("LoggingTransport: Close called")
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
