// Package models contains shared data models used across the dnswatch codebase.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingTimestamp is returned when a log payload carries no timestamp.
var ErrMissingTimestamp = errors.New("log record has no timestamp")

// StatusBlocked is the status value the log API uses for blocked queries.
const StatusBlocked = "blocked"

// LogRecord is one DNS query event as reported by the log API.
// Typed fields are convenience views; Raw keeps the full payload so fields
// the API adds later are not lost.
type LogRecord struct {
	EventID    string         `json:"event_id,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Time       time.Time      `json:"-"`
	Domain     string         `json:"domain,omitempty"`
	Root       string         `json:"root,omitempty"`
	Tracker    string         `json:"tracker,omitempty"`
	Encrypted  *bool          `json:"encrypted,omitempty"`
	Protocol   string         `json:"protocol,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	Client     string         `json:"client,omitempty"`
	DeviceName string         `json:"device_name"`
	Device     *DeviceInfo    `json:"device,omitempty"`
	Status     string         `json:"status,omitempty"`
	ReasonName string         `json:"reason_name"`
	Reasons    []Reason       `json:"reasons"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// DeviceInfo identifies the device that issued a query.
type DeviceInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
}

// Reason is one block or allow reason attached to a query.
type Reason struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Blocked reports whether the query was blocked.
func (r LogRecord) Blocked() bool {
	return r.Status == StatusBlocked
}

type wireLogRecord struct {
	Timestamp string      `json:"timestamp"`
	Domain    string      `json:"domain"`
	Root      string      `json:"root"`
	Tracker   string      `json:"tracker"`
	Encrypted *bool       `json:"encrypted"`
	Protocol  string      `json:"protocol"`
	ClientIP  string      `json:"clientIp"`
	Client    string      `json:"client"`
	Device    *DeviceInfo `json:"device"`
	Status    string      `json:"status"`
	Reasons   []Reason    `json:"reasons"`
}

// DecodeLogRecord builds a LogRecord from one raw JSON log object.
func DecodeLogRecord(data []byte) (LogRecord, error) {
	var w wireLogRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return LogRecord{}, fmt.Errorf("decoding log record: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogRecord{}, fmt.Errorf("decoding log record: %w", err)
	}

	if w.Timestamp == "" {
		return LogRecord{}, ErrMissingTimestamp
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return LogRecord{}, fmt.Errorf("parsing timestamp %q: %w", w.Timestamp, err)
	}

	rec := LogRecord{
		Timestamp:  w.Timestamp,
		Time:       ts,
		Domain:     w.Domain,
		Root:       w.Root,
		Tracker:    w.Tracker,
		Encrypted:  w.Encrypted,
		Protocol:   w.Protocol,
		ClientIP:   w.ClientIP,
		Client:     w.Client,
		Device:     w.Device,
		Status:     w.Status,
		Reasons:    w.Reasons,
		ReasonName: JoinReasonNames(w.Reasons),
		Raw:        raw,
	}
	if rec.Reasons == nil {
		rec.Reasons = []Reason{}
	}
	if w.Device != nil {
		rec.DeviceName = w.Device.Name
	}
	return rec, nil
}

// JoinReasonNames joins reason names with ", " in their original order.
func JoinReasonNames(reasons []Reason) string {
	names := make([]string, 0, len(reasons))
	for _, r := range reasons {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", ")
}
