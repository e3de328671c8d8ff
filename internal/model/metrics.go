// Package models defines the flat metric records kept by the agent's stores and sent by
// the HTTP writer.
package models

const (
	// Gauge is a numeric value, stored as float64.
	Gauge = "gauge"
	// Text is a non-numeric value, stored as string.
	Text = "text"
)

// MetricsDTO is the wire form of a Metric.
type MetricsDTO struct {
	// ID is the metric key
	ID string `json:"id"`

	// MType is either "gauge" or "text"
	MType string `json:"type"`

	// Value is set for gauges
	Value *float64 `json:"value,omitempty"`

	// Text is set for text metrics
	Text *string `json:"text,omitempty"`

	// Timestamp is the sample time in epoch milliseconds
	Timestamp int64 `json:"ts,omitempty"`

	// Server is the label of the server the sample came from
	Server string `json:"server,omitempty"`
}

// Metric is one stored sample, keyed by Name.
type Metric struct {
	Name string

	// Type is either Gauge or Text
	Type string

	// Value is a float64 for gauges and a string for text metrics
	Value any

	Timestamp int64
	Server    string
}

// DTO converts m to its wire form.
func (m Metric) DTO() MetricsDTO {
	dto := MetricsDTO{ID: m.Name, MType: m.Type, Timestamp: m.Timestamp, Server: m.Server}
	switch v := m.Value.(type) {
	case float64:
		dto.Value = &v
	case string:
		dto.Text = &v
	}
	return dto
}

// FromDTO converts a wire record back into a Metric.
func FromDTO(dto MetricsDTO) Metric {
	m := Metric{Name: dto.ID, Type: dto.MType, Timestamp: dto.Timestamp, Server: dto.Server}
	switch {
	case dto.Value != nil:
		m.Value = *dto.Value
	case dto.Text != nil:
		m.Value = *dto.Text
	}
	return m
}
