package models

import (
	"time"
)

// Envelope wraps a Sample with the metadata used when shipping it off-host.
type Envelope struct {
	Sample *Sample `json:"sample"`

	ReceivedAt   time.Time `json:"received_at"`
	Host         string    `json:"host"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope for a sample taken on host.
func NewEnvelope(sample *Sample, host string) *Envelope {
	return &Envelope{
		Sample:       sample,
		ReceivedAt:   time.Now().UTC(),
		Host:         host,
		PartitionKey: host, // partition by host for ordering
	}
}
