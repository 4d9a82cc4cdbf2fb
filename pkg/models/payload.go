package models

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// PayloadKind discriminates the message variants exchanged between nodes.
type PayloadKind string

const (
	PayloadSequential PayloadKind = "sequential"
	PayloadDelegation PayloadKind = "delegation"
	PayloadResult     PayloadKind = "result"
	PayloadAggregated PayloadKind = "aggregated"
)

// ErrPayloadCycle is returned when an aggregated payload would embed a
// message that, directly or transitively, embeds itself.
var ErrPayloadCycle = errors.New("aggregated payload embeds itself")

// AggregatedPart attributes one embedded payload to the node that sent it.
type AggregatedPart struct {
	FromNodeID string   `json:"from_node_id"`
	Payload    *Payload `json:"payload"`
}

// Payload is the message content passed between nodes. Parts is populated
// only for the aggregated kind, where it holds the fan-in join of several
// upstream outputs in arrival order.
type Payload struct {
	ID       string           `json:"id"`
	Kind     PayloadKind      `json:"kind"`
	Segments []string         `json:"segments"`
	Parts    []AggregatedPart `json:"parts,omitempty"`
}

// NewPayload creates a non-aggregated payload of the given kind.
func NewPayload(kind PayloadKind, segments ...string) *Payload {
	return &Payload{
		ID:       uuid.New().String(),
		Kind:     kind,
		Segments: segments,
	}
}

// NewAggregatedPayload joins several upstream payloads into one message,
// preserving per-sender attribution and the given order. Embedding is
// checked for cycles at construction time.
func NewAggregatedPayload(parts []AggregatedPart) (*Payload, error) {
	p := &Payload{
		ID:    uuid.New().String(),
		Kind:  PayloadAggregated,
		Parts: parts,
	}
	seen := map[string]bool{p.ID: true}
	for _, part := range parts {
		if err := checkEmbedding(part.Payload, seen); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func checkEmbedding(p *Payload, seen map[string]bool) error {
	if p == nil {
		return nil
	}
	if seen[p.ID] {
		return ErrPayloadCycle
	}
	seen[p.ID] = true
	for _, part := range p.Parts {
		if err := checkEmbedding(part.Payload, seen); err != nil {
			return err
		}
	}
	delete(seen, p.ID)
	return nil
}

// Text flattens the payload into a single prompt-ready string. Aggregated
// payloads render each embedded message under a sender heading.
func (p *Payload) Text() string {
	if p == nil {
		return ""
	}
	if p.Kind != PayloadAggregated {
		return strings.Join(p.Segments, "\n")
	}
	var b strings.Builder
	for i, part := range p.Parts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[from " + part.FromNodeID + "]\n")
		b.WriteString(part.Payload.Text())
	}
	return b.String()
}
