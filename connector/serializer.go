package connector

import (
	"fmt"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/codec"
	"github.com/xraph/sqjobs/job"
)

// Serializer implements the Serialize and Deserialize halves of Connector
// over a codec. Transports embed it.
type Serializer struct {
	Codec codec.Codec
}

// NewSerializer returns a Serializer for c, defaulting to JSON.
func NewSerializer(c codec.Codec) Serializer {
	if c == nil {
		c = &codec.JSONCodec{}
	}
	return Serializer{Codec: c}
}

// Serialize encodes the job's envelope.
func (s Serializer) Serialize(j *job.Job) ([]byte, error) {
	body, err := s.codec().Encode(j.Envelope())
	if err != nil {
		return nil, fmt.Errorf("sqjobs/connector: encode job %q: %w", j.Name, err)
	}
	return body, nil
}

// Deserialize decodes body and merges md into the resulting job. Decode
// failures are reported as *sqjobs.DecodeError carrying md.BrokerID.
func (s Serializer) Deserialize(body []byte, queue string, md job.Metadata) (*job.Job, error) {
	env, err := s.codec().Decode(body)
	if err != nil {
		return nil, &sqjobs.DecodeError{Queue: queue, Handle: md.BrokerID, Err: err}
	}
	return job.FromEnvelope(env, queue, md), nil
}

func (s Serializer) codec() codec.Codec {
	if s.Codec == nil {
		return &codec.JSONCodec{}
	}
	return s.Codec
}
