package codec

import (
	"encoding/json"

	"github.com/xraph/sqjobs/job"
)

// JSONCodec encodes envelopes as JSON objects.
type JSONCodec struct{}

func (c *JSONCodec) Encode(env *job.Envelope) ([]byte, error) {
	return json.Marshal(prepare(env))
}

func (c *JSONCodec) Decode(data []byte) (*job.Envelope, error) {
	var env job.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return finish(&env)
}

func (c *JSONCodec) Name() string { return NameJSON }

func (c *JSONCodec) ContentType() string { return "application/json" }
