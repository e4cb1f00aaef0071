// Package codec serializes job envelopes into message bodies and back.
//
// JSON is the default wire format. MessagePack is available for transports
// that carry binary bodies (Redis, RabbitMQ). Both codecs normalize
// time.Time and job.Date values inside args and kwargs to the string forms
// consumers expect, so the body never depends on a language-specific date
// encoding.
package codec

import (
	"fmt"

	"github.com/xraph/sqjobs/job"
)

// Codec defines the serialization contract for job envelopes.
type Codec interface {
	// Encode serializes an envelope to bytes.
	Encode(env *job.Envelope) ([]byte, error)

	// Decode deserializes bytes into an envelope. Implementations must reject
	// bodies that do not have the envelope shape.
	Decode(data []byte) (*job.Envelope, error)

	// Name returns the codec identifier.
	Name() string

	// ContentType returns the MIME type of encoded bodies.
	ContentType() string
}

// Codec names.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to JSON.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}

// Lookup returns the codec registered under name, or an error for unknown
// names. Use it where a misspelled name should fail fast.
func Lookup(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return &JSONCodec{}, nil
	case NameMsgpack:
		return &MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("sqjobs/codec: unknown codec %q", name)
	}
}

// prepare returns a normalized copy of env ready for encoding.
func prepare(env *job.Envelope) *job.Envelope {
	out := &job.Envelope{
		ID:     env.ID,
		Name:   env.Name,
		Args:   []any{},
		Kwargs: map[string]any{},
	}
	for _, a := range env.Args {
		out.Args = append(out.Args, Normalize(a))
	}
	for k, v := range env.Kwargs {
		out.Kwargs[k] = Normalize(v)
	}
	return out
}

// finish validates a decoded envelope and fills empty collections.
func finish(env *job.Envelope) (*job.Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Args == nil {
		env.Args = []any{}
	}
	if env.Kwargs == nil {
		env.Kwargs = map[string]any{}
	}
	return env, nil
}
