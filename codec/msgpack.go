package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/sqjobs/job"
)

// MsgpackCodec encodes envelopes as MessagePack maps.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(env *job.Envelope) ([]byte, error) {
	return msgpack.Marshal(prepare(env))
}

func (c *MsgpackCodec) Decode(data []byte) (*job.Envelope, error) {
	var env job.Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return finish(&env)
}

func (c *MsgpackCodec) Name() string { return NameMsgpack }

func (c *MsgpackCodec) ContentType() string { return "application/msgpack" }
