package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/sqjobs"
	"github.com/xraph/sqjobs/connector"
	"github.com/xraph/sqjobs/id"
	"github.com/xraph/sqjobs/job"
)

// Eager executes jobs synchronously inside Enqueue. Nothing is queued:
// the envelope goes through the codec and straight back out, the handler
// sees a job with Retries 1, CreatedOn now and no BrokerID, and its error
// is returned to the caller.
type Eager struct {
	registry   *job.Registry
	serializer connector.Serializer
	opts       options
}

// NewEager creates an eager broker dispatching to registry.
func NewEager(registry *job.Registry, opts ...Option) *Eager {
	o := defaultOptions()
	o.apply(opts)
	return &Eager{
		registry:   registry,
		serializer: connector.NewSerializer(o.codec),
		opts:       o,
	}
}

// Enqueue runs j's handler now and returns its error. Unknown names fail
// with sqjobs.ErrUnknownJob.
func (b *Eager) Enqueue(ctx context.Context, queue string, j *job.Job) error {
	if j.ID == "" {
		j.ID = id.NewJobID()
	}
	def, ok := b.registry.Get(j.Name)
	if !ok {
		return fmt.Errorf("sqjobs/broker: eager %q: %w", j.Name, sqjobs.ErrUnknownJob)
	}

	body, err := b.serializer.Serialize(j)
	if err != nil {
		return err
	}
	decoded, err := b.serializer.Deserialize(body, queue, job.Metadata{
		Retries:   1,
		CreatedOn: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	b.opts.extensions.EmitJobEnqueued(ctx, queue, decoded)
	return def.Handler.Run(ctx, decoded)
}
