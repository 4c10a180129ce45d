// Package sf deduplicates concurrent loads of the same key.
//
// The durable event store uses it so that a burst of cache misses for one
// aggregate stream results in a single backend read:
//
//	flight := sf.New[[]es.Envelope]()
//	events, err := flight.Do(ctx, streamKey, func(ctx context.Context) ([]es.Envelope, error) {
//	    return backend.ReadStream(ctx, key, 1)
//	})
package sf
