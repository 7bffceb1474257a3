// Package stream reassembles streamed model output into ordered text and data
// parts for a core.StreamSink.
//
// In text mode the Assembler buffers only what could still turn into an
// inline artifact marker:
//
//	a := stream.New(sink, func(o *stream.Options) { o.Pipeline = pipeline })
//	_ = a.ProcessTextChunk(ctx, `See <artifact:ref id="a1" tool="c`)
//	_ = a.ProcessTextChunk(ctx, `1"/> for details.`)
//	_ = a.Finalize(ctx)
//
// In object mode ProcessObjectDelta merges partial objects and emits a
// component once its props repeat unchanged; "Text" components stream their
// prose as it grows.
package stream
