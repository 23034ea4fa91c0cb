/*
Package tracing records request spans for debugging.

Every HTTP request and every inbound event on a websocket connection gets a
span. Finished spans are handed to a buffered collector that logs them at
debug level, or at warn level when they carry an error.

# Usage

	tracer := tracing.New(logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "ws.changeCommand")
	defer tracer.Submit(span)

# Trace Format

The X-Trace-ID header seeds the trace of a request and is echoed on the
response. Trace and span ids are random UUIDs.
*/
package tracing
