package tracing

import (
	"github.com/gin-gonic/gin"
)

// TraceHeader carries the trace id in both directions
const TraceHeader = "X-Trace-ID"

// HTTPMiddleware opens a span per request and echoes its trace id
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTraceID(c.Request.Context(), TraceID(c.GetHeader(TraceHeader)))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		tracer.Submit(span)
	}
}
