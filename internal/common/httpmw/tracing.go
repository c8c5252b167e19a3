package httpmw

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Context keys handlers set to annotate the request span.
const (
	AgentCommandKey = "mcphost.agent.command"
	AgentStateKey   = "mcphost.agent.state"
	ErrorCodeKey    = "mcphost.error.code"
)

const healthRoute = "/health"

// OtelTracing wraps each control API request in a server span. Requests that
// ran an agent command are named after it ("agent restart") and carry the
// resulting state; health checks are not traced.
func OtelTracing(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == healthRoute {
			c.Next()
			return
		}
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPResponseStatusCodeKey.Int(status),
		)
		if cmd := c.GetString(AgentCommandKey); cmd != "" {
			span.SetName("agent " + cmd)
			span.SetAttributes(attribute.String(AgentCommandKey, cmd))
		}
		if state := c.GetString(AgentStateKey); state != "" {
			span.SetAttributes(attribute.String(AgentStateKey, state))
		}
		code := c.GetString(ErrorCodeKey)
		if code != "" {
			span.SetAttributes(attribute.String(ErrorCodeKey, code))
		}
		if status >= 500 {
			if code == "" {
				code = fmt.Sprintf("HTTP %d", status)
			}
			span.SetStatus(codes.Error, code)
		}
	}
}
