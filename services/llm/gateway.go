package llm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chatrelay/chatrelay/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("chatrelay.llm")

// ModelGateway routes a model key to its backend family client.
//
// One gateway is constructed at process start and shared across requests;
// it holds no per-request state. Family clients are registered once and a
// key resolving to an unregistered family is an invocation error, which
// lets a deployment run with only one provider configured.
type ModelGateway struct {
	table   ModelTable
	clients map[string]LLMClient
}

// NewModelGateway builds a gateway over the given table. Clients maps a
// family tag to its client; families without a client are rejected at
// invoke time, not construction time.
func NewModelGateway(table ModelTable, clients map[string]LLMClient) *ModelGateway {
	return &ModelGateway{table: table, clients: clients}
}

// Resolve maps a model key to its backend spec. Used by handlers to
// validate the key before any frame is written.
func (g *ModelGateway) Resolve(key string) (ModelSpec, error) {
	return g.table.Resolve(key)
}

// Invoke issues one streaming generation call for the given model key and
// forwards normalized events to the callback in arrival order.
func (g *ModelGateway) Invoke(ctx context.Context, modelKey string,
	messages []datatypes.ModelMessage, params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "ModelGateway.Invoke")
	defer span.End()

	spec, err := g.table.Resolve(modelKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("llm.model_key", modelKey),
		attribute.String("llm.backend_id", spec.BackendID),
		attribute.String("llm.family", spec.Family),
		attribute.Int("llm.num_messages", len(messages)),
	)

	client, ok := g.clients[spec.Family]
	if !ok {
		err := fmt.Errorf("no client configured for family %q", spec.Family)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := client.ChatStream(ctx, spec.BackendID, messages, params, callback); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
