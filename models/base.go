package models

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/factory_backend/utils"
	"go.opentelemetry.io/otel"
)

// Actor is whoever is responsible for a change (recorded on movements and budgets).
type Actor struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

var SystemActor = Actor{Id: 0, Name: "System"}

func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return SystemActor
	}
	actor := SystemActor
	if id, ok := utils.GetUserIdFromContext(ctx); ok {
		actor.Id = id
	}
	if name, ok := utils.GetUserNameFromContext(ctx); ok && name != "" {
		actor.Name = name
	}
	return actor
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

var tracer = otel.Tracer("factory_backend/models")
