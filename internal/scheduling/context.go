package scheduling

import "context"

type operationIDKey struct{}

// WithOperationID tags ctx with the id of the logical operation a request
// belongs to, so every attempt of a retried operation logs the same id.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationID returns the id set by WithOperationID, or "".
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}
