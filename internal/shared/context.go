package shared

import "context"

type businessContextKey struct{}

// ContextWithBusiness stores the tenant (business) identifier in context.
func ContextWithBusiness(ctx context.Context, businessID int64) context.Context {
	return context.WithValue(ctx, businessContextKey{}, businessID)
}

// BusinessFromContext extracts the tenant identifier; zero when absent.
func BusinessFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(businessContextKey{}).(int64)
	return id
}
