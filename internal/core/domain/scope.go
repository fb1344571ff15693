package domain

import "context"

// AuditScope identifies who and which review a data access belongs to.
type AuditScope struct {
	ReviewKey string
	Actor     string
	PatientID string
}

type auditScopeKey struct{}

func WithAuditScope(ctx context.Context, scope AuditScope) context.Context {
	return context.WithValue(ctx, auditScopeKey{}, scope)
}

func AuditScopeFromContext(ctx context.Context) AuditScope {
	if ctx == nil {
		return AuditScope{}
	}
	scope, _ := ctx.Value(auditScopeKey{}).(AuditScope)
	return scope
}
