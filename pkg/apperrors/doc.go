// Package apperrors defines the error taxonomy shared by the membership and
// RBAC services.
//
// Every failure a service surfaces to its caller carries one of four kinds:
//
//	ResourceNotFound  - a referenced entity is absent, or belongs to another tenant
//	InvalidOperation  - a business rule rejected the request
//	AccessDenied      - the actor is restricted
//	Unknown           - an invariant was violated after all checks passed
//
// Callers branch on the kind with errors.Is:
//
//	if errors.Is(err, apperrors.ErrInvalidOperation) {
//		// 400-class response
//	}
//
// or extract it with KindOf.
package apperrors
