// Package httputil holds the JSON response helpers, path and query parsing,
// and middleware used by the tenancy ops server.
//
// Service errors map to HTTP status codes by kind:
//
//	apperrors.KindResourceNotFound  404
//	apperrors.KindInvalidOperation  400
//	apperrors.KindAccessDenied      403
//	anything else                   500, without the error text
//
// MetricsMiddleware reads the matched route, so it is installed with
// router.Use. The rest compose with Chain around the router:
//
//	router.Use(httputil.MetricsMiddleware(metrics))
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//	)(router)
package httputil
