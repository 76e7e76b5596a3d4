// Package api serves the worker's read-only HTTP surface: task documents
// from the task store and the live progress stream from the broadcaster.
//
// Routes:
//
//	GET /healthz                  liveness plus dependency checks
//	GET /tasks                    recent tasks, optional ?status= and ?limit=
//	GET /tasks/:id                one task document
//	GET /tasks/:id/history        retained progress events
//	GET /tasks/:id/events         server-sent events, history then live
//	GET /tasks/:id/ws             the same stream over a websocket
//
// When api.jwt_secret is set every /tasks route requires an HS256 bearer
// token, passed in the Authorization header or, for EventSource and
// websocket clients that cannot set headers, the token query parameter.
// Streams end after the task's terminal status event.
package api
