// Package server is the HTTP route layer over the download service.
//
// Every endpoint answers with the envelope
//
//	{"success": true, "data": ..., "error": ""}
//
// and maps domain errors onto status codes: unknown tasks are 404, bad input
// is 400, invalid state transitions are 409 and a full cancellation pool is
// 503.
//
// # Progress Stream
//
// GET /api/tasks/{id}/stream is a server-sent event stream. It opens with
// connected and the current projection, then sends progress on every
// published change and heartbeat on a fixed interval. It ends with
// completed, paused or timeout. Any write resets the idle timer, so only a
// connection that stops receiving heartbeats times out.
package server
