// Package api provides the small slice of the Discord REST API the gateway
// engine needs: gateway URL discovery.
//
// Endpoints:
//   - GET /gateway: public gateway URL, no authentication
//   - GET /gateway/bot: bot gateway URL, recommended shard count,
//     session start limit
//
// The /gateway/bot response is cached and concurrent lookups collapse into
// one request, so a fleet of shards starting at once costs a single call.
package api
