// Package api defines the collectd protocol vocabulary: opcodes, error
// codes, request and reply attribute names, and the ack builder.
//
// # Related Packages
//
//   - github.com/signadot/adcoll/system/collectd/server - Server implementation
//   - github.com/signadot/adcoll/system/collectd/client - Client implementation
package api
