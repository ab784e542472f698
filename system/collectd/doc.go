// Package collectd is the ad collection daemon: a shared, queryable set of
// ads with transactional mutation and a write-ahead log, served over a
// framed binary protocol.
//
// # Related Packages
//
//   - github.com/signadot/adcoll/system/collectd/api - opcodes, error codes and acks
//   - github.com/signadot/adcoll/system/collectd/wire - message framing
//   - github.com/signadot/adcoll/system/collectd/storage - ads, views, transactions and the log
//   - github.com/signadot/adcoll/system/collectd/server - request dispatch and handlers
//   - github.com/signadot/adcoll/system/collectd/client - client operations and result cursors
package collectd
