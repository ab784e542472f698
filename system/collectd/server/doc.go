// Package server implements the collectd daemon.
//
// A Server accepts TCP connections and runs one Session per connection.
// Each session reads an opcode, hands it to a Dispatcher and acts on the
// outcome. The dispatcher routes queries to the query streamer, read-only
// requests to the read-only handler and everything else to a Mutator,
// which by default is the transactional mutation handler.
//
// Mutations run inside storage.Storage.Update, so playing a record and
// logging it form one critical section. Replies are rendered under the
// storage lock and written to the connection after it is released.
//
// # Related Packages
//
//   - github.com/signadot/adcoll/system/collectd/api - opcodes, codes and acks
//   - github.com/signadot/adcoll/system/collectd/storage - storage layer
//   - github.com/signadot/adcoll/system/collectd/wire - message framing
package server
