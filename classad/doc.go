// Package classad implements the attribute/value records ("ads") stored and
// served by collectd.
//
// An ad is written as a bracketed list of assignments:
//
//	[ Name = "slot1"; Cpus = 4; Memory = 8192.0; Arch = {"X86_64", "ARM"};
//	  Requirements = Cpus >= 2 && Owner == "alice" ]
//
// Attribute names are case-insensitive and keep their spelling and insertion
// order for unparsing. Values are literals (integers, reals, strings,
// booleans, undefined, lists and nested ads) or expressions. Expressions are
// compiled with expr-lang/expr and evaluated in a two-ad environment: bare
// names resolve in MY first and TARGET second, and MY.x / TARGET.x select a
// side explicitly.
//
// # Related Packages
//
//   - github.com/signadot/adcoll/system/collectd/storage - stores ads and views
package classad
