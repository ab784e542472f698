// Package client implements the client side of the collection protocol.
//
// A Client carries ad, view and transaction requests over one connection:
//
//	c, err := client.Dial(ctx, "localhost:9618", nil)
//	name, err := c.OpenTransaction("")
//	err = c.AddClassAd("slot1", ad)
//	outcome, err := c.CloseTransaction(name, true)
//
// Cursors post queries and read their results. A StreamCursor hands each
// result out once; a BufferedCursor keeps them for navigation.
package client
