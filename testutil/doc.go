// Package testutil provides fixtures shared by skystream's package tests.
//
// Firehose fixtures build real wire data, not mocks: EncodeBlock produces DAG-CBOR
// blocks and their CIDs, CARBuilder assembles CARv1 archives, and CommitFrame,
// InfoFrame and ErrorFrame produce the two-object binary websocket frames the relay
// sends. Post, Like, Repost and Follow return record maps in the shape the network
// writes them.
//
// MockBroker records every publish for assertions and can inject failures.
//
// Example:
//
//	car := testutil.NewCARBuilder(t)
//	c := car.AddRecord(testutil.Post("hello", "2024-01-01T00:00:00Z", "en"))
//	frame := testutil.CommitFrame(t, testutil.Commit{
//	    Seq:  42,
//	    Repo: "did:plc:abc",
//	    Ops:  []testutil.Op{{Action: "create", Path: "app.bsky.feed.post/xyz", CID: &c}},
//	    CAR:  car.Bytes(),
//	})
package testutil
