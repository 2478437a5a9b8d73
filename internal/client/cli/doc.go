// Package cli provides the interactive MittiMoney command-line client.
//
// Every command writes to the Local Store first and works with no network;
// the Sync Manager replays the changes in the background. The prompt shows
// the active user, connectivity and the number of entries waiting for
// replay.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits
// or the input ends.
package cli
