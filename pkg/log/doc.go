// Package log provides structured logging for an actyx node using
// zerolog: JSON or console output, a package-level global logger
// initialized once via Init, and component/context child loggers
// (WithComponent, WithNodeID, WithStreamID, WithPeerID) so call sites
// never construct a zerolog.Logger by hand.
package log
