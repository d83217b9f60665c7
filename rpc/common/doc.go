// Package common provides the data structures shared by the piebus RPC
// server and client.
//
// Key Components:
//
//   - Message: the single structure used for requests and responses of all
//     facade operations. Errors travel as a store.RetCode plus message so
//     the client can restore the typed api errors.
//
//   - MessageType: enumeration of the facade operations, encoded as snake
//     case strings in JSON.
//
//   - ServerConfig: node configuration plus the HTTP endpoint, serializer
//     and log level of a server.
//
//   - ClientConfig: endpoints, timeouts and retry behaviour of a client.
//
//   - Logger: a dragonboat logger.ILogger that formats every line as
//     "LEVEL | package | message". InitLoggers installs it for dragonboat
//     and for the loggers of this module.
package common
