// Package api is the HTTP client for the mailbox API. It mints a fresh
// bearer token for every request, rate-limits outbound traffic and retries
// transient failures with exponential backoff.
//
// # Client Creation
//
//   - [NewClient]: struct-based configuration.
//   - [New]: functional options.
//
// Both require a base URL and a [TokenSource]. The address lookup route is
// called without a token; every other route sends
// "Authorization: Bearer <token>".
//
// # Routes
//
//   - GET  /mailbox/addresses/:addresses  [Client.GetMailboxKeys]
//   - POST /mailbox/message               [Client.SendEncryptedMail]
//   - POST /mailbox/external/message      [Client.SendExternalMail]
//   - GET  /mailbox/messages              [Client.GetNewMail]
//   - POST /mailbox/messages/read         [Client.MarkAsSynced]
//
// # Retry Behavior
//
// By default requests are retried up to 3 times on 408, 429, 500, 502, 503
// and 504, and on network errors. The delay doubles with each attempt
// starting at [Config.RetryDelay], with 20% jitter.
//
// # Error Handling
//
// HTTP failures are returned as [*APIError], which matches [ErrUnauthorized],
// [ErrNotFound] and [ErrRateLimited] under errors.Is. Failures before a
// response arrives are returned as [*NetworkError].
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
