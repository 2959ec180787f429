// Package proxy implements the restart-tolerant link between agents and the
// interactive backend. It is stateless by design: agents hold a connection
// to the proxy, the proxy holds only a backend URL, and backend restarts are
// absorbed by exponential-backoff retries on connection errors. Any HTTP
// response from the backend, success or handled error, passes through
// verbatim without retry.
package proxy
