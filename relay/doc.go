//Package main
/*
The `relay` binary serves the BuddyBot realtime relay. Chat clients open a WebSocket connection to the `/ws` endpoint,
authenticate with the session token issued by the account endpoints and then exchange JSON messages with the relay.

Every message carries a type, an optional payload and a request id. Two dialects are supported: the query dialect
(query/response) and the AI request dialect (ai_request/ai_response). Both share the auth, ping, speak and error
messages. A peer has at most one question in flight, a second one is rejected until the answer arrives.

Answers come from the configured assistant backend and can be converted to audio with the speech backend. Optionally
the server can use TLS, either with static certificate files or with Let's Encrypt.
*/
package main
