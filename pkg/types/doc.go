/*
Package types defines the core data structures used throughout the HPS CLI.

This package contains the wire-level event payloads exchanged with HPS
servers, the rows persisted in the local store, and the tagged error
values surfaced to command handlers. All wire payloads are JSON objects;
binary fields (public keys, signatures, content) travel base64-encoded
and hashes are lowercase hex.

The event names mirror the server protocol exactly: a client emits
events such as request_pow_challenge or publish_content and receives
the matching terminal event (pow_challenge, publish_result, ...).
Payload field names are fixed by the server and must not be renamed.
*/
package types
