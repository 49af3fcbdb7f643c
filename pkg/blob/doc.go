/*
Package blob implements the framed content format and the hps:// URL
scheme.

Every published blob carries its author in-band. The frame is a single
run of bytes prepended to the payload:

	# HSYST P2P SERVICE### START:# USER: <username># KEY: <base64 pem>### :END START<payload>

The content hash of a blob is the SHA-256 of this framed form, while
the author signature covers only the raw payload. Name records use a
separate multi-line document layout; its bytes, indentation included,
are fixed by the protocol because the record hash covers them.
*/
package blob
