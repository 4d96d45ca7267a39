/*
Package glkote implements the wire layer shared by the play server and the
transcript server: message framing for the RemGlk subprocess stream, and the
typed update envelope that the GlkOte transcript hook posts to a recorder.

RemGlk writes exactly one JSON document to stdout for every JSON document it
reads from stdin, but the stream carries no length prefix or delimiter, and a
single document usually spans several lines. The Framer recovers document
boundaries by reparsing growing prefixes of the buffered lines; see the
Framer docs for the accepted limitations of that scheme.

The update envelope is parsed into typed structs at the ingestion boundary so
that shape errors surface as ErrMalformedUpdate instead of leaking into the
materialized game state. Window and line objects retain their raw JSON,
because viewers must receive exactly what the GlkOte library sent, including
layout fields this package does not interpret.
*/
package glkote
