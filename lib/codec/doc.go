// Package codec provides pluggable encoders for catalog rows and registry
// views. The table store only deals in byte slices, so the catalog encodes
// its Package/Release/Owner rows through an ICodec; the same interface is the
// seam through which the serving layer renders registry views without this
// core knowing the wire format.
//
// Two implementations are provided:
//
//   - JSON (default): human-inspectable, schema-tolerant, used for rows that
//     administrators may want to look at directly.
//   - GOB: denser and faster for process-local encoding such as snapshots or
//     view caches.
package codec
