package codec

// ICodec is the interface for all record and view encoders. The catalog uses
// one codec to persist rows in the table store, and collaborators use one to
// render registry views for clients; both sides only see this interface.
type ICodec interface {
	// Encode encodes a value into a byte array.
	// It returns the encoded byte array and an error if any.
	Encode(v interface{}) ([]byte, error)
	// Decode decodes a byte array into the value pointed to by v.
	// It returns an error if any.
	Decode(data []byte, v interface{}) error
	// Name returns the identifier of the codec (e.g. "json").
	Name() string
}
