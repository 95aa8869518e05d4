package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGOBCodec creates a new codec using gob encoding
func NewGOBCodec() ICodec {
	return &gobCodecImpl{}
}

// gobCodecImpl implements the ICodec interface using gob encoding
type gobCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docs see codec.ICodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl) Decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (g gobCodecImpl) Name() string {
	return "gob"
}
