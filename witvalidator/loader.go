package witvalidator

import (
	"bufio"
	"bytes"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/ouziel-slama/kontor/kerrors"
)

// tomlSettings matches TOML keys to struct fields exactly, with no case
// folding; every field of the Document types names its key in a toml
// tag, so keys are the lowercase tag names ("world", "export", ...).
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
}

// LoadFile decodes a world-IR TOML document from path.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kerrors.Validation("witvalidator: opening "+path, err)
	}
	defer f.Close()

	var doc Document
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&doc); err != nil {
		return nil, kerrors.Validation("witvalidator: decoding "+path, err)
	}
	return &doc, nil
}

// Decode parses a world-IR TOML document already held in memory.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := tomlSettings.NewDecoder(bufio.NewReader(bytes.NewReader(data))).Decode(&doc); err != nil {
		return nil, kerrors.Validation("witvalidator: decoding document", err)
	}
	return &doc, nil
}
