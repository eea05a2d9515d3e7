package registry

import (
	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/errors"
)

// Update types on the wire.
const (
	UpdateTypeChange  = "update"
	UpdateTypeRemoved = "removed"
)

// Update is the wire envelope for one property notification. Value is null
// for removals. The field names double as JSON keys; the CBOR encoder
// reuses the same tags.
type Update struct {
	Type     string          `json:"type"`
	Entity   string          `json:"entity"`
	Property string          `json:"property"`
	Value    encodable.Value `json:"value"`
}

// ChangeUpdate builds the envelope for a value change.
func ChangeUpdate(ident PropertyIdent, value encodable.Value) Update {
	return Update{
		Type:     UpdateTypeChange,
		Entity:   ident.Entity,
		Property: ident.Name,
		Value:    value,
	}
}

// RemovalUpdate builds the envelope for a property removal.
func RemovalUpdate(ident PropertyIdent) Update {
	return Update{
		Type:     UpdateTypeRemoved,
		Entity:   ident.Entity,
		Property: ident.Name,
		Value:    encodable.Null(),
	}
}

// Ident reconstructs the property identity from the envelope.
func (u Update) Ident() PropertyIdent {
	return PropertyIdent{Entity: u.Entity, Name: u.Property}
}

// Encode marshals the envelope in the given session encoding.
func (u Update) Encode(enc encodable.Encoding) ([]byte, error) {
	data, err := enc.Marshal(u)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Update", "Encode", "marshal envelope")
	}
	return data, nil
}

// DecodeUpdate unmarshals an envelope in the given encoding.
func DecodeUpdate(enc encodable.Encoding, data []byte) (Update, error) {
	var u Update
	if err := enc.Unmarshal(data, &u); err != nil {
		return Update{}, errors.WrapInvalid(err, "Update", "DecodeUpdate", "unmarshal envelope")
	}
	return u, nil
}
