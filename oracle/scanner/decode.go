package scanner

import (
	"encoding/json"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/GPTx-global/near-oracle/oracle/types"
)

// Payload is the raw byte result of the contract view call.
type Payload []byte

// Text is a payload known to be valid UTF-8. For the oracle contract it is a
// JSON string literal that holds the request document.
type Text string

// Document is the unwrapped request document.
type Document string

// Decode runs the full pipeline Payload -> Text -> Document -> RequestSet.
func Decode(p Payload) (*types.RequestSet, error) {
	text, err := DecodeText(p)
	if err != nil {
		return nil, err
	}

	doc, err := UnwrapDocument(text)
	if err != nil {
		return nil, err
	}

	return ParseRequestSet(doc)
}

// DecodeText validates the payload as UTF-8.
func DecodeText(p Payload) (Text, error) {
	out, _, err := transform.Bytes(encoding.UTF8Validator, p)
	if err != nil {
		return "", errorsmod.Wrapf(types.ErrDecode, "payload is not valid UTF-8: %v", err)
	}

	return Text(out), nil
}

// UnwrapDocument parses the outer layer, which must be a JSON string literal,
// and returns its unescaped value.
func UnwrapDocument(t Text) (Document, error) {
	if !gjson.Valid(string(t)) {
		return "", errorsmod.Wrap(types.ErrParse, "outer layer is not valid JSON")
	}

	outer := gjson.Parse(string(t))
	if outer.Type != gjson.String {
		return "", errorsmod.Wrapf(types.ErrParse, "outer layer is %s, want string", outer.Type)
	}

	return Document(outer.String()), nil
}

// ParseRequestSet parses the inner document. Objects are keyed by member name
// and arrays by element index. Entries that are not objects never match;
// a null entry is a parse error.
func ParseRequestSet(d Document) (*types.RequestSet, error) {
	if !gjson.Valid(string(d)) {
		return nil, errorsmod.Wrap(types.ErrParse, "request document is not valid JSON")
	}

	doc := gjson.Parse(string(d))

	var set *types.RequestSet
	switch {
	case doc.IsObject():
		set = types.NewRequestSet(0)
	case doc.IsArray():
		set = types.NewRequestSet(len(doc.Array()))
	default:
		return nil, errorsmod.Wrapf(types.ErrParse, "request document is %s, want object or array", doc.Type)
	}

	var (
		index int
		err   error
	)
	doc.ForEach(func(key, value gjson.Result) bool {
		id := key.String()
		if doc.IsArray() {
			id = strconv.Itoa(index)
		}
		index++

		if value.Type == gjson.Null {
			err = errorsmod.Wrapf(types.ErrParse, "request %s is null", id)
			return false
		}

		req := types.PendingRequest{
			ID:     id,
			Fields: json.RawMessage(value.Raw),
		}
		// scalars and arrays are kept but carry no spec
		if value.IsObject() {
			if spec := value.Get("request_spec"); spec.Type == gjson.String {
				req.RequestSpec = spec.String()
				req.HasSpec = true
			}
		}

		if addErr := set.Add(req); addErr != nil {
			err = errorsmod.Wrap(types.ErrParse, addErr.Error())
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}
