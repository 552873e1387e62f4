package secrets

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformed = errors.New("malformed secret")
	ErrNoKey     = errors.New("secret bundle has no such key")
)

// Port accepts both 5432 and "5432".
type Port int

func (p *Port) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.Wrapf(err, "port %s", string(b))
	}
	*p = Port(n)
	return nil
}

// Payload is the JSON stored in Secrets Manager for one database.
type Payload struct {
	Host                 string `json:"host" validate:"required"`
	Port                 Port   `json:"port" validate:"omitempty,min=1,max=65535"`
	Username             string `json:"username" validate:"required"`
	Password             string `json:"password"`
	DBInstanceIdentifier string `json:"dbInstanceIdentifier"`
	// SSH is a PEM private key used for the bastion tunnel.
	SSH string `json:"ssh"`
}

var validate = validator.New()

// Parse decodes raw. With a non-empty key, raw is a bundle object and key selects one payload.
func Parse(raw, key string) (*Payload, error) {
	doc := []byte(raw)
	if key != "" {
		var bundle map[string]json.RawMessage
		if err := json.Unmarshal(doc, &bundle); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "secret bundle is not a JSON object"), ErrMalformed)
		}
		entry, ok := bundle[key]
		if !ok {
			return nil, errors.Wrapf(ErrNoKey, "key %q", key)
		}
		doc = entry
	}

	p := &Payload{}
	if err := json.Unmarshal(doc, p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "secret is not valid JSON"), ErrMalformed)
	}
	if err := validate.Struct(p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "secret failed validation"), ErrMalformed)
	}
	return p, nil
}
