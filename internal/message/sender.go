package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

type senderKind uint8

const (
	senderUnset senderKind = iota
	senderMe
	senderPhone
	senderOther
)

// Sender identifies who wrote a message. It is exactly one of me, an E.164
// phone number, or some other raw handle. Construct it with Me, Phone or
// Other; the zero value is invalid.
type Sender struct {
	kind  senderKind
	value string
}

// Me is the local account holder.
func Me() Sender { return Sender{kind: senderMe} }

// Phone is an E.164 phone number. The caller is responsible for the format.
func Phone(e164 string) Sender { return Sender{kind: senderPhone, value: e164} }

// Other is any sender that is neither me nor a phone number.
func Other(raw string) Sender { return Sender{kind: senderOther, value: raw} }

func (s Sender) IsMe() bool    { return s.kind == senderMe }
func (s Sender) IsPhone() bool { return s.kind == senderPhone }
func (s Sender) IsOther() bool { return s.kind == senderOther }
func (s Sender) Valid() bool   { return s.kind != senderUnset }

// Value returns the phone number or raw handle; empty for me.
func (s Sender) Value() string { return s.value }

// Key is a stable identity used for participant sets.
func (s Sender) Key() string {
	switch s.kind {
	case senderMe:
		return "me"
	case senderPhone:
		return s.value
	case senderOther:
		return "other:" + s.value
	default:
		return ""
	}
}

// Kind names the populated variant.
func (s Sender) Kind() string {
	switch s.kind {
	case senderMe:
		return "me"
	case senderPhone:
		return "phone"
	case senderOther:
		return "other"
	default:
		return ""
	}
}

func (s Sender) String() string { return s.Key() }

var errUnsetSender = errors.New("sender is not set")

func (s Sender) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case senderMe:
		return []byte(`{"me":true}`), nil
	case senderPhone:
		return json.Marshal(map[string]string{"phone": s.value})
	case senderOther:
		return json.Marshal(map[string]string{"other": s.value})
	default:
		return nil, errUnsetSender
	}
}

func (s *Sender) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("sender: expected exactly one of me, phone, other; got %d fields", len(obj))
	}
	for k, v := range obj {
		switch k {
		case "me":
			var b bool
			if err := json.Unmarshal(v, &b); err != nil || !b {
				return fmt.Errorf("sender: me must be true")
			}
			*s = Me()
		case "phone", "other":
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				return fmt.Errorf("sender: %s must be a string", k)
			}
			if k == "phone" {
				*s = Phone(str)
			} else {
				*s = Other(str)
			}
		default:
			return fmt.Errorf("sender: unknown variant %q", k)
		}
	}
	return nil
}
