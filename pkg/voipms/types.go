package voipms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// API response statuses.
const (
	StatusSuccess            = "success"
	StatusNoSMS              = "no_sms"
	StatusNoDID              = "no_did"
	StatusInvalidCredentials = "invalid_credentials"
	StatusMissingCredentials = "missing_credentials"
	StatusIPNotEnabled       = "ip_not_enabled"
	StatusAPINotEnabled      = "api_not_enabled"
)

// API methods.
const (
	MethodGetSMS      = "getSMS"
	MethodSendSMS     = "sendSMS"
	MethodGetDIDsInfo = "getDIDsInfo"
)

// DateLayout is the format of timestamps in getSMS responses.
const DateLayout = "2006-01-02 15:04:05"

// queryDateLayout is the format of the from/to parameters of getSMS.
const queryDateLayout = "2006-01-02"

// SMSType selects the direction returned by getSMS.
type SMSType int

const (
	SMSTypeAll SMSType = iota
	SMSTypeReceived
	SMSTypeSent
)

// GetSMSRequest bounds a getSMS query. From and To are calendar days in UTC,
// both inclusive.
type GetSMSRequest struct {
	DID  string
	From time.Time
	To   time.Time
	Type SMSType
}

// SMS is a message as reported by the API.
type SMS struct {
	ID       int64
	Date     time.Time
	Incoming bool
	DID      string
	Contact  string
	Message  string
}

// DIDInfo describes a number on the account.
type DIDInfo struct {
	DID         string
	Description string
	SMSEnabled  bool
}

// flexInt64 accepts both JSON numbers and numeric strings; the API is not
// consistent about which it returns.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", string(data), err)
	}
	*f = flexInt64(v)
	return nil
}

// flexBool accepts true/false as well as "1"/"0" and 1/0.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.Trim(data, `"`)) {
	case "1", "true", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

type statusResponse struct {
	Status string `json:"status"`
}

type rawSMS struct {
	ID      flexInt64 `json:"id"`
	Date    string    `json:"date"`
	Type    flexInt64 `json:"type"`
	DID     string    `json:"did"`
	Contact string    `json:"contact"`
	Message string    `json:"message"`
}

type getSMSResponse struct {
	Status string   `json:"status"`
	SMS    []rawSMS `json:"sms"`
}

type sendSMSResponse struct {
	Status string    `json:"status"`
	SMS    flexInt64 `json:"sms"`
}

type rawDID struct {
	DID         string   `json:"did"`
	Description string   `json:"description"`
	SMSEnabled  flexBool `json:"sms_enabled"`
}

type getDIDsInfoResponse struct {
	Status string   `json:"status"`
	DIDs   []rawDID `json:"dids"`
}

func (r rawSMS) toSMS() (SMS, error) {
	date, err := time.ParseInLocation(DateLayout, r.Date, time.UTC)
	if err != nil {
		return SMS{}, fmt.Errorf("invalid date %q for message %d: %w", r.Date, r.ID, err)
	}
	return SMS{
		ID:       int64(r.ID),
		Date:     date,
		Incoming: r.Type == 1,
		DID:      r.DID,
		Contact:  r.Contact,
		Message:  r.Message,
	}, nil
}

func decodeStatus(body []byte) (string, error) {
	var s statusResponse
	if err := json.Unmarshal(body, &s); err != nil {
		return "", err
	}
	return s.Status, nil
}
