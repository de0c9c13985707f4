package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes, counted
// over the whole "ns:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "ns:action[:payload]". The payload
// is kept as-is.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// CheckedData is Data with the Telegram size limit enforced.
func CheckedData(ns, action, payload string) (string, error) {
	d := Data(ns, action, payload)
	if len(d) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return d, nil
}
