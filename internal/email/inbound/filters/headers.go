package filters

import (
	"bytes"
	"mime"
	"net/mail"
	"net/textproto"
	"strings"
)

var wordDecoder = &mime.WordDecoder{}

func readHeader(raw []byte) (mail.Header, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return msg.Header, nil
}

// headerValues returns every occurrence of key, decoded.
func headerValues(h mail.Header, key string) []string {
	var out []string
	for _, v := range h[textproto.CanonicalMIMEHeaderKey(key)] {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if decoded, err := wordDecoder.DecodeHeader(v); err == nil {
			v = decoded
		}
		out = append(out, v)
	}
	return out
}

// headerAddresses returns the lowercase addresses found in the given headers.
func headerAddresses(h mail.Header, keys ...string) []string {
	var out []string
	for _, key := range keys {
		for _, v := range h[textproto.CanonicalMIMEHeaderKey(key)] {
			list, err := mail.ParseAddressList(v)
			if err == nil {
				for _, a := range list {
					out = append(out, strings.ToLower(a.Address))
				}
				continue
			}
			for _, field := range strings.FieldsFunc(v, func(r rune) bool {
				return r == ',' || r == ';' || r == ' ' || r == '\t'
			}) {
				field = strings.Trim(field, "<>\"'")
				if strings.Contains(field, "@") {
					out = append(out, strings.ToLower(field))
				}
			}
		}
	}
	return out
}
