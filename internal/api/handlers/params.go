package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/baharkarakas/phonehealth-backend/internal/api/httpx"
)

// callbackParams collects gateway callback fields from the query string and,
// for POST, from a form or JSON body. Body values win over the query.
func callbackParams(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	if r.Method != http.MethodPost || r.Body == nil || r.ContentLength == 0 {
		return out, nil
	}

	if httpx.IsJSON(r) {
		var body map[string]any
		if err := httpx.DecodeJSON(r, &body); err != nil {
			return nil, err
		}
		for k, v := range body {
			if v != nil {
				out[k] = fmt.Sprint(v)
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

// pick returns the first non-empty value among keys.
func pick(p map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p[k]); v != "" {
			return v
		}
	}
	return ""
}

func transactionID(p map[string]string) string {
	return pick(p, "transaction_id", "tran_id")
}

func validationReference(p map[string]string) string {
	return pick(p, "validation_reference", "val_id")
}
