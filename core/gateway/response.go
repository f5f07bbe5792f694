// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemagate/core/apperr"
	"github.com/relabs-tech/schemagate/core/logger"
)

// plain returns v as plain JSON values (maps, slices, strings, numbers, booleans)
func plain(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func bytesToEtag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// ifNoneMatchFound returns true if etag is found in ifNoneMatch. The format of ifNoneMatch is one
// of the following:
// If-None-Match: "<etag_value>"
// If-None-Match: "<etag_value>", "<etag_value>", …
// If-None-Match: *
func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(strings.TrimPrefix(strings.Trim(s, " "), "W/"), "\"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}

// respond emits the response of the request and returns the status code
func (g *Gateway) respond(s *requestState) int {
	if s.err != nil {
		e := apperr.From(s.err)
		if e.Status >= http.StatusInternalServerError {
			s.rlog.WithError(s.err).Errorf("Error 4721: %s %s failed after stage %s", s.httpMethod, s.r.URL.Path, s.stage)
		} else {
			s.rlog.Debugln("request rejected:", e.Error())
		}
		e.Write(s.w)
		return e.Status
	}

	body, err := json.MarshalWithOption(s.result, json.DisableHTMLEscape())
	if err != nil {
		logger.FromContext(s.ctx).WithError(err).Errorln("Error 4722: cannot marshal response")
		apperr.Internal(err).Write(s.w)
		return http.StatusInternalServerError
	}

	if s.r.Method == http.MethodGet {
		etag := bytesToEtag(body)
		// ETag must also be provided in headers in case If-None-Match is set
		s.w.Header().Set("Etag", etag)
		if ifNoneMatchFound(s.r.Header.Get("If-None-Match"), etag) {
			s.w.WriteHeader(http.StatusNotModified)
			return http.StatusNotModified
		}
	}
	s.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	s.w.WriteHeader(s.status)
	s.w.Write(body)
	return s.status
}
