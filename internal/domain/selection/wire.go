package selection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type wireCandidate struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	StartTime       label  `json:"start_time"`
	EndTime         label  `json:"end_time"`
	Duration        number `json:"duration"`
	EngagementScore number `json:"engagement_score"`
}

// number accepts 45, 45.5 or "45".
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*n = number(f)
	return nil
}

// label accepts "01:05" or a bare number of seconds.
type label string

func (l *label) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = label(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*l = ""
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("invalid time label %s", b)
	}
	*l = label(b)
	return nil
}
