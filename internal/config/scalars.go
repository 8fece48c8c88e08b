package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so "30s"/"5m" strings work in every
// supported config format (yaml, toml via TextUnmarshaler, json).
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(time.Duration(n))
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", string(b))
	}
	*d = Duration(time.Duration(n))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// ContextSize is a token count that accepts plain integers or strings with
// a 'k' suffix ("32k" = 32768 tokens).
type ContextSize int

func (c ContextSize) Tokens() int { return int(c) }

func (c ContextSize) String() string {
	if c != 0 && c%1024 == 0 {
		return strconv.Itoa(int(c)/1024) + "k"
	}
	return strconv.Itoa(int(c))
}

func parseContextSize(s string) (ContextSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("context size cannot be empty")
	}
	if last := s[len(s)-1]; last == 'k' || last == 'K' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid context size %q", s)
		}
		return ContextSize(n * 1024), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid context size %q", s)
	}
	return ContextSize(n), nil
}

func (c *ContextSize) UnmarshalText(b []byte) error {
	v, err := parseContextSize(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c ContextSize) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ContextSize) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		*c = ContextSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid context size: %s", value.Value)
	}
	return c.UnmarshalText([]byte(s))
}

func (c ContextSize) MarshalYAML() (interface{}, error) { return c.String(), nil }

func (c *ContextSize) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*c = ContextSize(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid context size: %s", string(b))
	}
	return c.UnmarshalText([]byte(s))
}

func (c ContextSize) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }
