package config

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strconv"
)

// TaskOptions are the daemon-side options of a download. Zero values mean "not set" so
// layers can be merged: global defaults < category < per-task overrides.
type TaskOptions struct {
	Dir                    string `json:"dir,omitempty" mapstructure:"dir"`
	Out                    string `json:"out,omitempty" mapstructure:"out"`
	Split                  int    `json:"split,omitempty" mapstructure:"split"`
	MaxConnectionPerServer int    `json:"max_connection_per_server,omitempty" mapstructure:"max_connection_per_server"`
	MaxDownloadLimit       string `json:"max_download_limit,omitempty" mapstructure:"max_download_limit"`
	MaxUploadLimit         string `json:"max_upload_limit,omitempty" mapstructure:"max_upload_limit"`
	UserAgent              string `json:"user_agent,omitempty" mapstructure:"user_agent"`
	Referer                string `json:"referer,omitempty" mapstructure:"referer"`
	Timeout                int    `json:"timeout,omitempty" mapstructure:"timeout"`                 // seconds
	ConnectTimeout         int    `json:"connect_timeout,omitempty" mapstructure:"connect_timeout"` // seconds

	// Extra carries daemon options without a named field, keyed by daemon option name.
	Extra map[string]string `json:"extra,omitempty" mapstructure:"extra"`
}

// Daemon option names.
const (
	OptDir                    = "dir"
	OptOut                    = "out"
	OptSplit                  = "split"
	OptMaxConnectionPerServer = "max-connection-per-server"
	OptMaxDownloadLimit       = "max-download-limit"
	OptMaxUploadLimit         = "max-upload-limit"
	OptUserAgent              = "user-agent"
	OptReferer                = "referer"
	OptTimeout                = "timeout"
	OptConnectTimeout         = "connect-timeout"
	OptPause                  = "pause"
)

var speedLimitRe = regexp.MustCompile(`^[0-9]+[KkMm]?$`)

// Validate checks ranges the daemon would otherwise reject at submission time.
func (o TaskOptions) Validate() error {
	var errs []error
	if o.Split < 0 {
		errs = append(errs, fmt.Errorf("split must be >= 1, got %d", o.Split))
	}
	if o.MaxConnectionPerServer < 0 || o.MaxConnectionPerServer > 16 {
		errs = append(errs, fmt.Errorf("max_connection_per_server must be in 1..16, got %d", o.MaxConnectionPerServer))
	}
	if o.MaxDownloadLimit != "" && !speedLimitRe.MatchString(o.MaxDownloadLimit) {
		errs = append(errs, fmt.Errorf("max_download_limit %q is not a speed (e.g. 512K, 2M)", o.MaxDownloadLimit))
	}
	if o.MaxUploadLimit != "" && !speedLimitRe.MatchString(o.MaxUploadLimit) {
		errs = append(errs, fmt.Errorf("max_upload_limit %q is not a speed (e.g. 512K, 2M)", o.MaxUploadLimit))
	}
	if o.Timeout < 0 || o.ConnectTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	return errors.Join(errs...)
}

// Merge layers options in order; a set field in a later layer wins.
func Merge(layers ...TaskOptions) TaskOptions {
	var out TaskOptions
	for _, l := range layers {
		if l.Dir != "" {
			out.Dir = l.Dir
		}
		if l.Out != "" {
			out.Out = l.Out
		}
		if l.Split != 0 {
			out.Split = l.Split
		}
		if l.MaxConnectionPerServer != 0 {
			out.MaxConnectionPerServer = l.MaxConnectionPerServer
		}
		if l.MaxDownloadLimit != "" {
			out.MaxDownloadLimit = l.MaxDownloadLimit
		}
		if l.MaxUploadLimit != "" {
			out.MaxUploadLimit = l.MaxUploadLimit
		}
		if l.UserAgent != "" {
			out.UserAgent = l.UserAgent
		}
		if l.Referer != "" {
			out.Referer = l.Referer
		}
		if l.Timeout != 0 {
			out.Timeout = l.Timeout
		}
		if l.ConnectTimeout != 0 {
			out.ConnectTimeout = l.ConnectTimeout
		}
		if len(l.Extra) > 0 {
			if out.Extra == nil {
				out.Extra = make(map[string]string, len(l.Extra))
			}
			maps.Copy(out.Extra, l.Extra)
		}
	}
	return out
}

// ToMap renders the set fields as daemon option name -> value.
func (o TaskOptions) ToMap() map[string]string {
	m := make(map[string]string)
	maps.Copy(m, o.Extra)
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	putInt := func(k string, v int) {
		if v != 0 {
			m[k] = strconv.Itoa(v)
		}
	}
	put(OptDir, o.Dir)
	put(OptOut, o.Out)
	putInt(OptSplit, o.Split)
	putInt(OptMaxConnectionPerServer, o.MaxConnectionPerServer)
	put(OptMaxDownloadLimit, o.MaxDownloadLimit)
	put(OptMaxUploadLimit, o.MaxUploadLimit)
	put(OptUserAgent, o.UserAgent)
	put(OptReferer, o.Referer)
	putInt(OptTimeout, o.Timeout)
	putInt(OptConnectTimeout, o.ConnectTimeout)
	return m
}

// OptionsFromMap is the inverse of ToMap. Unknown names land in Extra.
func OptionsFromMap(m map[string]string) (TaskOptions, error) {
	var o TaskOptions
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	atoi := func(k, v string) (int, error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("option %s: %q is not an integer", k, v)
		}
		return n, nil
	}

	var err error
	for _, k := range keys {
		v := m[k]
		switch k {
		case OptDir:
			o.Dir = v
		case OptOut:
			o.Out = v
		case OptSplit:
			o.Split, err = atoi(k, v)
		case OptMaxConnectionPerServer:
			o.MaxConnectionPerServer, err = atoi(k, v)
		case OptMaxDownloadLimit:
			o.MaxDownloadLimit = v
		case OptMaxUploadLimit:
			o.MaxUploadLimit = v
		case OptUserAgent:
			o.UserAgent = v
		case OptReferer:
			o.Referer = v
		case OptTimeout:
			o.Timeout, err = atoi(k, v)
		case OptConnectTimeout:
			o.ConnectTimeout, err = atoi(k, v)
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]string)
			}
			o.Extra[k] = v
		}
		if err != nil {
			return TaskOptions{}, err
		}
	}
	return o, o.Validate()
}
