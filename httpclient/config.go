package httpclient

import (
	"fmt"

	"github.com/spf13/viper"
)

// Settings is the file-loadable form of a client's configuration.
//
// Example YAML:
//
//	ius:
//	  service_name: ius
//	  connect_timeout: 2s
//	  read_timeout: 15s
//	  max_conns_per_route: 10
//	  breaker:
//	    timeout: 30s
//	    consecutive_failures: 3
//	  rate_limit:
//	    requests_per_second: 50
//	    burst: 5
//	    wait_on_limit: true
type Settings struct {
	Config `mapstructure:",squash"`

	ServiceName string          `mapstructure:"service_name"`
	Breaker     BreakerConfig   `mapstructure:"breaker"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// DefaultSettings returns DefaultConfig with the default breaker and no
// rate limit.
func DefaultSettings() Settings {
	return Settings{
		Config:  DefaultConfig(),
		Breaker: DefaultBreakerConfig(),
	}
}

// Options converts s into client options.
//
// Example:
//
//	s, err := httpclient.LoadSettings(v, "ius")
//	client, err := httpclient.New(baseURL, append(s.Options(), httpclient.WithLogger(logger))...)
func (s Settings) Options() []Option {
	opts := []Option{
		WithConfig(s.Config),
		WithBreakerConfig(s.Breaker),
		WithRateLimit(s.RateLimit),
	}
	if s.ServiceName != "" {
		opts = append(opts, WithServiceName(s.ServiceName))
	}
	return opts
}

// LoadSettings reads Settings under key from v. Keys missing from v keep
// their DefaultSettings value. Durations accept Go duration strings ("1.5s").
// An empty key reads from the root.
func LoadSettings(v *viper.Viper, key string) (Settings, error) {
	s := DefaultSettings()

	var err error
	if key == "" {
		err = v.Unmarshal(&s)
	} else {
		err = v.UnmarshalKey(key, &s)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("%w: decode %q: %w", ErrConfiguration, key, err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadConfig reads the timeout and pool Config under key from v.
func LoadConfig(v *viper.Viper, key string) (Config, error) {
	s, err := LoadSettings(v, key)
	if err != nil {
		return Config{}, err
	}
	return s.Config, nil
}
